package middleware

import (
	"fmt"

	"github.com/spf13/cobra"
)

const (
	CtxKeyConfig contextKey = "config"
)

type CommandFactory func() *cobra.Command

// MiddlewareFunc runs before a command. It calls next to continue the chain
// or returns an error to stop it.
type MiddlewareFunc func(cmd *cobra.Command, args []string, next func(cmd *cobra.Command, args []string) error) error

type MiddlewareChain func(factory CommandFactory) CommandFactory

type contextKey string

// UseMiddlewareChain runs middlewares in order from the command's PreRunE,
// then the command's own PreRunE if it has one.
func UseMiddlewareChain(middlewares ...MiddlewareFunc) MiddlewareChain {
	mws := append([]MiddlewareFunc(nil), middlewares...)

	return func(factory CommandFactory) CommandFactory {
		return func() *cobra.Command {
			cmd := factory()
			final := cmd.PreRunE
			if final == nil {
				final = func(*cobra.Command, []string) error { return nil }
			}

			next := final
			for i := len(mws) - 1; i >= 0; i-- {
				mw, rest := mws[i], next
				next = func(c *cobra.Command, a []string) error { return mw(c, a, rest) }
			}
			cmd.PreRunE = next
			return cmd
		}
	}
}

// Get fetches a value a middleware stored in the command context.
func Get[T any](cmd *cobra.Command, key contextKey) (T, error) {
	var zero T

	ctx := cmd.Context()
	if ctx == nil {
		return zero, fmt.Errorf("command context is nil")
	}

	val := ctx.Value(key)
	if val == nil {
		return zero, fmt.Errorf("context value %q is nil", key)
	}

	casted, ok := val.(T)
	if !ok {
		return zero, fmt.Errorf("context value %q has wrong type: %T", key, val)
	}
	return casted, nil
}
