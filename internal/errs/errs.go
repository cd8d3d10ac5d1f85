package errs

import (
	"errors"
	"fmt"
)

type Code string

const (
	// Sync failure taxonomy.
	Network     Code = "NETWORK"
	Validation  Code = "VALIDATION"
	StreamFault Code = "STREAM_FAULT"

	// CLI usage errors.
	NoStreamWithTransport Code = "NO_STREAM_WITH_TRANSPORT"
	UnknownCacheBackend   Code = "UNKNOWN_CACHE_BACKEND"
)

// Error is a classified failure. Op names the operation that failed
// ("fetch summary", "parse snapshot", "read stream").
type Error struct {
	Code Code
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	case e.Err != nil:
		return e.Err.Error()
	case e.Op != "":
		return e.Op + ": " + string(e.Code)
	default:
		return string(e.Code)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error carrying the same Code, so errors.Is(err, ErrNetwork)
// works through wrapping.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code && t.Op == "" && t.Err == nil
}

var (
	ErrNetwork     = &Error{Code: Network}
	ErrValidation  = &Error{Code: Validation}
	ErrStreamFault = &Error{Code: StreamFault}
)

func New(code Code, op string, err error) *Error {
	return &Error{Code: code, Op: op, Err: err}
}

func Networkf(op, format string, a ...any) *Error {
	return New(Network, op, fmt.Errorf(format, a...))
}

func Validationf(op, format string, a ...any) *Error {
	return New(Validation, op, fmt.Errorf(format, a...))
}

// CodeOf returns the Code of the first *Error in err's chain, or "".
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

var messages = map[Code]string{
	NoStreamWithTransport: `Invalid flag combination: cannot use --no-stream with --transport

Usage:
  - Poll the summary endpoint only:
      chiron %[1]s --no-stream
  - Stream over a specific transport:
      chiron %[1]s --transport websocket

Reason:
  --transport selects how the stream connects; --no-stream disables it.`,

	UnknownCacheBackend: `Unknown cache backend %[2]q

Usage:
  chiron %[1]s --backend file
  chiron %[1]s --backend badger`,
}

func Msg(code Code, a ...any) string {
	msg := messages[code]
	if msg == "" {
		msg = string(code)
	}
	return fmt.Sprintf(msg, a...)
}
