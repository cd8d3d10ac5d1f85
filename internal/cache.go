package internal

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrSnakeDoc/chiron/internal/cache"
	"github.com/MrSnakeDoc/chiron/internal/config"
	"github.com/MrSnakeDoc/chiron/internal/dashboard"
	"github.com/MrSnakeDoc/chiron/internal/engine"
	"github.com/MrSnakeDoc/chiron/internal/errs"
	"github.com/MrSnakeDoc/chiron/internal/logger"
	"github.com/MrSnakeDoc/chiron/internal/middleware"
	"github.com/MrSnakeDoc/chiron/internal/render"
	"github.com/MrSnakeDoc/chiron/internal/store"
	"github.com/MrSnakeDoc/chiron/internal/utils"
)

func NewCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or delete the persisted dashboard",
	}

	withConfig := middleware.UseMiddlewareChain(middleware.LoadConfig)
	cmd.AddCommand(withConfig(newCacheShowCmd)())
	cmd.AddCommand(withConfig(newCacheClearCmd)())
	return cmd
}

func newCacheShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the persisted dashboard and its age",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := cacheConfig(cmd, "cache show")
			if err != nil {
				return err
			}
			return withPersister(cfg, func(p store.Persister) error {
				return showCache(cmd, cfg, p)
			})
		},
	}
	cmd.Flags().String("backend", "", "Cache backend to read: file or badger")
	return cmd
}

func newCacheClearCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete the persisted dashboard",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := cacheConfig(cmd, "cache clear")
			if err != nil {
				return err
			}
			return withPersister(cfg, func(p store.Persister) error {
				if err := engine.NewCache(cfg, p, nil).Clear(commandContext(cmd)); err != nil {
					return err
				}
				logger.Success("Cache cleared (%s backend)", cfg.Cache.Backend)
				return nil
			})
		},
	}
	cmd.Flags().String("backend", "", "Cache backend to clear: file or badger")
	return cmd
}

// cacheConfig applies --backend on top of the loaded configuration.
func cacheConfig(cmd *cobra.Command, name string) (*config.Config, error) {
	cfg, err := middleware.Get[*config.Config](cmd, middleware.CtxKeyConfig)
	if err != nil {
		return nil, err
	}

	backend, _ := cmd.Flags().GetString("backend")
	if !cmd.Flags().Changed("backend") {
		return cfg, nil
	}
	switch backend {
	case "file", "badger":
		cfg.Cache.Backend = backend
		return cfg, nil
	default:
		return nil, middleware.FlagComboError(errs.UnknownCacheBackend, name, backend)
	}
}

func withPersister(cfg *config.Config, fn func(store.Persister) error) error {
	p, err := store.Open(cfg.Cache, config.CacheKey)
	if err != nil {
		return fmt.Errorf("open cache: %w", err)
	}
	defer utils.Close(p)
	return fn(p)
}

func showCache(cmd *cobra.Command, cfg *config.Config, p store.Persister) error {
	rec, ok, err := p.Load(commandContext(cmd))
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if !ok {
		_, err := fmt.Fprintf(out, "No persisted dashboard (%s backend).\n", cfg.Cache.Backend)
		return err
	}

	r := render.New(out)
	age := time.Since(rec.WrittenAt)
	if _, err := fmt.Fprintf(out, "Key:     %s\nWritten: %s\nBackend: %s\n",
		rec.Key, r.Age(rec.WrittenAt), cfg.Cache.Backend); err != nil {
		return err
	}

	switch {
	case rec.Key != config.CacheKey:
		logger.Warn("record was written under another key and will be discarded on the next start")
	case age > cfg.Cache.Retention:
		logger.Warn("record is past retention (%s) and will be deleted on the next start", cfg.Cache.Retention)
	case age > cfg.Cache.MaxAge:
		logger.Warn("record is older than %s and will not be shown on start", cfg.Cache.MaxAge)
	}

	snap, err := dashboard.Parse(rec.Snapshot)
	if err != nil {
		return fmt.Errorf("persisted dashboard is unreadable: %w", err)
	}
	return r.Entry(cache.Entry{
		Snapshot:  snap,
		UpdatedAt: rec.WrittenAt,
		Source:    cache.SourcePersisted,
		Stale:     true,
		Present:   true,
	})
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
