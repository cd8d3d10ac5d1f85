package internal

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MrSnakeDoc/chiron/internal/cache"
	"github.com/MrSnakeDoc/chiron/internal/config"
	"github.com/MrSnakeDoc/chiron/internal/dashboard"
	"github.com/MrSnakeDoc/chiron/internal/engine"
	"github.com/MrSnakeDoc/chiron/internal/logger"
	"github.com/MrSnakeDoc/chiron/internal/middleware"
	"github.com/MrSnakeDoc/chiron/internal/render"
	"github.com/MrSnakeDoc/chiron/internal/store"
	"github.com/MrSnakeDoc/chiron/internal/utils"
)

func NewSummaryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Fetch the dashboard summary once and print it",
		Long: `Fetch the dashboard summary once, store it in the local cache and print it.

When the API cannot be reached the last cached dashboard is printed instead,
marked stale, and the command still exits with an error.

Examples:
  chiron summary            # Print hero gates and timeline as tables
  chiron summary --json     # Print the snapshot as JSON`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := middleware.Get[*config.Config](cmd, middleware.CtxKeyConfig)
			if err != nil {
				return err
			}
			asJSON, err := cmd.Flags().GetBool("json")
			if err != nil {
				return err
			}
			return runSummary(cmd, cfg, asJSON)
		},
	}

	cmd.Flags().Bool("json", false, "Print the snapshot as JSON instead of tables")
	return cmd
}

func runSummary(cmd *cobra.Command, cfg *config.Config, asJSON bool) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	p, err := store.Open(cfg.Cache, config.CacheKey)
	if err != nil {
		return fmt.Errorf("open cache: %w", err)
	}
	defer utils.Close(p)

	c := engine.NewCache(cfg, p, nil)
	snap, fetchErr := engine.NewFetcher(cfg).Fetch(ctx)
	if fetchErr == nil {
		c.Set(snap, cache.SourceFetch)
		if err := c.Flush(ctx); err != nil {
			logger.Warn("could not persist the dashboard: %v", err)
		}
	} else {
		if err := c.Seed(ctx); err != nil {
			logger.Debug("could not restore cached dashboard: %v", err)
		}
		c.Invalidate()
	}

	entry := c.Entry()
	if !entry.Present {
		return fetchErr
	}
	if fetchErr != nil {
		logger.Warn("showing cached dashboard: %v", fetchErr)
	}

	if asJSON {
		data, err := dashboard.Marshal(entry.Snapshot)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintln(cmd.OutOrStdout(), string(data)); err != nil {
			return err
		}
	} else if err := render.New(cmd.OutOrStdout()).Entry(entry); err != nil {
		return err
	}
	return fetchErr
}
