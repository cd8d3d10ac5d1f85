package internal

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MrSnakeDoc/chiron/internal/config"
	"github.com/MrSnakeDoc/chiron/internal/logger"
	"github.com/MrSnakeDoc/chiron/internal/middleware"
	"github.com/MrSnakeDoc/chiron/internal/utils"
)

func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Create or print the configuration",
	}
	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(middleware.UseMiddlewareChain(middleware.LoadConfig)(newConfigShowCmd)())
	return cmd
}

func newConfigInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default configuration file",
		Long: `Write the default configuration to ~/.config/chiron/config.yml, or to the
path given with --config.

Examples:
  chiron config init
  chiron config init --force --config ./chiron.yml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, _ := cmd.Flags().GetString("config")
			if path == "" {
				def, err := config.DefaultPath()
				if err != nil {
					return err
				}
				path = def
			}

			force, _ := cmd.Flags().GetBool("force")
			exists, err := utils.FileExists(path)
			if err != nil {
				return err
			}
			if exists && !force {
				return fmt.Errorf("config file %s already exists (use --force to overwrite)", path)
			}

			if err := config.Default().Save(path); err != nil {
				return err
			}
			logger.Success("Configuration written to %s", path)
			return nil
		},
	}
	cmd.Flags().BoolP("force", "f", false, "Overwrite an existing config file")
	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration (defaults, file and environment)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := middleware.Get[*config.Config](cmd, middleware.CtxKeyConfig)
			if err != nil {
				return err
			}
			data, err := cfg.Encode()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}
