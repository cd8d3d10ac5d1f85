package internal

import (
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MrSnakeDoc/chiron/internal/logger"
)

func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chiron",
		Short: "Keep a local copy of the Chiron dashboard in sync",
		Long: `Chiron mirrors the dashboard summary (hero gates and timeline) from the
dashboard API. It combines a REST fetch, a server-push stream and a
persisted cache so the last known dashboard is always available.`,
		Example: `chiron summary
chiron watch --transport websocket`,
		Run: func(cmd *cobra.Command, _ []string) {
			if v, _ := cmd.Flags().GetBool("version"); v {
				PrintVersion(cmd.OutOrStdout())
				return
			}
			_ = cmd.Help()
		},
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			logger.ConfigureLoggerFromFlags()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.Flags().BoolP("version", "v", false, "Print version information")

	pf := cmd.PersistentFlags()
	pf.CountVarP(&logger.FlagVerboseCount, "verbose", "V", "Increase log verbosity (-V, -VV)")
	pf.BoolVarP(&logger.FlagQuiet, "quiet", "q", false, "Only log errors")
	pf.BoolVarP(&logger.FlagSilent, "silent", "s", false, "Discard all logs")
	pf.BoolVar(&logger.FlagJSON, "json-logs", false, "Emit logs as JSON")
	pf.String("config", "", "Path to the config file (default ~/.config/chiron/config.yml, or $CHIRON_CONFIG)")
	cmd.MarkFlagsMutuallyExclusive("quiet", "silent")

	RegisterSubCommands(cmd)

	return cmd
}

func Execute() error {
	root := NewRootCmd()

	if os.Getenv("COMP_LINE") != "" ||
		(len(os.Args) > 1 && strings.HasPrefix(os.Args[1], "__complete")) {
		return root.Execute()
	}

	if err := root.Execute(); err != nil {
		logger.Debug("Failed to execute root command: %v", err)
		return err
	}
	return nil
}
