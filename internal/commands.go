package internal

import (
	"github.com/spf13/cobra"

	"github.com/MrSnakeDoc/chiron/internal/middleware"
)

var defaultCommands = []middleware.CommandFactory{
	middleware.UseMiddlewareChain(middleware.LoadConfig)(NewSummaryCmd),
	middleware.UseMiddlewareChain(middleware.LoadConfig)(NewWatchCmd),
	NewCacheCmd,
	NewConfigCmd,
	NewVersionCmd,
}

func RegisterSubCommands(cmd *cobra.Command) {
	for _, factory := range defaultCommands {
		cmd.AddCommand(factory())
	}
}
