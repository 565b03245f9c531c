package commands

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "upcast",
		Short: "Batch media upload distribution engine",
	}

	rootCmd.AddCommand(
		NewServeCommand(),
		NewSubmitCommand(),
		NewStatusCommand(),
		NewLogsCommand(),
		NewCancelCommand(),
		NewVersionCommand(),
	)

	return rootCmd
}
