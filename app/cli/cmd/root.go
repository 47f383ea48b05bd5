package cmd

import (
	"github.com/spf13/cobra"
)

// NewRootCommand returns a new instance of a shipyard command
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "shipyard",
		Short: "shipyard is the command line interface to the batch shipyard controller",
		Run: func(cmd *cobra.Command, args []string) {

		},
	}

	rootCmd.AddCommand(NewSubmitCommand())
	rootCmd.AddCommand(NewWatchCommand())
	rootCmd.AddCommand(NewGetCommand())
	rootCmd.AddCommand(NewCancelCommand())
	return rootCmd
}
