package cmd

import (
	"context"
	"fmt"
	"log"

	"github.com/ebetica/batch-shipyard/app/cli/cmd/client"

	"github.com/spf13/cobra"
)

// NewCancelCommand returns a new instance of a shipyard command
func NewCancelCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "cancel",
		Short: "cancel a running job",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			cli, err := client.New()
			if err != nil {
				log.Fatal(err)
			}
			if err := cli.Cancel(context.Background(), args[0]); err != nil {
				log.Fatal(err)
			}
			fmt.Printf("Job %s cancelled\n", args[0])
		},
	}
	return command
}
