package cmd

import (
	"context"
	"log"
	"os"

	"github.com/ebetica/batch-shipyard/app/cli/cmd/client"
	"github.com/ebetica/batch-shipyard/app/cli/cmd/common"
	"github.com/ebetica/batch-shipyard/pkg/api"

	"github.com/spf13/cobra"
)

// NewGetCommand returns a new instance of a shipyard command
func NewGetCommand() *cobra.Command {
	command := &cobra.Command{
		Use:  "get",
		Args: cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			cli, err := client.New()
			if err != nil {
				log.Fatal(err)
			}

			state, err := cli.JobState(context.Background(), args[0])
			if err != nil {
				log.Fatal(err)
			}
			common.PrintJob(os.Stdout, api.JobState(state), common.PrintOptions{})
		},
	}
	return command
}
