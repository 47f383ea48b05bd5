package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/ebetica/batch-shipyard/app/cli/cmd/client"
	"github.com/ebetica/batch-shipyard/pkg/api"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

type submitOpts struct {
	watch bool // --watch
}

// NewSubmitCommand returns a new instance of a shipyard command
func NewSubmitCommand() *cobra.Command {
	var submitOpts submitOpts
	command := &cobra.Command{
		Use:   "submit",
		Short: "submit a job",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			cli, err := client.New()
			if err != nil {
				log.Fatal(err)
			}

			jobFile, err := os.Open(args[0])
			if err != nil {
				log.Fatal(errors.Errorf("cannot open file %s", args[0]))
			}
			var spec api.JobSpec
			if err := json.NewDecoder(jobFile).Decode(&spec); err != nil {
				log.Fatal(errors.Wrapf(err, "cannot decode file %s as Job Specification", args[0]))
			}

			ctx := context.Background()
			jobID, err := cli.Submit(ctx, spec)
			if err != nil {
				log.Fatal(err)
			}

			if submitOpts.watch {
				if err := watch(ctx, jobID); err != nil {
					log.Fatal(err)
				}
			} else {
				fmt.Printf("Job submitted with ID %s\n", jobID)
			}
		},
	}
	command.Flags().BoolVarP(&submitOpts.watch, "watch", "w", false, "watch the job until it completes")

	return command
}
