package cmd

import (
	"context"
	"log"
	"time"

	"github.com/ebetica/batch-shipyard/app/cli/cmd/client"
	"github.com/ebetica/batch-shipyard/app/cli/cmd/common"
	"github.com/ebetica/batch-shipyard/pkg/api"

	tm "github.com/buger/goterm"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// NewWatchCommand returns a new instance of a shipyard command
func NewWatchCommand() *cobra.Command {
	command := &cobra.Command{
		Use:  "watch",
		Args: cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			if err := watch(context.Background(), args[0]); err != nil {
				log.Fatal(err)
			}
		},
	}
	return command
}

func watch(ctx context.Context, jobID string) error {
	cli, err := client.New()
	if err != nil {
		return errors.Wrap(err, "cannot create shipyard client")
	}
	tm.Clear()
	for {
		state, err := cli.JobState(ctx, jobID)
		if err != nil {
			return errors.Wrapf(err, "cannot get state of job %s", jobID)
		}
		tm.MoveCursor(1, 1)
		common.PrintJob(tm.Screen, api.JobState(state), common.PrintOptions{})
		tm.Flush()
		if state.Status.Finished() {
			break
		}
		time.Sleep(1 * time.Second)
	}
	return nil
}
