package main

import (
	"os"

	"github.com/ebetica/batch-shipyard/app/cli/cmd"
)

func main() {
	if err := cmd.NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
