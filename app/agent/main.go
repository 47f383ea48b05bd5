package main

import (
	"github.com/ebetica/batch-shipyard/pkg/agent"
)

func main() {
	agent.Start()
}
