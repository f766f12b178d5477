package main

import (
	"os"

	_ "go.uber.org/automaxprocs"

	"github.com/pilot-dev/pilot/internal/cli"
)

func main() {
	if err := cli.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
