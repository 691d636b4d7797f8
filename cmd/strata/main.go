// Command strata is the operator CLI for the strata build engine.
package main

import (
	"os"

	"github.com/roach88/strata/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		os.Exit(cli.GetExitCode(err))
	}
}
