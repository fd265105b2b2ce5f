// Command titlechain runs the land title registry and its ledger tooling.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/titlechain/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
