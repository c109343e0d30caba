// Package main provides the entry point for the lmworker CLI.
package main

import (
	"fmt"
	"os"

	"github.com/lm-plugin/worker/cmd/lmworker/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
