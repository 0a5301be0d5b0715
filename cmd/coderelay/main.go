// Package main provides the entry point for the coderelay CLI.
package main

import (
	"fmt"
	"os"

	"github.com/coderelay/coderelay/cmd/coderelay/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
