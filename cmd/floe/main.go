// Package main provides the entry point for the floe CLI.
package main

import (
	"os"

	"github.com/leonunix/floe/cmd/floe/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
