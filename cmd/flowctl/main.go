// Package main provides the entry point for the flowctl CLI.
package main

import (
	"os"

	"github.com/flowsmith/flowctl/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
