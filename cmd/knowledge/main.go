// Package main provides the entry point for the knowledge CLI.
package main

import (
	"os"

	"github.com/jmswen/knowledge/cmd/knowledge/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
