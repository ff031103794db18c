// Package main is the entry point for the threattriage CLI tool.
package main

import (
	"os"

	"github.com/quiet-owl-labs/threattriage/cmd/triagectl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
