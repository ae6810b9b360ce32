// Package main is the entry point for the livepackager CLI.
package main

import (
	"os"

	"github.com/jmylchreest/livepackager/cmd/livepackager/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
