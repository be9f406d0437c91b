// Package main is the entry point for the digwatch application.
package main

import (
	"os"

	"github.com/jmylchreest/digwatch/cmd/digwatch/cmd"
	"github.com/jmylchreest/digwatch/internal/pipeline"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(pipeline.ExitCode(err))
	}
}
