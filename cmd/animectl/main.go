// Package main provides the animectl CLI application.
package main

import (
	"fmt"
	"os"

	"github.com/awnumar/memguard"

	"github.com/forest6511/animectl/internal/ui"
)

func main() {
	// Purge locked key buffers on SIGINT/SIGTERM and on normal exit.
	memguard.CatchInterrupt()
	defer memguard.Purge()

	registerCompletionFunctions()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, ui.Error.Sprint("Error: ")+friendlyError(err).Error())
		memguard.Purge()
		os.Exit(1)
	}
}
