package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/pokerjest/animeleech/internal/worker"
)

// exitRestart tells the process manager to start a fresh worker.
const exitRestart = 3

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, worker.ErrRestartRequested):
		return exitRestart
	case errors.Is(err, context.Canceled):
		return 1
	default:
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
}
