package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/xkilldash9x/wayfinder/cmd"
	"github.com/xkilldash9x/wayfinder/internal/observability"
)

const panicLogFile = "panic.log"

// Define function variables for dependency injection/mocking in tests.
var (
	osWriteFile = os.WriteFile
	osExit      = os.Exit
)

func main() {
	defer handlePanic()

	// Set up a context that listens for interrupt signals (SIGINT, SIGTERM) for graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	osExit(exitCode(cmd.Execute(ctx)))
}

// exitCode maps the command result to the process status. A session
// cancelled by a signal still exits cleanly.
func exitCode(err error) int {
	if err == nil || errors.Is(err, context.Canceled) {
		return 0
	}
	return 1
}

// handlePanic writes the panic and stack trace to panic.log before exiting.
func handlePanic() {
	r := recover()
	if r == nil {
		return
	}
	observability.Sync()

	panicMessage := fmt.Sprintf("panic: %v\n\n%s", r, debug.Stack())
	if err := osWriteFile(panicLogFile, []byte(panicMessage), 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "CRITICAL: Failed to write panic log: %v\n", err)
		fmt.Fprintf(os.Stderr, "Panic details:\n%s\n", panicMessage)
	} else {
		fmt.Fprintf(os.Stderr, "wayfinder crashed. Details logged to %s\n", panicLogFile)
	}
	osExit(2)
}
