// File: cmd/vulnsync/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/xkilldash9x/vulnsync-cli/cmd"
	"github.com/xkilldash9x/vulnsync-cli/internal/observability"
)

const panicLogFile = "panic.log"

// osExit allows mocking os.Exit in tests.
var osExit = os.Exit

func main() {
	defer handlePanic()

	// Listen for interrupt signals (SIGINT, SIGTERM) for graceful shutdown.
	// A partial run is safe: reconciliation is idempotent, so interrupted
	// work completes on the next invocation.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := cmd.Execute(ctx)
	observability.Sync()

	switch {
	case err == nil:
		return
	case errors.Is(err, context.Canceled):
		osExit(0) // Exit cleanly on graceful shutdown.
	case cmd.IsPartialFailure(err):
		osExit(2)
	default:
		osExit(1)
	}
}

// handlePanic writes the panic and stack trace to a dedicated log file so a
// crash in a scheduled run leaves something to debug.
func handlePanic() {
	if r := recover(); r != nil {
		observability.Sync()

		panicMessage := fmt.Sprintf("panic: %v\n\n%s", r, debug.Stack())
		if err := os.WriteFile(panicLogFile, []byte(panicMessage), 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "CRITICAL: Failed to write panic log: %v\n", err)
			fmt.Fprintf(os.Stderr, "Panic details:\n%s\n", panicMessage)
			osExit(1)
			return
		}
		fmt.Fprintf(os.Stderr, "CRASH DETECTED. Details logged to %s\n", panicLogFile)
		osExit(1)
	}
}
