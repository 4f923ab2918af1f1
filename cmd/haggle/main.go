// File: cmd/haggle/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/xkilldash9x/haggle-cli/cmd"
	"github.com/xkilldash9x/haggle-cli/internal/observability"
)

const panicLogFile = "panic.log"

// exitPanic is the exit status after an unrecovered panic (EX_SOFTWARE).
const exitPanic = 70

// Define function variables for dependency injection/mocking in tests.
var (
	osWriteFile = os.WriteFile
	// Allows mocking os.Exit in tests.
	osExit = os.Exit
)

func main() {
	defer handlePanic()

	// SIGINT and SIGTERM cancel the run; the engine still shuts the browser
	// down and reports the step that was interrupted.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := cmd.ExitCode(cmd.Execute(ctx))
	stop()
	osExit(code)
}

// handlePanic writes the panic and its stack to panicLogFile and exits with
// exitPanic. It must be deferred directly by main.
func handlePanic() {
	r := recover()
	if r == nil {
		return
	}
	observability.Sync()

	panicMessage := fmt.Sprintf("panic: %v\n\n%s", r, debug.Stack())
	if err := osWriteFile(panicLogFile, []byte(panicMessage), 0o644); err != nil {
		// If logging fails, print to stderr as a fallback.
		fmt.Fprintf(os.Stderr, "CRITICAL: Failed to write panic log: %v\n", err)
		fmt.Fprintf(os.Stderr, "Panic details:\n%s\n", panicMessage)
		osExit(exitPanic)
		return
	}

	fmt.Fprintf(os.Stderr, "CRASH: %v\nDetails logged to %s\n", r, panicLogFile)
	osExit(exitPanic)
}
