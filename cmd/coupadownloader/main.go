// Command coupadownloader drives the Coupa attachment-download run: the
// parent process parses flags and dispatches work; re-exec'd with the
// hidden scheduler.WorkerFlag, the same binary instead drives one
// browser session and speaks the stdin/stdout PoWorkItem/PoResult
// protocol (internal/scheduler).
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/CzarX86/CoupaDownloads-sub000/internal/cli"
)

var version = "dev"

func main() {
	if cli.IsWorkerMode(os.Args) {
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		os.Exit(cli.RunWorkerMode(ctx))
	}

	if err := cli.Execute(version); err != nil {
		os.Exit(1)
	}
}
