package cli

import (
	"context"
	"os"

	"go.uber.org/zap"

	"github.com/CzarX86/CoupaDownloads-sub000/internal/scheduler"
	"github.com/CzarX86/CoupaDownloads-sub000/pkg/utils"
)

// IsWorkerMode reports whether argv requests the hidden self-re-exec
// worker mode. This must be checked before cobra ever parses os.Args —
// the worker process has no root-command flags to offer and no config
// file to read on its own; it gets its Config as a JSON blob on stdin.
func IsWorkerMode(args []string) bool {
	return len(args) > 1 && args[1] == scheduler.WorkerFlag
}

// RunWorkerMode runs the worker side of the self-re-exec protocol and
// returns the process exit code.
func RunWorkerMode(ctx context.Context) int {
	logger, err := utils.NewLogger(utils.LoggerConfig{Level: "info", OutputPath: "stderr", Format: "console"},
		utils.WithComponent("worker"))
	if err != nil {
		logger = zap.NewNop()
	}
	defer logger.Sync()

	if err := scheduler.RunWorker(ctx, os.Stdin, os.Stdout, logger); err != nil {
		logger.Error("worker exited with error", zap.Error(err))
		return 1
	}
	return 0
}
