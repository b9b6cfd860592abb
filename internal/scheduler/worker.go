package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/CzarX86/CoupaDownloads-sub000/internal/browser"
	"github.com/CzarX86/CoupaDownloads-sub000/internal/config"
	"github.com/CzarX86/CoupaDownloads-sub000/internal/folder"
	"github.com/CzarX86/CoupaDownloads-sub000/internal/model"
	"github.com/CzarX86/CoupaDownloads-sub000/internal/poprocessor"
)

// processorFunc abstracts poprocessor.Processor.Process so RunWorker's
// protocol loop is testable without a real browser.
type processorFunc func(ctx context.Context, item model.PoWorkItem) model.PoResult

// RunWorker is the self-re-exec'd worker process's entry point, running
// in its own independent address space. It decodes one Config value from
// stdin, starts its own BrowserSession, then decodes a stream of
// PoWorkItem values and encodes a PoResult for each in turn — plain
// concatenated JSON values, requiring no length-prefixing or explicit
// delimiters.
func RunWorker(ctx context.Context, stdin io.Reader, stdout io.Writer, logger *zap.Logger) error {
	dec := json.NewDecoder(stdin)

	var cfg config.Config
	if err := dec.Decode(&cfg); err != nil {
		return fmt.Errorf("worker: failed to decode config: %w", err)
	}

	session, err := browser.Start(ctx, &cfg, logger)
	if err != nil {
		return fmt.Errorf("worker: %w", err)
	}
	defer session.Quit()

	folders := folder.New(cfg.DownloadBaseDir, logger)
	proc := poprocessor.New(session, folders, &cfg, logger)

	return runWorkerLoop(ctx, dec, stdout, proc.Process, logger)
}

func runWorkerLoop(ctx context.Context, dec *json.Decoder, stdout io.Writer, process processorFunc, logger *zap.Logger) error {
	enc := json.NewEncoder(stdout)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		var item model.PoWorkItem
		if err := dec.Decode(&item); err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("worker: failed to decode work item: %w", err)
		}

		result := process(ctx, item)
		if err := enc.Encode(&result); err != nil {
			logger.Error("worker: failed to encode result", zap.Error(err))
			return fmt.Errorf("worker: failed to encode result: %w", err)
		}
	}
}
