// Package scheduler owns the worker pool: capacity assessment, spawning
// self-re-exec'd worker processes, dispatching PoWorkItems, collecting
// PoResults, and orchestrating graceful shutdown and per-worker
// remediation.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/CzarX86/CoupaDownloads-sub000/internal/config"
	"github.com/CzarX86/CoupaDownloads-sub000/internal/model"
	"github.com/CzarX86/CoupaDownloads-sub000/pkg/utils"
)

// perWorkerMemoryBudgetMB is the conservative per-browser-session memory
// estimate the capacity assessor divides available RAM by.
const perWorkerMemoryBudgetMB = 512

// Applier persists one PoResult; satisfied by *internal/statestore.Store.
type Applier interface {
	ApplyResult(model.PoResult) error
}

// Renamer applies the status-suffix folder rename; satisfied by
// *internal/folder.Manager.
type Renamer interface {
	RenameWithStatus(folderPath string, statusCode model.StatusCode, separator string) (string, error)
}

// Summary tallies one Run's outcome counts for the caller to log or
// print at exit.
type Summary struct {
	Total         int
	Completed     int
	Partial       int
	NoAttachments int
	Failed        int
	PoNotFound    int
}

// Scheduler is the parent-process orchestrator. It never touches a
// browser directly — that's exclusively the worker subprocesses' job.
type Scheduler struct {
	cfg    *config.Config
	logger *zap.Logger
	spawn  func(slot int) (workerHandle, error)

	mu     sync.Mutex
	active map[int]workerHandle
}

// New builds a Scheduler that re-execs os.Args[0] to spawn workers.
func New(cfg *config.Config, logger *zap.Logger) *Scheduler {
	s := &Scheduler{cfg: cfg, logger: logger, active: make(map[int]workerHandle)}
	s.spawn = func(slot int) (workerHandle, error) { return spawnWorker(slot, cfg, logger) }
	return s
}

// Run dispatches workItems (after sampling and capacity assessment) to
// the worker pool, applies each PoResult via store then renames its
// destination folder via folders, and returns once all results have been
// applied or ctx is done and the drain window has expired.
func (s *Scheduler) Run(ctx context.Context, workItems []model.PoWorkItem, store Applier, folders Renamer) (Summary, error) {
	sampled := randomSample(workItems, s.cfg.RandomSampleSize)

	requested := s.cfg.EffectiveWorkerCount(len(sampled))
	workers := assessCapacity(requested, perWorkerMemoryBudgetMB)
	s.logger.Info("scheduler: effective worker count",
		zap.Int("requested", requested), zap.Int("chosen", workers), zap.Int("work_items", len(sampled)))

	var summary Summary
	if workers == 0 {
		return summary, nil
	}

	dispatch := make(chan model.PoWorkItem, workers)
	results := make(chan model.PoResult, workers)

	// errgroup fans in the per-slot worker-pool goroutines and the
	// dispatch producer; none of them ever return an error (respawn
	// failures are handled internally), so g.Wait() is used purely as a
	// completion barrier, never to propagate a first error.
	var g errgroup.Group
	for slot := 0; slot < workers; slot++ {
		slot := slot
		g.Go(func() error {
			s.runWorker(ctx, slot, dispatch, results)
			return nil
		})
	}

	g.Go(func() error {
		defer close(dispatch)
		for _, item := range sampled {
			if ctx.Err() != nil {
				return nil
			}
			select {
			case <-ctx.Done():
				return nil
			case dispatch <- item:
			}
		}
		return nil
	})

	workersDone := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(workersDone)
		close(results)
	}()

	go s.watchShutdown(ctx, workersDone)

	for result := range results {
		s.apply(result, store, folders, &summary)
	}

	return summary, nil
}

// watchShutdown force-kills any worker still alive once the shutdown
// drain window has elapsed after ctx is cancelled.
func (s *Scheduler) watchShutdown(ctx context.Context, workersDone <-chan struct{}) {
	select {
	case <-workersDone:
		return
	case <-ctx.Done():
	}

	s.logger.Info("scheduler: shutdown signal received, draining in-flight work",
		zap.Duration("drain_window", s.cfg.ShutdownDrainMax()))

	select {
	case <-workersDone:
		return
	case <-time.After(s.cfg.ShutdownDrainMax()):
		s.logger.Warn("scheduler: drain window exceeded, force-killing surviving workers")
		s.killAll()
	}
}

func (s *Scheduler) killAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for slot, proc := range s.active {
		if err := proc.Kill(); err != nil {
			s.logger.Warn("scheduler: failed to kill worker", utils.SlotField(slot), zap.Error(err))
		}
	}
}

// apply persists a PoResult in a fixed order: StateStore first (so a
// crash afterward still leaves a truthful STATUS), then the folder
// rename, with a best-effort second StateStore write to keep
// DOWNLOAD_FOLDER in sync with the renamed path.
func (s *Scheduler) apply(result model.PoResult, store Applier, folders Renamer, summary *Summary) {
	summary.Total++
	tallyStatus(summary, result)

	if err := store.ApplyResult(result); err != nil {
		s.logger.Error("scheduler: failed to apply result", utils.DisplayIDField(result.DisplayID), zap.Error(err))
	}

	if result.FinalFolderPath == "" {
		return
	}

	final, err := folders.RenameWithStatus(result.FinalFolderPath, result.StatusCode, s.cfg.StatusSuffixSeparator)
	if err != nil {
		s.logger.Warn("scheduler: failed to rename destination folder",
			utils.DisplayIDField(result.DisplayID), zap.Error(err))
		return
	}
	if final == result.FinalFolderPath {
		return
	}

	result.FinalFolderPath = final
	if err := store.ApplyResult(result); err != nil {
		s.logger.Warn("scheduler: failed to refresh download folder after rename",
			utils.DisplayIDField(result.DisplayID), zap.Error(err))
	}
}

func tallyStatus(summary *Summary, result model.PoResult) {
	switch result.StatusCode {
	case model.StatusCompleted:
		summary.Completed++
	case model.StatusPartial:
		summary.Partial++
	case model.StatusNoAttachments:
		summary.NoAttachments++
	case model.StatusPoNotFound:
		summary.PoNotFound++
	default:
		summary.Failed++
	}
}

// runWorker owns one pool slot for the Run's lifetime: spawn, drive the
// request/response loop until the worker exits, and — on an abnormal
// exit — respawn up to cfg.WorkerRespawnRetries times. Other slots are
// never affected by this slot's failures.
func (s *Scheduler) runWorker(ctx context.Context, slot int, dispatch <-chan model.PoWorkItem, results chan<- model.PoResult) {
	logger := utils.WithSlot(slot)(s.logger)
	retry := NewRetryStrategy(s.cfg.WorkerRespawnRetries)
	attempt := 0

	for {
		proc, err := s.spawn(slot)
		if err != nil {
			logger.Error("scheduler: failed to spawn worker", zap.Error(err))
			attempt++
			if !retry.CanRetry(attempt) {
				return
			}
			time.Sleep(retry.CalculateBackoff(attempt))
			continue
		}

		s.register(slot, proc)
		crashed := s.driveWorker(ctx, proc, dispatch, results)
		_ = proc.Wait()
		s.unregister(slot)

		if !crashed {
			return
		}

		attempt++
		if !retry.CanRetry(attempt) {
			logger.Error("scheduler: worker exhausted respawn retries, slot idle")
			return
		}
		logger.Warn("scheduler: respawning worker after abnormal exit", zap.Int("attempt", attempt))
		time.Sleep(retry.CalculateBackoff(attempt))
	}
}

func (s *Scheduler) register(slot int, proc workerHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active[slot] = proc
}

func (s *Scheduler) unregister(slot int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, slot)
}

// driveWorker runs the strictly-sequential request/response loop for one
// worker process: dequeue, send, block for the result, repeat. Returns
// true when the worker appears to have crashed mid-PO (the caller should
// respawn), false when the dispatch channel closed or ctx was cancelled
// between POs cleanly.
func (s *Scheduler) driveWorker(ctx context.Context, proc workerHandle, dispatch <-chan model.PoWorkItem, results chan<- model.PoResult) (crashed bool) {
	defer proc.CloseSend()

	for {
		select {
		case <-ctx.Done():
			return false
		case item, ok := <-dispatch:
			if !ok {
				return false
			}

			if err := proc.Send(item); err != nil {
				results <- cancelledResult(item, fmt.Sprintf("failed to dispatch to worker: %v", err))
				return true
			}

			result, err := proc.Recv()
			if err != nil {
				results <- cancelledResult(item, fmt.Sprintf("worker exited unexpectedly: %v", err))
				return true
			}
			results <- result
		}
	}
}

// cancelledResult builds the FAILED/EXCEPTION PoResult used when a
// worker dies (or is interrupted) mid-PO.
func cancelledResult(item model.PoWorkItem, message string) model.PoResult {
	return model.PoResult{
		DisplayID:    item.DisplayID,
		Success:      false,
		StatusCode:   model.StatusFailed,
		StatusReason: model.ReasonException,
		Message:      message,
	}
}
