package scheduler

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	"go.uber.org/zap"

	"github.com/CzarX86/CoupaDownloads-sub000/internal/config"
	"github.com/CzarX86/CoupaDownloads-sub000/internal/model"
)

// WorkerFlag is the hidden CLI flag internal/cli recognizes, before any
// cobra parsing, to re-exec os.Args[0] as a worker instead of running
// the normal root command.
const WorkerFlag = "--coupa-worker"

// workerHandle is the Scheduler's view of one worker, real or faked.
// *workerProcess is the real, exec.Cmd-backed implementation; tests
// substitute an in-memory one so Scheduler.Run's dispatch/respawn logic
// is exercised without spawning real OS processes.
type workerHandle interface {
	Send(item model.PoWorkItem) error
	Recv() (model.PoResult, error)
	CloseSend() error
	Kill() error
	Wait() error
}

// workerProcess is the parent's handle to one self-re-exec'd worker: its
// OS process plus the two streaming-JSON pipes it talks PoWorkItem and
// PoResult values over.
type workerProcess struct {
	slot  int
	cmd   *exec.Cmd
	stdin io.WriteCloser
	enc   *json.Encoder
	dec   *json.Decoder

	waitOnce sync.Once
	waitErr  error
}

// wait calls exec.Cmd.Wait exactly once, no matter how many of Wait and
// Kill observe the process exiting; a second call to Cmd.Wait is a
// programming error in the exec package, not just a redundant one.
func (w *workerProcess) wait() error {
	w.waitOnce.Do(func() {
		w.waitErr = w.cmd.Wait()
	})
	return w.waitErr
}

// spawnWorker launches os.Args[0] again with the hidden worker flag,
// streams cfg as the first JSON value on its stdin, and returns a handle
// ready to exchange PoWorkItem/PoResult values.
func spawnWorker(slot int, cfg *config.Config, logger *zap.Logger) (workerHandle, error) {
	cmd := exec.Command(os.Args[0], WorkerFlag)
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("scheduler: failed to open worker stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("scheduler: failed to open worker stdout: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("scheduler: failed to start worker process: %w", err)
	}

	enc := json.NewEncoder(stdin)
	if err := enc.Encode(cfg); err != nil {
		_ = cmd.Process.Kill()
		return nil, fmt.Errorf("scheduler: failed to send config to worker: %w", err)
	}

	logger.Info("scheduler: worker spawned", zap.Int("slot", slot), zap.Int("pid", cmd.Process.Pid))
	return &workerProcess{
		slot:  slot,
		cmd:   cmd,
		stdin: stdin,
		enc:   enc,
		dec:   json.NewDecoder(stdout),
	}, nil
}

// Send writes one PoWorkItem to the worker's stdin.
func (w *workerProcess) Send(item model.PoWorkItem) error {
	return w.enc.Encode(&item)
}

// Recv blocks for the worker's next PoResult.
func (w *workerProcess) Recv() (model.PoResult, error) {
	var result model.PoResult
	err := w.dec.Decode(&result)
	return result, err
}

// CloseSend closes the worker's stdin, the signal it should finish its
// current PO (if any) and exit.
func (w *workerProcess) CloseSend() error {
	return w.stdin.Close()
}

// Kill force-terminates the worker process and reaps it. Used only
// after the shutdown drain window expires.
func (w *workerProcess) Kill() error {
	if w.cmd.Process == nil {
		return nil
	}
	if err := w.cmd.Process.Kill(); err != nil {
		return err
	}
	_ = w.wait()
	return nil
}

// Wait blocks until the worker process exits and reports its error, if
// any — a non-nil error (including an abnormal exit code) signals the
// Scheduler should treat this worker as crashed.
func (w *workerProcess) Wait() error {
	return w.wait()
}
