package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"runtime"
	"sync"

	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"
)

func numCPU() int { return runtime.NumCPU() }

// RunJobFlag is the hidden CLI flag name cmd/pymake registers to detect a
// re-exec'd worker subprocess: "<binary> -runjob <path>" reads a JobSpec
// from <path>, executes it via RunJobSpec, and exits nonzero on failure.
// Grounded on cmd/zi/zi.go's own self-reexec runJob(job string) mechanism,
// the resolution to the §9 design note's serialization-contract
// requirement: actions are restricted to data-describable commands rather
// than attempting closure serialization.
const RunJobFlag = "runjob"

// Pool is a fixed-size worker pool that runs make actions, isolating
// data-describable actions (ShellAction, SubprojectAction, GoBuildAction)
// in a re-exec'd subprocess with its own env/cwd, and running
// non-describable actions (FuncAction, NoopAction) directly in a worker
// goroutine bounded by the same concurrency limit.
//
// Slots are numbered 0..size-1 so a caller (the Scheduler's status logger)
// can report per-worker progress on a fixed set of lines, mirroring
// internal/batch/batch.go's updateStatus(i+1, ...) convention.
type Pool struct {
	mu   sync.RWMutex
	sem  chan int
	self string
}

// NewPool returns a Pool with the given worker count (size <= 0 defaults
// to runtime.NumCPU(), matching spec.md §4.5's "sized by default to the
// CPU count").
func NewPool(size int) (*Pool, error) {
	if size <= 0 {
		size = numCPU()
	}
	self, err := os.Executable()
	if err != nil {
		return nil, xerrors.Errorf("resolving own executable path: %w", err)
	}
	return &Pool{sem: newSlots(size), self: self}, nil
}

func newSlots(size int) chan int {
	sem := make(chan int, size)
	for i := 0; i < size; i++ {
		sem <- i
	}
	return sem
}

// Size reports the pool's current worker-slot count.
func (p *Pool) Size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return cap(p.sem)
}

// Resize changes the pool's concurrency limit in place. In-flight work is
// unaffected; the new limit takes effect for subsequently queued work.
func (p *Pool) Resize(size int) {
	if size <= 0 {
		size = 1
	}
	p.mu.Lock()
	p.sem = newSlots(size)
	p.mu.Unlock()
}

func (p *Pool) semaphore() chan int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.sem
}

// Submit runs t's make action, returning the combined stdout/stderr of an
// isolated action (for log persistence) and an error wrapping
// ErrBuildAction on failure. The output of an in-process action is not
// captured: the returned bytes are empty. If ctx is canceled while waiting
// for a free slot, ctx's error is returned instead. If
// onSlot is non-nil, it is called with the acquired worker-slot index once
// before the action starts and once with line="idle" after it finishes, so
// callers can render fixed per-slot status lines.
func (p *Pool) Submit(ctx context.Context, t *Target, onSlot func(slot int, line string)) ([]byte, error) {
	sem := p.semaphore()
	var slot int
	select {
	case slot = <-sem:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { sem <- slot }()

	if onSlot != nil {
		onSlot(slot, "building "+t.Name)
		defer onSlot(slot, "idle")
	}

	spec, isolated := t.Action.JobSpec(t)
	if !isolated {
		var buf bytes.Buffer
		if err := t.Action.Run(ctx, t); err != nil {
			return buf.Bytes(), xerrors.Errorf("%w: %v", ErrBuildAction, err)
		}
		return buf.Bytes(), nil
	}
	return p.runIsolated(ctx, spec)
}

func (p *Pool) runIsolated(ctx context.Context, spec *JobSpec) ([]byte, error) {
	enc, err := json.Marshal(spec)
	if err != nil {
		return nil, xerrors.Errorf("marshaling job spec: %w", err)
	}
	jobFile, err := os.CreateTemp("", "pymake-job-*.json")
	if err != nil {
		return nil, xerrors.Errorf("creating job file: %w", err)
	}
	defer os.Remove(jobFile.Name())
	if _, err := jobFile.Write(enc); err != nil {
		jobFile.Close()
		return nil, xerrors.Errorf("writing job file: %w", err)
	}
	if err := jobFile.Close(); err != nil {
		return nil, xerrors.Errorf("closing job file: %w", err)
	}

	cmd := exec.CommandContext(ctx, p.self, "-"+RunJobFlag, jobFile.Name())
	cmd.Env = spec.Env
	cmd.SysProcAttr = &unix.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: unix.SIGKILL,
	}
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return out.Bytes(), xerrors.Errorf("%w: %v\n%s", ErrBuildAction, err, out.Bytes())
	}
	return out.Bytes(), nil
}
