package engine

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/CallumJHays/pymake/internal/clilog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"
)

// Scheduler drives the build: it recursively decides staleness
// (maybeRemake), enforces at-most-once rebuilding per target per
// invocation, fans concurrent rebuilds out to a Worker Pool, and
// propagates failures. Its state is reset on each call to Build, so a
// single Scheduler may be reused across invocations.
type Scheduler struct {
	Pool      *Pool
	Resolver  *Resolver
	PrefixDir string
	Logger    *clilog.Logger

	targets map[string]*Target
	cache   *Cache

	mu        sync.Mutex
	scheduled map[*Target]*handle

	total, built, failed int32
}

type handle struct {
	done    chan struct{}
	rebuilt bool
	err     error
}

// NewScheduler constructs a Scheduler. logger may be nil.
func NewScheduler(pool *Pool, resolver *Resolver, prefixDir string, logger *clilog.Logger) *Scheduler {
	return &Scheduler{Pool: pool, Resolver: resolver, PrefixDir: prefixDir, Logger: logger}
}

// Build runs maybe_remake(root) to completion, then always saves cache
// (even on failure, so that progress from completed rebuilds is
// preserved), per spec.md §5's cancellation policy.
func (s *Scheduler) Build(ctx context.Context, root *Target, cache *Cache, targets map[string]*Target) error {
	if err := CheckAcyclic(targets); err != nil {
		return err
	}
	s.targets = targets
	s.cache = cache
	s.scheduled = make(map[*Target]*handle)
	s.total, s.built, s.failed = int32(len(targets)), 0, 0
	s.updateSummary()

	_, buildErr := s.maybeRemake(ctx, root)
	saveErr := cache.Save()
	if buildErr != nil {
		return buildErr
	}
	return saveErr
}

// maybeRemake returns whether t was rebuilt. A target already present in
// s.scheduled (in-flight or complete) short-circuits to the recorded
// result instead of re-entering — this, together with CheckAcyclic having
// already refused any cyclic graph, is what makes at-most-once (P1) hold
// without the source's "lie about completion on revisit" masking.
func (s *Scheduler) maybeRemake(ctx context.Context, t *Target) (bool, error) {
	s.mu.Lock()
	if h, ok := s.scheduled[t]; ok {
		s.mu.Unlock()
		<-h.done
		return h.rebuilt, h.err
	}
	h := &handle{done: make(chan struct{})}
	s.scheduled[t] = h
	s.mu.Unlock()

	rebuilt, err := s.decide(ctx, t)
	h.rebuilt, h.err = rebuilt, err
	close(h.done)
	return rebuilt, err
}

func (s *Scheduler) decide(ctx context.Context, t *Target) (bool, error) {
	tEdited := t.Edited()
	if t.Kind == KindPhony || t.Kind == KindGroup {
		// Per invariant 2, a phony target is outdated when any dep is newer
		// than its *cached* timestamp, or no cached timestamp exists yet —
		// not unconditionally on every invocation. Target.Edited() reports
		// +Inf unconditionally (per §3); substitute the cached timestamp
		// here, when one exists, as the actual freshness threshold.
		if ts, ok := s.cache.Get(t); ok {
			tEdited = ts
		}
	}
	needsRemake := math.IsInf(tEdited, 1)

	var mu sync.Mutex
	var eg errgroup.Group
	for _, dep := range t.Deps {
		dep := dep
		eg.Go(func() error {
			stale, err := s.resolveDep(ctx, dep, tEdited)
			if err != nil {
				return err
			}
			if stale {
				mu.Lock()
				needsRemake = true
				mu.Unlock()
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return false, err
	}

	if !needsRemake {
		return false, nil
	}

	ts, err := s.remake(ctx, t)
	if err != nil {
		return false, err
	}
	if t.DoCache {
		if err := s.cache.Set(t, ts); err != nil {
			return false, err
		}
	}
	return true, nil
}

// resolveDep implements step 3 of maybe_remake: path literals are globbed
// against the filesystem first (prefixed by PrefixDir unless absolute);
// only when globbing finds nothing does the dep fall back to the Wildcard
// Resolver and become a recursively-scheduled target.
func (s *Scheduler) resolveDep(ctx context.Context, dep Dep, tEdited float64) (bool, error) {
	if dep.Ref != nil {
		return s.maybeRemake(ctx, dep.Ref)
	}

	path := dep.Path
	if !filepath.IsAbs(path) && s.PrefixDir != "" {
		path = filepath.Join(s.PrefixDir, path)
	}
	matches, _ := filepath.Glob(path)
	if len(matches) > 0 {
		for _, m := range matches {
			fi, err := os.Stat(m) // os.Stat follows symlinks
			if err != nil {
				continue
			}
			mtime := float64(fi.ModTime().UnixNano()) / 1e9
			if mtime > tEdited {
				return true, nil
			}
		}
		return false, nil
	}

	target, err := s.Resolver.Find(dep.Path, s.targets)
	if err != nil {
		return false, err
	}
	return s.maybeRemake(ctx, target)
}

// updateSummary redraws the logger's slot-0 overall progress line, mirroring
// internal/batch/batch.go's scheduler.updateStatus(0, "%d of %d ... built ...
// failed") summary.
func (s *Scheduler) updateSummary() {
	if s.Logger == nil {
		return
	}
	built, failed, total := atomic.LoadInt32(&s.built), atomic.LoadInt32(&s.failed), atomic.LoadInt32(&s.total)
	s.Logger.UpdateStatus(0, fmt.Sprintf("%d of %d targets: %d built, %d failed", built+failed, total, built, failed))
}

// remake executes in a worker (via the Pool): it snapshots the pre-build
// mtime of an existing output, submits t's action, then asserts the
// output contract (file must now exist and strictly postdate its
// pre-build mtime) before returning the rebuild timestamp.
func (s *Scheduler) remake(ctx context.Context, t *Target) (float64, error) {
	var preMtime float64
	havePre := false
	if t.Output != nil {
		if fi, err := os.Stat(*t.Output); err == nil {
			preMtime = float64(fi.ModTime().UnixNano()) / 1e9
			havePre = true
		}
	}

	if s.Logger != nil {
		s.Logger.Infof("building %s", t.Name)
	}
	var onSlot func(slot int, line string)
	if s.Logger != nil {
		onSlot = func(slot int, line string) { s.Logger.UpdateStatus(slot+1, line) }
	}
	out, err := s.Pool.Submit(ctx, t, onSlot)
	if s.Logger != nil && len(out) > 0 {
		persistLog(t, out)
	}
	if err != nil {
		atomic.AddInt32(&s.failed, 1)
		s.updateSummary()
		return 0, err
	}

	if t.Output != nil {
		fi, err := os.Stat(*t.Output)
		if err != nil {
			atomic.AddInt32(&s.failed, 1)
			s.updateSummary()
			return 0, xerrors.Errorf("target %s: output %s does not exist after build: %w", t.Name, *t.Output, ErrOutputContract)
		}
		postMtime := float64(fi.ModTime().UnixNano()) / 1e9
		if havePre && postMtime <= preMtime {
			atomic.AddInt32(&s.failed, 1)
			s.updateSummary()
			return 0, xerrors.Errorf("target %s: output %s did not advance (pre=%v post=%v): %w", t.Name, *t.Output, preMtime, postMtime, ErrOutputContract)
		}
		if s.Logger != nil {
			s.Logger.Successf("built %s", t.Name)
		}
		atomic.AddInt32(&s.built, 1)
		s.updateSummary()
		return postMtime, nil
	}
	if s.Logger != nil {
		s.Logger.Successf("built %s", t.Name)
	}
	atomic.AddInt32(&s.built, 1)
	s.updateSummary()
	return Now(), nil
}
