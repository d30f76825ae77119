package engine

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func newTestScheduler(t *testing.T) *Scheduler {
	t.Helper()
	pool, err := NewPool(4)
	if err != nil {
		t.Fatal(err)
	}
	return NewScheduler(pool, NewResolver(), t.TempDir(), nil)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

// Scenario 1 (spec.md §8): a file target depends on a file dep. First run
// builds it; an unchanged second run does not rebuild it (P2, P4).
func TestSchedulerBasicFileBuild(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.c")
	out := filepath.Join(dir, "out.o")
	writeFile(t, src, "int main(){}")

	var builds int32
	action := FuncAction{Fn: func(ctx context.Context, tgt *Target) error {
		atomic.AddInt32(&builds, 1)
		return os.WriteFile(out, []byte("compiled"), 0o644)
	}}
	target, err := NewFileTarget(out, []Dep{{Path: src}}, true, dir, action)
	if err != nil {
		t.Fatal(err)
	}
	targets := map[string]*Target{"out.o": target}

	cache, _ := LoadCache("")
	s := newTestScheduler(t)
	if err := s.Build(context.Background(), target, cache, targets); err != nil {
		t.Fatal(err)
	}
	if got := atomic.LoadInt32(&builds); got != 1 {
		t.Fatalf("first build invoked make %d times, want 1", got)
	}

	// Second run, scheduler state reset, nothing changed on disk.
	s2 := newTestScheduler(t)
	if err := s2.Build(context.Background(), target, cache, targets); err != nil {
		t.Fatal(err)
	}
	if got := atomic.LoadInt32(&builds); got != 1 {
		t.Fatalf("second unchanged build invoked make %d times, want still 1 (P4 idempotence)", got)
	}
}

// Scenario 3: touching the source after scenario 1 forces a rebuild.
func TestSchedulerTouchSourceTriggersRebuild(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.c")
	out := filepath.Join(dir, "out.o")
	writeFile(t, src, "v1")

	var builds int32
	action := FuncAction{Fn: func(ctx context.Context, tgt *Target) error {
		atomic.AddInt32(&builds, 1)
		return os.WriteFile(out, []byte("compiled"), 0o644)
	}}
	target, err := NewFileTarget(out, []Dep{{Path: src}}, true, dir, action)
	if err != nil {
		t.Fatal(err)
	}
	targets := map[string]*Target{"out.o": target}
	cache, _ := LoadCache("")

	if err := newTestScheduler(t).Build(context.Background(), target, cache, targets); err != nil {
		t.Fatal(err)
	}
	if got := atomic.LoadInt32(&builds); got != 1 {
		t.Fatalf("initial build count = %d, want 1", got)
	}

	time.Sleep(10 * time.Millisecond)
	writeFile(t, src, "v2") // advances src.c's mtime past out.o's

	if err := newTestScheduler(t).Build(context.Background(), target, cache, targets); err != nil {
		t.Fatal(err)
	}
	if got := atomic.LoadInt32(&builds); got != 2 {
		t.Fatalf("build count after touching src.c = %d, want 2", got)
	}
}

// Scenario 2: a phony aggregate depends on two file targets; it is built
// and cached once, then not rebuilt nor re-invoked when nothing changes.
func TestSchedulerPhonyAggregate(t *testing.T) {
	dir := t.TempDir()
	oOut := filepath.Join(dir, "out.o")
	pdfOut := filepath.Join(dir, "doc.pdf")

	var oBuilds, pdfBuilds, allBuilds int32
	oTarget, err := NewFileTarget(oOut, nil, false, dir, FuncAction{Fn: func(ctx context.Context, tgt *Target) error {
		atomic.AddInt32(&oBuilds, 1)
		return os.WriteFile(oOut, []byte("o"), 0o644)
	}})
	if err != nil {
		t.Fatal(err)
	}
	pdfTarget, err := NewFileTarget(pdfOut, nil, false, dir, FuncAction{Fn: func(ctx context.Context, tgt *Target) error {
		atomic.AddInt32(&pdfBuilds, 1)
		return os.WriteFile(pdfOut, []byte("pdf"), 0o644)
	}})
	if err != nil {
		t.Fatal(err)
	}
	all := NewPhonyTarget("all", []Dep{{Ref: oTarget}, {Ref: pdfTarget}}, true, dir, FuncAction{Fn: func(ctx context.Context, tgt *Target) error {
		atomic.AddInt32(&allBuilds, 1)
		return nil
	}})

	targets := map[string]*Target{"all": all, "out.o": oTarget, "doc.pdf": pdfTarget}
	cache, _ := LoadCache("")

	if err := newTestScheduler(t).Build(context.Background(), all, cache, targets); err != nil {
		t.Fatal(err)
	}
	if oBuilds != 1 || pdfBuilds != 1 || allBuilds != 1 {
		t.Fatalf("first run builds: o=%d pdf=%d all=%d, want 1/1/1", oBuilds, pdfBuilds, allBuilds)
	}

	if err := newTestScheduler(t).Build(context.Background(), all, cache, targets); err != nil {
		t.Fatal(err)
	}
	if oBuilds != 1 || pdfBuilds != 1 || allBuilds != 1 {
		t.Fatalf("second run rebuilt something: o=%d pdf=%d all=%d, want unchanged 1/1/1", oBuilds, pdfBuilds, allBuilds)
	}
}

// Scenario 4: requesting a concrete name against a pattern target
// specializes it and builds the specialized target.
func TestSchedulerPatternTargetSpecialization(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "foo.c"), "int main(){}")

	var builds int32
	pattern, err := NewFileTarget(filepath.Join(dir, "%.o"), []Dep{{Path: filepath.Join(dir, "%.c")}}, true, dir,
		FuncAction{Fn: func(ctx context.Context, tgt *Target) error {
			atomic.AddInt32(&builds, 1)
			return os.WriteFile(*tgt.Output, []byte("compiled"), 0o644)
		}})
	if err != nil {
		t.Fatal(err)
	}
	targets := map[string]*Target{"obj": pattern}

	resolver := NewResolver()
	resolved, err := resolver.Find(filepath.Join(dir, "foo.o"), targets)
	if err != nil {
		t.Fatal(err)
	}
	if resolved.HasWildcard() {
		t.Fatalf("resolved target still has a wildcard: %v", *resolved.Output)
	}

	cache, _ := LoadCache("")
	if err := newTestScheduler(t).Build(context.Background(), resolved, cache, targets); err != nil {
		t.Fatal(err)
	}
	if builds != 1 {
		t.Fatalf("pattern build count = %d, want 1", builds)
	}
	if _, err := os.Stat(filepath.Join(dir, "foo.o")); err != nil {
		t.Fatalf("specialized output missing: %v", err)
	}
}

// Output contract: a make action that does not advance its output's mtime
// is a fatal error.
func TestSchedulerOutputContractViolation(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out")
	writeFile(t, out, "initial")

	dep := filepath.Join(dir, "dep")
	target, err := NewFileTarget(out, []Dep{{Path: dep}}, true, dir,
		FuncAction{Fn: func(ctx context.Context, tgt *Target) error {
			return nil // does not touch the output at all
		}})
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(10 * time.Millisecond)
	writeFile(t, dep, "newer than out") // makes dep newer than out, forcing a rebuild

	targets := map[string]*Target{"out": target}
	cache, _ := LoadCache("")
	err = newTestScheduler(t).Build(context.Background(), target, cache, targets)
	if err == nil {
		t.Fatalf("expected an output-contract error when make does not advance the output's mtime")
	}
}

// Concurrent siblings: two sibling rebuilds with artificial latency run in
// parallel, not serially.
func TestSchedulerConcurrentSiblings(t *testing.T) {
	dir := t.TempDir()
	const sleep = 150 * time.Millisecond

	mkLeaf := func(name string) *Target {
		out := filepath.Join(dir, name)
		ft, err := NewFileTarget(out, nil, false, dir, FuncAction{Fn: func(ctx context.Context, tgt *Target) error {
			time.Sleep(sleep)
			return os.WriteFile(out, []byte("x"), 0o644)
		}})
		if err != nil {
			t.Fatal(err)
		}
		return ft
	}
	a := mkLeaf("a")
	b := mkLeaf("b")
	root := NewPhonyTarget("root", []Dep{{Ref: a}, {Ref: b}}, false, dir, NoopAction{})
	targets := map[string]*Target{"root": root, "a": a, "b": b}

	cache, _ := LoadCache("")
	start := time.Now()
	if err := newTestScheduler(t).Build(context.Background(), root, cache, targets); err != nil {
		t.Fatal(err)
	}
	elapsed := time.Since(start)
	if elapsed >= 2*sleep {
		t.Errorf("build of two independent %v-sleep siblings took %v, want well under %v (should run concurrently)", sleep, elapsed, 2*sleep)
	}
}
