// Command pymake is a programmable build orchestrator: build rules are
// declared in a Go plugin (the "makefile") rather than a declarative DSL,
// and pymake walks the resulting dependency graph, rebuilding only
// targets that are stale with respect to a persistent timestamp cache.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"plugin"
	"sort"
	"strings"

	"github.com/CallumJHays/pymake/internal/atexit"
	"github.com/CallumJHays/pymake/internal/clilog"
	"github.com/CallumJHays/pymake/internal/engine"
	"github.com/CallumJHays/pymake/internal/interrupt"
	"github.com/CallumJHays/pymake/internal/rule"
	"golang.org/x/xerrors"
)

var (
	debug      = flag.Bool("debug", false, "format error messages with additional detail")
	makefile   = flag.String("makefile", "PyMakefile.so", "path to the compiled makefile plugin")
	cachePath  = flag.String("cache", ".pymake-cache", "path to the timestamp cache file")
	noCache    = flag.Bool("no-cache", false, "disable the timestamp cache entirely")
	loglevel   = flag.String("loglevel", "WARNING", "log verbosity: ERROR, WARNING, INFO, or DEBUG")
	httpListen = flag.String("listen", "", "host:port to serve show-targets JSON and build logs over HTTP")

	// runjob is a hidden flag: when set, this process is a re-exec'd
	// worker running a single JobSpec rather than the coordinator. See
	// engine.RunJobFlag.
	runjob = flag.String(engine.RunJobFlag, "", "")
)

func init() {
	flag.StringVar(loglevel, "l", "WARNING", "shorthand for -loglevel")
	flag.StringVar(makefile, "m", "PyMakefile.so", "shorthand for -makefile")
}

// loadRegistry opens the makefile plugin at path and returns the
// rule.Registry its init-time target declarations populated. The plugin
// contract: it must export a zero-argument function Targets() *rule.Registry.
// This is the systems-language analogue of the Python original's
// `run_path(makefile)`, which dynamically executes the script and scans
// its module-level symbols for Target instances (spec.md §6 "Makefile
// script contract"); Go has no script interpreter in the standard
// library, so a compiled plugin stands in for "the script is evaluated".
func loadRegistry(path string) (*rule.Registry, error) {
	p, err := plugin.Open(path)
	if err != nil {
		return nil, xerrors.Errorf("opening makefile plugin %s: %w: %v", path, engine.ErrUserInput, err)
	}
	sym, err := p.Lookup("Targets")
	if err != nil {
		return nil, xerrors.Errorf("makefile plugin %s does not export Targets(): %w: %v", path, engine.ErrUserInput, err)
	}
	fn, ok := sym.(func() *rule.Registry)
	if !ok {
		return nil, xerrors.Errorf("makefile plugin %s: Targets has unexpected signature: %w", path, engine.ErrUserInput)
	}
	return fn(), nil
}

func funcmain() error {
	flag.Parse()

	if *runjob != "" {
		return runWorkerJob(*runjob)
	}

	request := "show-targets"
	if args := flag.Args(); len(args) > 0 {
		request = args[0]
	}

	reg, err := loadRegistry(*makefile)
	if err != nil {
		return err
	}
	targets := reg.Targets()

	resolver := engine.NewResolver()

	pool, err := engine.NewPool(0)
	if err != nil {
		return err
	}

	// One status line per worker slot plus a slot-0 overall summary line,
	// matching internal/batch/batch.go's refreshStatus/updateStatus layout.
	level := clilog.ParseLevel(*loglevel)
	logger := clilog.New(level, pool.Size()+1)
	// Force one last redraw on exit so the status block never leaves a
	// stale "building X" line behind after the run finishes or aborts.
	atexit.Register(func() error { logger.RefreshStatus(); return nil })

	cachePathEff := *cachePath
	if *noCache {
		cachePathEff = ""
	}
	cache, err := engine.LoadCache(cachePathEff)
	if err != nil {
		// ErrCacheCorruption is never fatal: warn and proceed with an
		// empty cache, per spec.md §7.
		logger.Warningf("%v", err)
	}
	cache.Reconcile(targets, resolver, logger.Debugf)

	ctx, cancel := interrupt.Context()
	defer cancel()

	logDir := ""
	if cachePathEff != "" {
		logDir = filepath.Join(filepath.Dir(cachePathEff), "logs")
	}
	engine.SetLogDir(logDir)

	if *httpListen != "" {
		handler := engine.NewStatusHandler(targets, cache)
		go func() {
			if err := http.ListenAndServe(*httpListen, handler); err != nil {
				log.Printf("status server: %v", err)
			}
		}()
	}

	switch {
	case request == "show-targets" || request == "help":
		return showTargets(reg, os.Stdout)
	case request == "clean":
		return cleanAll(targets, cache)
	case strings.HasPrefix(request, "clean-"):
		return cleanOne(strings.TrimPrefix(request, "clean-"), targets, resolver, cache)
	case request == "logs":
		args := flag.Args()[1:]
		if len(args) == 1 && args[0] == "-archive" {
			return engine.ArchiveLogs(os.Stdout)
		}
		if len(args) != 1 {
			return xerrors.Errorf("usage: pymake logs <target> | pymake logs -archive: %w", engine.ErrUserInput)
		}
		t, err := resolver.Find(args[0], targets)
		if err != nil {
			return err
		}
		b, err := engine.ReadLog(t)
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(b)
		return err
	}

	root, err := resolveRequest(request, targets, resolver)
	if err != nil {
		return err
	}

	scheduler := engine.NewScheduler(pool, resolver, filepath.Dir(*makefile), logger)
	if err := scheduler.Build(ctx, root, cache, targets); err != nil {
		return err
	}
	return nil
}

// resolveRequest looks the request up directly by binding name first (the
// Python original's `getattr(exports, request)`), then falls back to the
// Wildcard Resolver, matching spec.md §6/§4.2.
func resolveRequest(request string, targets map[string]*engine.Target, resolver *engine.Resolver) (*engine.Target, error) {
	if t, ok := targets[request]; ok {
		return t, nil
	}
	return resolver.Find(request, targets)
}

func showTargets(reg *rule.Registry, w io.Writer) error {
	names := append([]string(nil), reg.Names()...)
	sort.Strings(names)
	fmt.Fprintln(w, "All Targets:")
	for _, name := range names {
		t := reg.Targets()[name]
		out := "(phony)"
		if t.Output != nil {
			out = *t.Output
		}
		deps := make([]string, len(t.Deps))
		for i, d := range t.Deps {
			deps[i] = d.String()
		}
		fmt.Fprintf(w, "    - %s [%s] %s: %s\n", name, t.Kind, out, strings.Join(deps, " "))
		if t.Doc != "" {
			fmt.Fprintf(w, "        %s\n", t.Doc)
		}
	}
	return nil
}

func cleanAll(targets map[string]*engine.Target, cache *engine.Cache) error {
	seen := make(map[*engine.Target]bool)
	var firstErr error
	for _, t := range targets {
		if seen[t] {
			continue
		}
		seen[t] = true
		if err := t.Clean(cache); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return firstErr
	}
	return cache.Save()
}

// cleanOne implements the "clean-<target>" convenience request. The
// Python original stubs this case out with `assert False`
// (DESIGN NOTES §9 supplement); this implementation completes it.
func cleanOne(name string, targets map[string]*engine.Target, resolver *engine.Resolver, cache *engine.Cache) error {
	t, err := resolver.Find(name, targets)
	if err != nil {
		return err
	}
	if err := t.Clean(cache); err != nil {
		return err
	}
	return cache.Save()
}

// runWorkerJob executes the JobSpec persisted at jobPath and reports
// failure via a nonzero exit code, the worker-subprocess side of
// engine.Pool.runIsolated's self-reexec protocol.
func runWorkerJob(jobPath string) error {
	b, err := os.ReadFile(jobPath)
	if err != nil {
		return xerrors.Errorf("reading job spec: %w", err)
	}
	var spec engine.JobSpec
	if err := json.Unmarshal(b, &spec); err != nil {
		return xerrors.Errorf("parsing job spec: %w", err)
	}
	if spec.Cwd != "" {
		if err := os.Chdir(spec.Cwd); err != nil {
			return xerrors.Errorf("chdir %s: %w", spec.Cwd, err)
		}
	}
	ctx, cancel := interrupt.Context()
	defer cancel()
	return engine.RunJobSpec(ctx, &spec)
}

func main() {
	if err := funcmain(); err != nil {
		if *debug {
			fmt.Fprintf(os.Stderr, "%+v\n", err)
		} else {
			fmt.Fprintf(os.Stderr, "%v\n", err)
		}
		atexit.Run()
		os.Exit(1)
	}
	if err := atexit.Run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
