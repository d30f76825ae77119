// Package engine implements the build engine: the target model, the
// wildcard resolver, the timestamp cache, the dependency graph, the
// scheduler, and the worker pool.
package engine

import (
	"context"
	"math"
	"os"
	"regexp"
	"strings"
	"time"

	"golang.org/x/xerrors"
)

// Action is a target's make action. Concrete variants (ShellAction,
// SubprojectAction, GoBuildAction, NoopAction, FuncAction) are constructed
// by the collaborator layer (internal/rule, internal/engine/gobuild.go) and
// the cmd/pymake CLI; the engine only calls through this interface.
//
// Because workers are separate OS processes, Run's body for an isolated
// action kind must itself be data-describable: JobSpec returns the
// serializable descriptor the Worker Pool ships across the process
// boundary. An action that cannot describe itself (ok == false from
// JobSpec) runs directly in the coordinator's worker goroutine instead of
// a forked subprocess — acceptable only for actions with no env/cwd
// side effects, such as NoopAction.
type Action interface {
	Run(ctx context.Context, t *Target) error
	JobSpec(t *Target) (*JobSpec, bool)
}

// Kind distinguishes the Target variants named in the data model.
type Kind int

const (
	KindFile Kind = iota
	KindPhony
	KindGroup
	KindSubproject
)

func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindPhony:
		return "phony"
	case KindGroup:
		return "group"
	case KindSubproject:
		return "subproject"
	default:
		return "unknown"
	}
}

// Dep is one entry in a target's dependency list: either a path literal
// (which may itself contain a single '%' wildcard, to be expanded at
// resolution time) or a direct reference to another declared Target.
type Dep struct {
	Path string
	Ref  *Target
}

func (d Dep) String() string {
	if d.Ref != nil {
		return d.Ref.Name
	}
	return d.Path
}

// Target is the central entity of the build engine: a build unit with an
// optional output, an ordered list of dependencies, a captured execution
// environment, and a make/clean action pair.
type Target struct {
	Kind Kind

	// Name identifies the target in logs and diagnostics: the output path
	// for targets built by NewFileTarget, and the name passed to the
	// constructor for phony, group and subproject targets. For phony
	// targets it also doubles as the cache identity.
	Name string

	// Output is the target's output path, or nil for a phony/command
	// target. It may contain exactly one '%' wildcard, in which case the
	// target is a pattern and must be Specialized before it can be built.
	Output *string

	Deps []Dep

	// Cwd is the directory of the script that declared this target;
	// rebuilds run with this as the process cwd.
	Cwd string

	// Env is a snapshot of the process environment at declaration time;
	// rebuilds run with exactly this environment.
	Env []string

	// DoCache records whether the Timestamp Cache should track this
	// target's last-build time. Forced false when Deps is empty, and
	// always false for Group targets.
	DoCache bool

	Doc string

	Action  Action
	CleanFn func(cache *Cache) error

	Subproject *SubprojectConfig
}

var outputRegexp = regexp.MustCompile(`[\s*]`)

// NewFileTarget constructs a file-output target per the §4.1 constructor
// contract: output is validated (no whitespace, no '*'; '%' is the only
// wildcard), deps are stored as given, cwd is taken from the caller, env
// is snapshotted from the process, and DoCache is forced false when there
// are no deps.
func NewFileTarget(output string, deps []Dep, doCache bool, cwd string, action Action) (*Target, error) {
	if outputRegexp.MatchString(output) {
		return nil, xerrors.Errorf("output %q contains whitespace or '*': %w", output, ErrInternal)
	}
	return &Target{
		Kind:    KindFile,
		Name:    output,
		Output:  &output,
		Deps:    deps,
		Cwd:     cwd,
		Env:     os.Environ(),
		DoCache: doCache && len(deps) > 0,
		Action:  action,
	}, nil
}

// NewPhonyTarget constructs a command (output-less) target.
func NewPhonyTarget(name string, deps []Dep, doCache bool, cwd string, action Action) *Target {
	return &Target{
		Kind:    KindPhony,
		Name:    name,
		Deps:    deps,
		Cwd:     cwd,
		Env:     os.Environ(),
		DoCache: doCache && len(deps) > 0,
		Action:  action,
	}
}

// NewGroupTarget constructs a phony target that bundles dependencies with
// no action of its own: do_cache is always false and make is a no-op.
func NewGroupTarget(name string, deps []Dep, cwd string) *Target {
	return &Target{
		Kind:    KindGroup,
		Name:    name,
		Deps:    deps,
		Cwd:     cwd,
		Env:     os.Environ(),
		DoCache: false,
		Action:  NoopAction{},
	}
}

// CacheKey returns the identifier under which this target's timestamp is
// recorded: its output path if it has one, otherwise its declared name.
func (t *Target) CacheKey() string {
	if t.Output != nil {
		return *t.Output
	}
	return t.Name
}

// HasWildcard reports whether Output contains a '%' pattern.
func (t *Target) HasWildcard() bool {
	return t.Output != nil && strings.Contains(*t.Output, "%")
}

// Edited returns the last-edited POSIX timestamp of this target, or
// +Inf if it needs an unconditional freshness check (missing file, phony
// target, or a stale subproject).
func (t *Target) Edited() float64 {
	switch t.Kind {
	case KindFile:
		fi, err := os.Stat(*t.Output)
		if err != nil {
			return math.Inf(1)
		}
		return float64(fi.ModTime().UnixNano()) / 1e9
	case KindSubproject:
		if t.Subproject.upToDate() {
			return 0
		}
		return math.Inf(1)
	default: // KindPhony, KindGroup
		return math.Inf(1)
	}
}

// Specialize substitutes request for '%' in Output and in every dependency
// path (recursively for wildcard sub-deps), returning a fresh Target. The
// original is never mutated (pattern purity, P5).
func (t *Target) Specialize(request string) *Target {
	if !t.HasWildcard() {
		return t
	}
	output := strings.Replace(*t.Output, "%", request, 1)
	deps := make([]Dep, len(t.Deps))
	for i, d := range t.Deps {
		if d.Ref != nil {
			deps[i] = Dep{Ref: d.Ref.Specialize(request)}
		} else {
			deps[i] = Dep{Path: strings.Replace(d.Path, "%", request, 1)}
		}
	}
	clone := *t
	clone.Output = &output
	clone.Deps = deps
	clone.DoCache = t.DoCache
	return &clone
}

// wildcardPattern compiles Output's '%' into a single-capture-group
// regular expression matched against a full candidate path. Only the
// literal parts of Output are quoted; '%' becomes (.+).
func (t *Target) wildcardPattern() *regexp.Regexp {
	parts := strings.SplitN(*t.Output, "%", 2)
	pattern := "^" + regexp.QuoteMeta(parts[0]) + "(.+)" + regexp.QuoteMeta(parts[1]) + "$"
	return regexp.MustCompile(pattern)
}

// Matches reports whether query matches this target's output pattern,
// returning the substring that '%' captured. Only meaningful for targets
// with HasWildcard(); non-wildcard targets never match via this path (they
// are found via direct lookup instead).
func (t *Target) Matches(query string) (string, bool) {
	if !t.HasWildcard() {
		return "", false
	}
	m := t.wildcardPattern().FindStringSubmatch(query)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// Clean removes this target's output (recursively, if a directory) or, for
// a phony target, evicts its cache entry. The cache is always passed
// explicitly; there is no ambient cache reference anywhere in the engine.
func (t *Target) Clean(cache *Cache) error {
	if t.CleanFn != nil {
		return t.CleanFn(cache)
	}
	switch t.Kind {
	case KindSubproject:
		return t.Subproject.clean()
	case KindFile:
		if err := os.RemoveAll(*t.Output); err != nil && !os.IsNotExist(err) {
			return xerrors.Errorf("cleaning %s: %w", *t.Output, err)
		}
	default:
		cache.Remove(t)
	}
	return nil
}

// Now returns the current POSIX timestamp. Exists so scheduler.go never
// needs to reach for time.Now() directly, keeping timestamp derivation in
// one place alongside Edited.
func Now() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}
