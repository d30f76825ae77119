// Package rule implements the collaborator layer that registers targets
// with the build engine. The Python original lets a makefile script
// declare a target with a decorator (@makes(out, deps)) wrapping a
// function; Go has no decorator equivalent, so this package offers a
// fluent builder that plays the same role: a makefile written in Go calls
// rule.New(reg, ...).Shell(...) at package-init time and the result both
// is a *engine.Target and is recorded under its binding name in the
// Registry reg passed to New, exactly as spec.md §9 "Dynamic target
// discovery → explicit registry" prescribes.
package rule

import (
	"path/filepath"
	"runtime"

	"github.com/CallumJHays/pymake/internal/engine"
	"golang.org/x/xerrors"
)

// Registry collects every target declared by a makefile, keyed by its
// binding name. The CLI hands the populated Registry to the engine.
type Registry struct {
	targets map[string]*engine.Target
	order   []string
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{targets: make(map[string]*engine.Target)}
}

// Targets returns the registry's name->target map, as consumed by
// engine.Scheduler.Build and engine.Resolver.Find.
func (r *Registry) Targets() map[string]*engine.Target {
	return r.targets
}

// Names returns every binding name in declaration order.
func (r *Registry) Names() []string {
	return r.order
}

// Add records t under name. Declaring two targets under the same name is a
// programming error in the makefile.
func (r *Registry) Add(name string, t *engine.Target) *engine.Target {
	if _, exists := r.targets[name]; exists {
		panic(xerrors.Errorf("target %q already registered: %w", name, engine.ErrInternal))
	}
	r.targets[name] = t
	r.order = append(r.order, name)
	return t
}

// callerDir returns the directory of the source file that called into this
// package two frames up, standing in for spec.md §4.1's "cwd as the
// directory of the source location that declared the target" — the
// nearest enclosing script, in Go terms the file containing the rule.New
// call.
func callerDir(skip int) string {
	_, file, _, ok := runtime.Caller(skip)
	if !ok {
		return "."
	}
	return filepath.Dir(file)
}

// Rule is a fluent builder standing in for the Python @makes(...) decorator:
// each method returns the Rule so calls chain, and a terminal method
// (Shell, Func, Group, Subproject) produces the *engine.Target and
// registers it.
type Rule struct {
	reg     *Registry
	name    string
	output  *string
	deps    []engine.Dep
	doCache bool
	doc     string
	cwd     string
}

// New starts a rule declaration bound to name (the makefile's variable
// name for this target, used for show-targets and cache identity when
// there is no output).
func New(reg *Registry, name string) *Rule {
	return &Rule{reg: reg, name: name, doCache: true, cwd: callerDir(2)}
}

// Output declares the target as file-producing: out may contain a single
// '%' wildcard, making this a pattern target (specialized at resolve
// time, never built or cached directly).
func (r *Rule) Output(out string) *Rule {
	r.output = &out
	return r
}

// DependsOn appends dependencies: each may be a path string, a Dep, or
// another *engine.Target (wrapped as a Dep reference).
func (r *Rule) DependsOn(deps ...interface{}) *Rule {
	for _, d := range deps {
		switch v := d.(type) {
		case string:
			r.deps = append(r.deps, engine.Dep{Path: v})
		case engine.Dep:
			r.deps = append(r.deps, v)
		case *engine.Target:
			r.deps = append(r.deps, engine.Dep{Ref: v})
		default:
			panic(xerrors.Errorf("DependsOn: unsupported dependency type %T: %w", d, engine.ErrInternal))
		}
	}
	return r
}

// NoCache forces DoCache false even when Deps is non-empty, overriding the
// constructor contract's default.
func (r *Rule) NoCache() *Rule {
	r.doCache = false
	return r
}

// Doc attaches a docstring shown by the show-targets request.
func (r *Rule) Doc(doc string) *Rule {
	r.doc = doc
	return r
}

// Shell registers a target whose make action runs command in a subshell.
func (r *Rule) Shell(command string) *engine.Target {
	return r.finish(engine.ShellAction{Command: command})
}

// Func registers a target whose make action is an in-process callback. It
// cannot be isolated in a worker subprocess (Go closures do not survive a
// process boundary); see engine.FuncAction's doc comment.
func (r *Rule) Func(fn engine.ActionFunc) *engine.Target {
	return r.finish(engine.FuncAction{Fn: fn})
}

// Group registers a phony, uncached bundling target with a no-op make
// action, per spec.md §4.1's Group variant.
func (r *Rule) Group() *engine.Target {
	t := engine.NewGroupTarget(r.name, r.deps, r.cwd)
	t.Doc = r.doc
	return r.reg.Add(r.name, t)
}

// Subproject registers a target delegating to an external "make"
// invocation, per spec.md §4.1/§6.
func (r *Rule) Subproject(cfg *engine.SubprojectConfig) *engine.Target {
	t := engine.NewSubprojectTarget(r.name, cfg, r.deps, r.cwd)
	t.Doc = r.doc
	return r.reg.Add(r.name, t)
}

// GoBuild registers a target whose make action builds or tests a Go
// package, supplementing spec.md per SPEC_FULL.md §6.
func (r *Rule) GoBuild(spec *engine.GoBuildSpec) *engine.Target {
	return r.finish(engine.GoBuildAction{Spec: spec})
}

func (r *Rule) finish(action engine.Action) *engine.Target {
	var t *engine.Target
	if r.output != nil {
		ft, err := engine.NewFileTarget(*r.output, r.deps, r.doCache, r.cwd, action)
		if err != nil {
			panic(err)
		}
		t = ft
	} else {
		t = engine.NewPhonyTarget(r.name, r.deps, r.doCache, r.cwd, action)
	}
	t.Doc = r.doc
	return r.reg.Add(r.name, t)
}
