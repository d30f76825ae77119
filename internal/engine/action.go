package engine

import (
	"context"

	"github.com/CallumJHays/pymake/internal/shell"
	"golang.org/x/xerrors"
)

// JobSpec is the serializable descriptor the Worker Pool writes to a job
// file and ships to a re-exec'd subprocess, mirroring cmd/zi/zi.go's own
// buildctx.serialize()/runJob() pair: since Go cannot serialize closures
// across a process boundary, only data-describable actions cross it.
type JobSpec struct {
	Kind       string            `json:"kind"`
	Cwd        string            `json:"cwd"`
	Env        []string          `json:"env"`
	Command    string            `json:"command,omitempty"`
	Subproject *SubprojectConfig `json:"subproject,omitempty"`
	GoBuild    *GoBuildSpec      `json:"go_build,omitempty"`
}

// RunJobSpec executes spec directly (no further isolation) — called by the
// re-exec'd worker subprocess, which the Pool starts with spec.Env as its
// environment and which has already chdir'd to spec.Cwd.
func RunJobSpec(ctx context.Context, spec *JobSpec) error {
	switch spec.Kind {
	case "shell":
		_, stderr, err := shell.Run(ctx, spec.Cwd, spec.Env, spec.Command)
		if err != nil {
			return xerrors.Errorf("%w: %v\n%s", ErrBuildAction, err, stderr)
		}
		return nil
	case "subproject":
		return spec.Subproject.build(ctx)
	case "gobuild":
		return spec.GoBuild.build(ctx)
	default:
		return xerrors.Errorf("unknown job kind %q: %w", spec.Kind, ErrInternal)
	}
}

// ShellAction runs Command in a subshell, isolated in a worker subprocess
// with the target's captured cwd and env.
type ShellAction struct {
	Command string
}

func (a ShellAction) Run(ctx context.Context, t *Target) error {
	_, stderr, err := shell.Run(ctx, t.Cwd, t.Env, a.Command)
	if err != nil {
		return xerrors.Errorf("%w: %v\n%s", ErrBuildAction, err, stderr)
	}
	return nil
}

func (a ShellAction) JobSpec(t *Target) (*JobSpec, bool) {
	return &JobSpec{Kind: "shell", Cwd: t.Cwd, Env: t.Env, Command: a.Command}, true
}

// NoopAction always succeeds without side effects; used by Group targets.
type NoopAction struct{}

func (NoopAction) Run(context.Context, *Target) error { return nil }
func (NoopAction) JobSpec(*Target) (*JobSpec, bool)   { return nil, false }

// ActionFunc is the signature of an in-process build callback, used by
// FuncAction.
type ActionFunc func(ctx context.Context, t *Target) error

// FuncAction wraps an arbitrary in-process callback. It is the escape
// hatch for build actions that are not data-describable (DESIGN NOTES §9,
// item (b): "a user-provided callable passed through the worker
// serialization layer"): since Go closures cannot be serialized, a
// FuncAction always runs in the coordinator's worker goroutine rather than
// an isolated subprocess. Use ShellAction wherever the action can be
// expressed as a command instead.
type FuncAction struct {
	Fn ActionFunc
}

func (a FuncAction) Run(ctx context.Context, t *Target) error { return a.Fn(ctx, t) }
func (a FuncAction) JobSpec(*Target) (*JobSpec, bool)         { return nil, false }
