package engine

import (
	"context"
	"os"
	"os/exec"
	"runtime"
	"strconv"

	"golang.org/x/xerrors"
)

// SubprojectConfig configures a Subproject target: one that delegates
// make/clean/edited to an external GNU make invocation instead of running
// its own action directly.
type SubprojectConfig struct {
	Dir        string            // --directory passed to make
	Target     string            // the make target to build/check/clean
	CleanTarget string           // the make target invoked by Clean; defaults to "clean"
	Vars       map[string]string // VAR=VAL pairs appended to the invocation
	Jobs       int               // -j<N>; defaults to runtime.NumCPU() if zero
}

// NewSubprojectTarget constructs a target that delegates to an external
// "make" invocation: Edited calls "make -q <target>" (exit 0 means
// up-to-date), Make invokes "make --directory=<dir> -j<N> <target>
// VAR=VAL…", and Clean invokes the configured clean target. Subproject
// targets are never cached.
func NewSubprojectTarget(name string, cfg *SubprojectConfig, deps []Dep, cwd string) *Target {
	if cfg.CleanTarget == "" {
		cfg.CleanTarget = "clean"
	}
	t := &Target{
		Kind:       KindSubproject,
		Name:       name,
		Deps:       deps,
		Cwd:        cwd,
		Env:        os.Environ(),
		DoCache:    false,
		Subproject: cfg,
	}
	t.Action = SubprojectAction{cfg: cfg}
	return t
}

// SubprojectAction delegates a target's make action to an external GNU
// make invocation.
type SubprojectAction struct {
	cfg *SubprojectConfig
}

func (a SubprojectAction) Run(ctx context.Context, t *Target) error {
	return a.cfg.build(ctx)
}

func (a SubprojectAction) JobSpec(t *Target) (*JobSpec, bool) {
	return &JobSpec{Kind: "subproject", Cwd: t.Cwd, Env: t.Env, Subproject: a.cfg}, true
}

func (c *SubprojectConfig) args() []string {
	args := []string{"--directory=" + c.Dir}
	jobs := c.Jobs
	if jobs <= 0 {
		jobs = runtime.NumCPU()
	}
	args = append(args, "-j"+strconv.Itoa(jobs), c.Target)
	for k, v := range c.Vars {
		args = append(args, k+"="+v)
	}
	return args
}

// upToDate reports whether "make -q <target>" reports the subproject's
// target as already up to date (exit status 0).
func (c *SubprojectConfig) upToDate() bool {
	cmd := exec.Command("make", "--directory="+c.Dir, "-q", c.Target)
	return cmd.Run() == nil
}

func (c *SubprojectConfig) build(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, "make", c.args()...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return xerrors.Errorf("make %v: %w: %s", cmd.Args, ErrBuildAction, out)
	}
	return nil
}

func (c *SubprojectConfig) clean() error {
	cmd := exec.Command("make", "--directory="+c.Dir, c.CleanTarget)
	if out, err := cmd.CombinedOutput(); err != nil {
		return xerrors.Errorf("make clean %v: %w: %s", cmd.Args, ErrBuildAction, out)
	}
	return nil
}
