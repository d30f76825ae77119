package engine

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"golang.org/x/mod/modfile"
	"golang.org/x/mod/semver"
	"golang.org/x/xerrors"
)

// GoBuildSpec describes a "go build" or "go test" invocation of a package
// within a module, serializable for the Worker Pool's job file.
type GoBuildSpec struct {
	ModDir     string   `json:"mod_dir"`     // directory containing go.mod
	Pkg        string   `json:"pkg"`         // package import path or "./..."
	Subcommand string   `json:"subcommand"`  // "build" or "test"
	Args       []string `json:"args,omitempty"`
}

// ModuleVersion reads the module path declared in <ModDir>/go.mod, used to
// annotate persisted build logs with the module under build. Returns "" if go.mod is missing or unparseable rather than
// failing the build over a cosmetic detail.
func (s *GoBuildSpec) ModuleVersion() string {
	b, err := os.ReadFile(filepath.Join(s.ModDir, "go.mod"))
	if err != nil {
		return ""
	}
	mf, err := modfile.Parse("go.mod", b, nil)
	if err != nil || mf.Module == nil {
		return ""
	}
	return mf.Module.Mod.Path
}

// requiredGoVersion reads the "go" directive from <ModDir>/go.mod in
// semver-comparable form ("v1.20" rather than modfile's bare "1.20").
// Returns "" if go.mod is missing, unparseable, or declares no directive.
func (s *GoBuildSpec) requiredGoVersion() string {
	b, err := os.ReadFile(filepath.Join(s.ModDir, "go.mod"))
	if err != nil {
		return ""
	}
	mf, err := modfile.Parse("go.mod", b, nil)
	if err != nil || mf.Go == nil || mf.Go.Version == "" {
		return ""
	}
	return "v" + mf.Go.Version
}

// toolchainVersion returns the running Go toolchain's full version with a
// "v" prefix in place of "go", e.g. "go1.21.3" -> "v1.21.3", so that it
// compares with requiredGoVersion's result under semver.
func toolchainVersion() string {
	v := strings.TrimPrefix(runtime.Version(), "go")
	return "v" + v
}

func (s *GoBuildSpec) build(ctx context.Context) error {
	if want := s.requiredGoVersion(); want != "" {
		if have := toolchainVersion(); semver.Compare(have, want) < 0 {
			return xerrors.Errorf("%w: module %s requires go >= %s, but this toolchain is %s", ErrBuildAction, s.ModDir, want, have)
		}
	}
	args := append([]string{s.Subcommand}, s.Args...)
	args = append(args, s.Pkg)
	cmd := exec.CommandContext(ctx, "go", args...)
	cmd.Dir = s.ModDir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return xerrors.Errorf("%w: go %v: %v\n%s", ErrBuildAction, args, err, out)
	}
	return nil
}

// GoBuildAction runs a Go package build or test as a target's make action.
type GoBuildAction struct {
	Spec *GoBuildSpec
}

func (a GoBuildAction) Run(ctx context.Context, t *Target) error {
	return a.Spec.build(ctx)
}

func (a GoBuildAction) JobSpec(t *Target) (*JobSpec, bool) {
	return &JobSpec{Kind: "gobuild", Cwd: t.Cwd, Env: t.Env, GoBuild: a.Spec}, true
}
