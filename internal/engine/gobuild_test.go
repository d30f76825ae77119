package engine

import (
	"path/filepath"
	"testing"
)

func TestGoBuildSpecModuleVersion(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "go.mod"), "module example.com/widget\n\ngo 1.20\n")

	spec := &GoBuildSpec{ModDir: dir, Pkg: "./...", Subcommand: "build"}
	if got, want := spec.ModuleVersion(), "example.com/widget"; got != want {
		t.Errorf("ModuleVersion() = %q, want %q", got, want)
	}
	if got, want := spec.requiredGoVersion(), "v1.20"; got != want {
		t.Errorf("requiredGoVersion() = %q, want %q", got, want)
	}
}

func TestGoBuildSpecModuleVersionMissingGoMod(t *testing.T) {
	spec := &GoBuildSpec{ModDir: t.TempDir(), Pkg: "./...", Subcommand: "build"}
	if got := spec.ModuleVersion(); got != "" {
		t.Errorf("ModuleVersion() with no go.mod = %q, want empty", got)
	}
	if got := spec.requiredGoVersion(); got != "" {
		t.Errorf("requiredGoVersion() with no go.mod = %q, want empty", got)
	}
}

func TestGoBuildSpecRejectsNewerGoDirective(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "go.mod"), "module example.com/widget\n\ngo 99.0\n")

	spec := &GoBuildSpec{ModDir: dir, Pkg: "./...", Subcommand: "build"}
	err := spec.build(nil) //nolint:staticcheck // exercised before any context-dependent exec call
	if err == nil {
		t.Fatal("build() with an unsatisfiable go directive = nil error, want one")
	}
}
