package rule

import (
	"testing"

	"github.com/CallumJHays/pymake/internal/engine"
)

func TestShellRuleRegisters(t *testing.T) {
	reg := NewRegistry()
	tgt := New(reg, "out.o").
		Output("out.o").
		DependsOn("src.c").
		Doc("compiles src.c").
		Shell("cc -c src.c -o out.o")

	got, ok := reg.Targets()["out.o"]
	if !ok {
		t.Fatalf("target not registered under name %q", "out.o")
	}
	if got != tgt {
		t.Errorf("registry entry does not match the returned target")
	}
	if tgt.Output == nil || *tgt.Output != "out.o" {
		t.Errorf("Output = %v, want out.o", tgt.Output)
	}
	if len(tgt.Deps) != 1 || tgt.Deps[0].Path != "src.c" {
		t.Errorf("Deps = %v, want [src.c]", tgt.Deps)
	}
	if tgt.Doc != "compiles src.c" {
		t.Errorf("Doc = %q", tgt.Doc)
	}
}

func TestDependsOnAcceptsTargetReference(t *testing.T) {
	reg := NewRegistry()
	leaf := New(reg, "leaf").Group()
	root := New(reg, "root").DependsOn(leaf).Group()

	if len(root.Deps) != 1 || root.Deps[0].Ref != leaf {
		t.Errorf("DependsOn(*Target) did not wrap it as a Dep reference")
	}
}

func TestDuplicateNamePanics(t *testing.T) {
	reg := NewRegistry()
	New(reg, "dup").Group()
	defer func() {
		if r := recover(); r == nil {
			t.Errorf("expected a panic registering a duplicate name")
		}
	}()
	New(reg, "dup").Group()
}

func TestGroupTargetIsPhonyAndUncached(t *testing.T) {
	reg := NewRegistry()
	g := New(reg, "all").DependsOn("a", "b").Group()
	if g.Kind != engine.KindGroup {
		t.Errorf("Kind = %v, want KindGroup", g.Kind)
	}
	if g.DoCache {
		t.Errorf("Group target DoCache = true, want false")
	}
}
