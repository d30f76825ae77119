package engine

import (
	"errors"
	"testing"
)

func mustFileTarget(t *testing.T, output string, deps []Dep) *Target {
	t.Helper()
	ft, err := NewFileTarget(output, deps, true, ".", NoopAction{})
	if err != nil {
		t.Fatal(err)
	}
	return ft
}

func TestResolverDirectLookup(t *testing.T) {
	all := NewPhonyTarget("all", nil, false, ".", NoopAction{})
	targets := map[string]*Target{"all": all}

	r := NewResolver()
	got, err := r.Find("all", targets)
	if err != nil {
		t.Fatal(err)
	}
	if got != all {
		t.Errorf("Find(all) returned a different target than the one registered")
	}
}

func TestResolverWildcardUniqueMatch(t *testing.T) {
	pattern := mustFileTarget(t, "build/%.o", nil)
	targets := map[string]*Target{"obj": pattern}

	r := NewResolver()
	got, err := r.Find("build/foo.o", targets)
	if err != nil {
		t.Fatal(err)
	}
	if got.Output == nil || *got.Output != "build/foo.o" {
		t.Errorf("Find specialized to %v, want build/foo.o", got.Output)
	}
}

func TestResolverNoMatch(t *testing.T) {
	targets := map[string]*Target{"obj": mustFileTarget(t, "build/%.o", nil)}
	r := NewResolver()
	_, err := r.Find("build/foo.c", targets)
	var nme *NoMatchError
	if !errors.As(err, &nme) {
		t.Fatalf("Find(build/foo.c) error = %v, want *NoMatchError", err)
	}
	if !errors.Is(err, ErrUserInput) {
		t.Errorf("NoMatchError does not unwrap to ErrUserInput")
	}
}

func TestResolverAmbiguousMatch(t *testing.T) {
	targets := map[string]*Target{
		"a": mustFileTarget(t, "report-%", nil),
		"b": mustFileTarget(t, "%-report", nil),
	}
	r := NewResolver()
	_, err := r.Find("report-report", targets)
	var ame *AmbiguousMatchError
	if !errors.As(err, &ame) {
		t.Fatalf("Find(report-report) error = %v, want *AmbiguousMatchError", err)
	}
	if len(ame.Matches) != 2 {
		t.Errorf("AmbiguousMatchError.Matches = %v, want 2 entries", ame.Matches)
	}
}

// P6: repeated Find calls for the same request return the same target.
func TestResolverMemoizes(t *testing.T) {
	targets := map[string]*Target{"obj": mustFileTarget(t, "build/%.o", nil)}
	r := NewResolver()
	first, err := r.Find("build/foo.o", targets)
	if err != nil {
		t.Fatal(err)
	}
	second, err := r.Find("build/foo.o", targets)
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Errorf("Find returned different target pointers for the same request across calls")
	}
}
