package engine

import "golang.org/x/xerrors"

// Sentinel error kinds. The engine's classified errors wrap one of these
// via xerrors.Errorf("...: %w", ErrKind), so callers can classify failures
// with errors.Is without a class hierarchy. CycleError and errors from
// writing the cache file or reading a persisted log wrap none of them.
var (
	// ErrUserInput covers a missing makefile, an invalid target request, an
	// ambiguous match, or no matching target at all. Surfaced to the user
	// with a remediation hint.
	ErrUserInput = xerrors.New("user input error")

	// ErrBuildAction wraps a panic or nonzero exit from a target's make
	// action.
	ErrBuildAction = xerrors.New("build action error")

	// ErrOutputContract means a target's declared output did not exist,
	// did not change, or went backwards in time after its make action ran.
	ErrOutputContract = xerrors.New("output contract violated")

	// ErrCacheCorruption means the cache file was unreadable or malformed.
	// Never fatal: callers downgrade it to a warning and an empty cache.
	ErrCacheCorruption = xerrors.New("cache corruption")

	// ErrInternal marks an invariant violation: a programming bug in a
	// caller of the engine, not a user-facing condition.
	ErrInternal = xerrors.New("internal error")
)

// NoMatchError reports that a requested target name matched nothing.
type NoMatchError struct {
	Request string
}

func (e *NoMatchError) Error() string {
	return xerrors.Errorf("no target matches %q: %w", e.Request, ErrUserInput).Error()
}

func (e *NoMatchError) Unwrap() error { return ErrUserInput }

// AmbiguousMatchError reports that a requested target name matched more
// than one declared target.
type AmbiguousMatchError struct {
	Request string
	Matches []string
}

func (e *AmbiguousMatchError) Error() string {
	return xerrors.Errorf("request %q matches multiple targets %v: %w", e.Request, e.Matches, ErrUserInput).Error()
}

func (e *AmbiguousMatchError) Unwrap() error { return ErrUserInput }
