package engine

import (
	"sync"

	"golang.org/x/exp/slices"
)

// Resolver maps a requested path or name to exactly one matching target,
// expanding '%' patterns via Target.Matches. Results are memoized for the
// lifetime of the Resolver (P6: repeated Find calls with the same request
// and target map return the same target).
type Resolver struct {
	mu   sync.Mutex
	memo map[string]*Target
}

// NewResolver returns an empty Resolver.
func NewResolver() *Resolver {
	return &Resolver{memo: make(map[string]*Target)}
}

// Find resolves request against targets: a direct name match wins
// immediately; otherwise every target is tested via Matches and the unique
// match (if any) is specialized and returned. Zero matches is a
// *NoMatchError; two or more is an *AmbiguousMatchError naming every
// candidate.
func (r *Resolver) Find(request string, targets map[string]*Target) (*Target, error) {
	r.mu.Lock()
	if t, ok := r.memo[request]; ok {
		r.mu.Unlock()
		return t, nil
	}
	r.mu.Unlock()

	if t, ok := targets[request]; ok {
		r.remember(request, t)
		return t, nil
	}

	var matchNames []string
	var matched *Target
	for name, t := range targets {
		if stem, ok := t.Matches(request); ok {
			matchNames = append(matchNames, name)
			matched = t.Specialize(stem)
		}
	}
	slices.Sort(matchNames)

	switch len(matchNames) {
	case 0:
		return nil, &NoMatchError{Request: request}
	case 1:
		r.remember(request, matched)
		return matched, nil
	default:
		return nil, &AmbiguousMatchError{Request: request, Matches: matchNames}
	}
}

func (r *Resolver) remember(request string, t *Target) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.memo[request] = t
}
