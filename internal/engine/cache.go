package engine

import (
	"encoding/json"
	"os"
	"sync"

	"github.com/google/renameio"
	"golang.org/x/xerrors"
)

// Cache is the persistent mapping from target identity (CacheKey) to the
// POSIX timestamp of its last successful build. It is loaded once at
// startup, mutated by the scheduler as rebuilds complete, and saved
// atomically.
type Cache struct {
	mu      sync.Mutex
	path    string
	entries map[string]float64
}

// LoadCache opens the cache file at path. A missing file is not an error:
// the cache starts empty. A malformed file is ErrCacheCorruption, which is
// never fatal — the caller is expected to log a warning and proceed with an
// empty cache.
func LoadCache(path string) (*Cache, error) {
	c := &Cache{path: path, entries: make(map[string]float64)}
	if path == "" {
		return c, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return c, xerrors.Errorf("reading %s: %w: %v", path, ErrCacheCorruption, err)
	}
	var raw map[string]float64
	if err := json.Unmarshal(b, &raw); err != nil {
		return c, xerrors.Errorf("parsing %s: %w: %v", path, ErrCacheCorruption, err)
	}
	c.entries = raw
	return c, nil
}

// Reconcile keeps every loaded identifier that is the CacheKey of a
// current target, resolves the rest against the current target map (via
// resolver), and discards entries that no longer correspond to any
// target. debugf is called once per discarded entry.
func (c *Cache) Reconcile(targets map[string]*Target, resolver *Resolver, debugf func(format string, args ...interface{})) {
	c.mu.Lock()
	defer c.mu.Unlock()
	live := make(map[string]bool, len(targets))
	for _, t := range targets {
		live[t.CacheKey()] = true
	}
	for key := range c.entries {
		if live[key] {
			continue
		}
		if _, err := resolver.Find(key, targets); err != nil {
			debugf("discarding stale cache entry %q: %v", key, err)
			delete(c.entries, key)
		}
	}
}

// Get returns the cached timestamp for t, if any.
func (c *Cache) Get(t *Target) (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ts, ok := c.entries[t.CacheKey()]
	return ts, ok
}

// Set records timestamp as t's last-build time. It is an InternalError
// (programming bug) to set a cache entry for a wildcard pattern target or
// for a target with DoCache false.
func (c *Cache) Set(t *Target, timestamp float64) error {
	if t.HasWildcard() {
		return xerrors.Errorf("refusing to cache pattern target %q: %w", t.Name, ErrInternal)
	}
	if !t.DoCache {
		return xerrors.Errorf("refusing to cache %q, which has do_cache=false: %w", t.Name, ErrInternal)
	}
	c.mu.Lock()
	c.entries[t.CacheKey()] = timestamp
	c.mu.Unlock()
	return c.Save()
}

// Remove evicts t's cache entry, used by Clean on phony targets.
func (c *Cache) Remove(t *Target) {
	c.mu.Lock()
	delete(c.entries, t.CacheKey())
	c.mu.Unlock()
}

// Save atomically writes the entire mapping to disk. A no-op if the cache
// was constructed without a path (e.g. --no-cache).
func (c *Cache) Save() error {
	if c.path == "" {
		return nil
	}
	c.mu.Lock()
	enc, err := json.MarshalIndent(c.entries, "", "  ")
	c.mu.Unlock()
	if err != nil {
		return xerrors.Errorf("marshaling cache: %w", err)
	}
	if err := renameio.WriteFile(c.path, enc, 0o644); err != nil {
		return xerrors.Errorf("writing cache %s: %w", c.path, err)
	}
	return nil
}
