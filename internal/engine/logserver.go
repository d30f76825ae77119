package engine

import (
	"encoding/json"
	"net/http"
	"sort"

	"github.com/lpar/gzipped/v2"
)

// StatusEntry is one row of the JSON show-targets payload served by the
// handler NewStatusHandler returns.
type StatusEntry struct {
	Name    string   `json:"name"`
	Output  string   `json:"output,omitempty"`
	Kind    string   `json:"kind"`
	Deps    []string `json:"deps"`
	Doc     string   `json:"doc,omitempty"`
	Cached  bool     `json:"cached"`
	CacheTs float64  `json:"cache_ts,omitempty"`
}

// NewStatusHandler returns an http.Handler serving show-targets as JSON at
// "/targets" and pre-gzipped persisted build logs at "/logs/<name>",
// grounded on cmd/distri/distri.go's existing "-listen"/net/http wiring
// (there gated behind net/http/pprof; here repurposed to serve build
// status instead of profiles), per SPEC_FULL.md §6's "-listen host:port".
func NewStatusHandler(targets map[string]*Target, cache *Cache) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/targets", func(w http.ResponseWriter, r *http.Request) {
		names := make([]string, 0, len(targets))
		for name := range targets {
			names = append(names, name)
		}
		sort.Strings(names)

		entries := make([]StatusEntry, 0, len(names))
		for _, name := range names {
			t := targets[name]
			deps := make([]string, len(t.Deps))
			for i, d := range t.Deps {
				deps[i] = d.String()
			}
			e := StatusEntry{
				Name: name,
				Kind: t.Kind.String(),
				Deps: deps,
				Doc:  t.Doc,
			}
			if t.Output != nil {
				e.Output = *t.Output
			}
			if ts, ok := cache.Get(t); ok {
				e.Cached = true
				e.CacheTs = ts
			}
			entries = append(entries, e)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(entries)
	})

	if logDir != "" {
		mux.Handle("/logs/", http.StripPrefix("/logs/", gzipped.FileServer(http.Dir(logDir))))
	}

	return mux
}
