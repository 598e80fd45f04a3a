// Package source provides priority.SourceAdapter and priority.ResponseDetector
// implementations: a generic HTTP feed, an HTTP response detector and a
// static adapter for tests and the CLI.
package source

import (
	"slices"
	"strings"

	"github.com/linnemanlabs/surfacer/internal/priority"
)

// Registry holds the configured source adapters, keyed by name.
type Registry struct {
	adapters map[string]priority.SourceAdapter
}

// NewRegistry creates an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]priority.SourceAdapter)}
}

// Register adds an adapter, replacing any adapter with the same name.
func (r *Registry) Register(a priority.SourceAdapter) {
	r.adapters[a.Name()] = a
}

// Get retrieves an adapter by name.
func (r *Registry) Get(name string) (priority.SourceAdapter, bool) {
	a, ok := r.adapters[name]
	return a, ok
}

// Adapters returns the registered adapters sorted by name.
func (r *Registry) Adapters() []priority.SourceAdapter {
	out := make([]priority.SourceAdapter, 0, len(r.adapters))
	for _, a := range r.adapters {
		out = append(out, a)
	}
	slices.SortFunc(out, func(a, b priority.SourceAdapter) int { return strings.Compare(a.Name(), b.Name()) })
	return out
}

// Len is the number of registered adapters.
func (r *Registry) Len() int { return len(r.adapters) }
