package source

import (
	"fmt"
	"sort"

	"github.com/badgerdata/marketpipe/internal/pipeline"
)

// Registry indexes the configured collectors by name and cadence.
type Registry struct {
	byName map[string]pipeline.Source
}

// NewRegistry builds a registry from the given sources.
func NewRegistry(sources ...pipeline.Source) (*Registry, error) {
	byName := make(map[string]pipeline.Source, len(sources))
	for _, s := range sources {
		if s == nil {
			continue
		}
		if _, dup := byName[s.Name()]; dup {
			return nil, fmt.Errorf("duplicate source %q", s.Name())
		}
		byName[s.Name()] = s
	}
	return &Registry{byName: byName}, nil
}

// Get returns the source registered under name.
func (r *Registry) Get(name string) (pipeline.Source, bool) {
	s, ok := r.byName[name]
	return s, ok
}

// Names lists registered source names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ByCadence returns sources on the given schedule, sorted by name.
func (r *Registry) ByCadence(c pipeline.Cadence) []pipeline.Source {
	var out []pipeline.Source
	for _, name := range r.Names() {
		if s := r.byName[name]; s.Cadence() == c {
			out = append(out, s)
		}
	}
	return out
}

// All returns every registered source, sorted by name.
func (r *Registry) All() []pipeline.Source {
	out := make([]pipeline.Source, 0, len(r.byName))
	for _, name := range r.Names() {
		out = append(out, r.byName[name])
	}
	return out
}
