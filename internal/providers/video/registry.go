package video

import (
	"fmt"
	"sort"

	"clipgen/internal/domain"
)

// Registry resolves engine names to vendors.
type Registry struct {
	byName map[string]Generator
}

func NewRegistry(gens ...Generator) *Registry {
	r := &Registry{byName: make(map[string]Generator, len(gens))}
	for _, g := range gens {
		if g != nil {
			r.byName[g.Name()] = g
		}
	}
	return r
}

func (r *Registry) Get(name string) (Generator, error) {
	g, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("video: unknown engine %q: %w", name, domain.ErrInvalidInput)
	}
	return g, nil
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.byName))
	for n := range r.byName {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
