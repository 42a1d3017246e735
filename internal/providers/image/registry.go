package image

import (
	"fmt"
	"sort"
	"strings"

	"maskstudio/internal/domain"
)

// Registry resolves providers by name.
type Registry struct {
	providers map[string]Provider
	fallback  string
}

// NewRegistry registers providers under their Name. The first one becomes
// the default.
func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		if p == nil {
			continue
		}
		name := strings.ToLower(p.Name())
		if r.fallback == "" {
			r.fallback = name
		}
		r.providers[name] = p
	}
	return r
}

// Get returns the named provider, or the default one when name is empty.
func (r *Registry) Get(name string) (Provider, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = r.fallback
	}
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnsupportedProvider, name)
	}
	return p, nil
}

// Default returns the default provider name.
func (r *Registry) Default() string {
	return r.fallback
}

// Names lists the registered providers.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
