package vcs

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Factory builds a fresh adapter.
type Factory func() Adapter

// Registry maps a system name to the factory of its adapter. Lookups are case
// insensitive.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	names     map[string]string
}

func NewRegistry() *Registry {
	return &Registry{factories: map[string]Factory{}, names: map[string]string{}}
}

func (r *Registry) Register(name string, f Factory) error {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return fmt.Errorf("register adapter: empty name")
	}
	if f == nil {
		return fmt.Errorf("register adapter %s: nil factory", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[key]; ok {
		return fmt.Errorf("register adapter %s: already registered", name)
	}
	r.factories[key] = f
	r.names[key] = name
	return nil
}

func (r *Registry) New(name string) (Adapter, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	r.mu.RLock()
	f, ok := r.factories[key]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown vcs %q (available: %s)", name, strings.Join(r.Names(), ", "))
	}
	return f(), nil
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.names))
	for _, n := range r.names {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
