package transport

import (
	"fmt"
	"sort"
	"sync"
)

// Factory builds a Transport. Registered factories run at most once per
// Registry; the result is cached and shared by all callers.
type Factory func() (Transport, error)

// Registry maps proto strings to transports, building them on first use.
type Registry struct {
	mu        sync.Mutex
	factories map[string]Factory
	active    map[string]Transport
}

func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		active:    make(map[string]Transport),
	}
}

// Register installs a factory for proto, replacing any previous one.
func (r *Registry) Register(proto string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[proto] = f
	delete(r.active, proto)
}

// Get returns the transport for proto, constructing it on first use.
func (r *Registry) Get(proto string) (Transport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.active[proto]; ok {
		return t, nil
	}
	f, ok := r.factories[proto]
	if !ok {
		return nil, fmt.Errorf("transport: unknown proto %q", proto)
	}
	t, err := f()
	if err != nil {
		return nil, fmt.Errorf("transport: build %s: %w", proto, err)
	}
	r.active[proto] = t
	return t, nil
}

// Active returns the transports constructed so far, sorted by proto.
func (r *Registry) Active() []Transport {
	r.mu.Lock()
	defer r.mu.Unlock()
	protos := make([]string, 0, len(r.active))
	for p := range r.active {
		protos = append(protos, p)
	}
	sort.Strings(protos)
	out := make([]Transport, 0, len(protos))
	for _, p := range protos {
		out = append(out, r.active[p])
	}
	return out
}

// Protos returns all registered proto names, sorted.
func (r *Registry) Protos() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.factories))
	for p := range r.factories {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
