package potential

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Builder constructs a named potential. Builders run once per resolve, so
// remote handshakes happen here rather than per evaluation.
type Builder func(ctx context.Context) (Potential, error)

// Registry maps model names to builders. Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	builders map[string]Builder
}

// NewRegistry returns a registry with the built-in "lj" potential
// registered.
func NewRegistry() *Registry {
	r := &Registry{builders: make(map[string]Builder)}
	r.Register("lj", func(context.Context) (Potential, error) {
		return NewLennardJones(), nil
	})
	return r
}

func (r *Registry) Register(name string, b Builder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builders[name] = b
}

// Resolve loads the named potential. Unknown names and builder failures
// both surface as ErrUnavailable.
func (r *Registry) Resolve(ctx context.Context, name string) (Potential, error) {
	r.mu.RLock()
	b, ok := r.builders[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: unknown model %q", ErrUnavailable, name)
	}
	p, err := b(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: loading %q: %v", ErrUnavailable, name, err)
	}
	return p, nil
}

// List returns registered model names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.builders))
	for name := range r.builders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
