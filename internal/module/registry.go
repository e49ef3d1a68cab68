package module

import (
	"fmt"
	"sort"
	"sync"

	"github.com/kingrea/converge/internal/contracts"
)

// Factory constructs a module instance.
type Factory func() (Module, error)

// Registry maintains known module factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: map[string]Factory{}}
}

// Register installs a module factory. Returns an error if the ID already exists.
func (r *Registry) Register(id string, factory Factory) error {
	if id == "" {
		return fmt.Errorf("module: id is required")
	}
	if factory == nil {
		return fmt.Errorf("module: factory is required for %s", id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[id]; exists {
		return fmt.Errorf("module: %s already registered", id)
	}
	r.factories[id] = factory
	return nil
}

// MustRegister panics if registration fails.
func (r *Registry) MustRegister(id string, factory Factory) {
	if err := r.Register(id, factory); err != nil {
		panic(err)
	}
}

// Resolve constructs a module by ID.
func (r *Registry) Resolve(id string) (Module, error) {
	r.mu.RLock()
	factory, ok := r.factories[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("module: unknown id %s", id)
	}
	mod, err := factory()
	if err != nil {
		return nil, err
	}
	if err := mod.Info().Validate(); err != nil {
		return nil, err
	}
	return mod, nil
}

// Invoke resolves the module, validates raw arguments against its spec, and
// runs it. Spec violations become a failed result rather than an error so a
// bad task fails its host without aborting the whole run.
func (r *Registry) Invoke(ctx *RunContext, id string, raw map[string]any) (Result, error) {
	mod, err := r.Resolve(id)
	if err != nil {
		return Result{}, err
	}
	report := contracts.Check(id, mod.Spec(), raw)
	if !report.IsValid() {
		return Failf("%s: %s", id, report.Summary()), nil
	}
	return mod.Run(ctx, report.Params), nil
}

// IDs returns a sorted list of registered module identifiers.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.factories))
	for id := range r.factories {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
