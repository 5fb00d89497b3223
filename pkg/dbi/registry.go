package dbi

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"sync"

	"biostore/pkg/domain"
)

// Registry maps factory ids to factories. It is constructed explicitly and
// passed to the components that open databases.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns a registry holding the given factories.
func NewRegistry(factories ...Factory) *Registry {
	r := &Registry{factories: make(map[string]Factory, len(factories))}
	for _, f := range factories {
		r.factories[f.ID()] = f
	}
	return r
}

// Register adds or replaces a factory.
func (r *Registry) Register(f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[f.ID()] = f
}

// Factory returns the factory registered under id.
func (r *Registry) Factory(id string) (Factory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[id]
	if !ok {
		return nil, domain.Preconditionf("unknown dbi factory %q", id)
	}
	return f, nil
}

// IDs lists registered factory ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.factories))
}

// Open creates and initializes a Dbi for ref. Extra props are passed to
// Init; url and create are always set from the arguments.
func (r *Registry) Open(ctx context.Context, ref domain.DbiRef, create bool, props map[string]string) (Dbi, error) {
	if !ref.IsValid() {
		return nil, domain.Preconditionf("invalid dbi ref %q", ref.String())
	}
	f, err := r.Factory(ref.FactoryID)
	if err != nil {
		return nil, err
	}
	initProps := make(map[string]string, len(props)+2)
	maps.Copy(initProps, props)
	initProps[PropURL] = ref.DbiID
	initProps[PropCreate] = strconv.FormatBool(create)
	d := f.CreateDbi()
	if err := d.Init(ctx, initProps); err != nil {
		return nil, fmt.Errorf("open dbi %s: %w", ref, err)
	}
	return d, nil
}
