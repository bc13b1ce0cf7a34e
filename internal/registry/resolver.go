package registry

import (
	"github.com/flemzord/gatewayd/internal/catalog"
)

// Resolver answers the scheduler's two questions: which provider serves a
// model right now, and how does that model score. Lookups go through the
// published snapshot, so a resolver never blocks on a rebuild.
type Resolver struct {
	registry *Registry
	models   map[string]catalog.Model
}

// NewResolver creates a Resolver over the registry and the per-model
// scoring overrides from models.yaml.
func NewResolver(r *Registry, models map[string]catalog.Model) *Resolver {
	if models == nil {
		models = map[string]catalog.Model{}
	}
	return &Resolver{registry: r, models: models}
}

// Provider returns the provider currently bound to modelID.
func (r *Resolver) Provider(modelID string) (*catalog.Provider, bool) {
	pid, ok := r.registry.Lookup(modelID)
	if !ok {
		return nil, false
	}
	p, ok := r.registry.providers[pid]
	return p, ok
}

// Model returns modelID's scoring attributes. Models without an override
// entry score with zero-value attributes, so the result is total: every
// queued model id yields a usable candidate.
func (r *Resolver) Model(modelID string) (catalog.Model, bool) {
	if m, ok := r.models[modelID]; ok {
		if pid, bound := r.registry.Lookup(modelID); bound {
			m.ProviderID = pid
		}
		return m, true
	}
	m := catalog.Model{ID: modelID}
	if pid, bound := r.registry.Lookup(modelID); bound {
		m.ProviderID = pid
	}
	return m, true
}
