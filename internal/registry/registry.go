// Package registry builds and serves the model→provider mapping. Rebuilds
// are serialized by a single mutex; readers obtain a snapshot reference
// and never block on a rebuild in progress, mirroring the immutable
// published-pointer idiom this codebase uses for cross-module state.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/flemzord/gatewayd/internal/catalog"
)

// Prober is the subset of the supervisor a registry build needs: detect
// and probe, never start. Lazy-start during a build is explicitly the
// scheduler's job, not the registry's.
type Prober interface {
	Detect(ctx context.Context, p *catalog.Provider) bool
	Probe(ctx context.Context, p *catalog.Provider) bool
}

// Registry holds the configured providers and serves the latest snapshot.
type Registry struct {
	logger     *slog.Logger
	prober     Prober
	client     *http.Client
	providers  map[string]*catalog.Provider
	precedence []string
	cooldown   time.Duration

	mu         sync.Mutex // serializes Build and guards the fields below
	lastBuilt  time.Time
	lastErr    string
	duplicates map[string][]string

	snapshot atomic.Pointer[catalog.Snapshot]

	refreshGroup singleflight.Group
}

// New creates a Registry over the given providers. precedence breaks ties
// when a model id is declared by more than one provider; cooldown bounds
// how often Refresh actually rebuilds.
func New(logger *slog.Logger, providers map[string]*catalog.Provider, precedence []string, cooldown time.Duration, prober Prober) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	r := &Registry{
		logger:     logger,
		prober:     prober,
		client:     &http.Client{Timeout: 5 * time.Second},
		providers:  providers,
		precedence: precedence,
		cooldown:   cooldown,
	}
	r.snapshot.Store(&catalog.Snapshot{ModelToProvider: map[string]string{}})
	return r
}

// Snapshot returns the currently published snapshot. Never blocks.
func (r *Registry) Snapshot() *catalog.Snapshot {
	return r.snapshot.Load()
}

// Lookup resolves a model id against the current snapshot.
func (r *Registry) Lookup(modelID string) (string, bool) {
	return r.Snapshot().Lookup(modelID)
}

// Providers returns the configured provider set, keyed by id.
func (r *Registry) Providers() map[string]*catalog.Provider {
	return r.providers
}

// LastBuildError returns the failure message of the most recent build, or
// empty when it succeeded. Surfaced through the admin endpoints.
func (r *Registry) LastBuildError() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr
}

// Duplicates returns the unresolved duplicate report of the most recent
// failed build, or nil.
func (r *Registry) Duplicates() map[string][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.duplicates
}

// Build runs detect/probe against every configured provider, collects
// model listings for available ones, and, absent a duplicate conflict,
// publishes a new snapshot. On a duplicate conflict with no precedence
// entry for the contested model, the build fails and the previous
// snapshot remains in effect.
func (r *Registry) Build(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	modelToProvider := make(map[string]string)
	duplicates := make(map[string][]string)

	ids := make([]string, 0, len(r.providers))
	for id := range r.providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		p := r.providers[id]
		p.Lock()
		// A rebuild restores the start-attempt budget: an operator fixing
		// a broken backend and hitting /refresh expects the next job to
		// try launching again.
		p.StartAttempts = 0
		detected := r.prober.Detect(ctx, p)
		if !detected && !p.Start.Enabled {
			p.LastError = "not detected and start disabled"
			p.Unlock()
			continue
		}

		available := r.prober.Probe(ctx, p)

		models := p.Listing.DeclaredModels
		if len(models) == 0 {
			if !available {
				// A startable provider with no declared list has nothing
				// to contribute until the scheduler brings it up.
				p.Unlock()
				continue
			}
			listed, err := r.listModels(ctx, p)
			if err != nil {
				p.LastError = err.Error()
				p.Unlock()
				continue
			}
			models = listed
		}
		p.Unlock()

		for _, m := range models {
			if existing, ok := modelToProvider[m]; ok && existing != id {
				duplicates[m] = append(duplicates[m], existing, id)
				continue
			}
			modelToProvider[m] = id
		}
	}

	if len(duplicates) > 0 {
		unresolved := r.resolveDuplicates(duplicates, modelToProvider)
		if len(unresolved) > 0 {
			r.duplicates = unresolved
			r.lastErr = fmt.Sprintf("duplicate model ids with no precedence: %v", keysOf(unresolved))
			r.lastBuilt = time.Now()
			r.logger.Error("registry: build failed, duplicate model ids with no precedence", "models", keysOf(unresolved))
			return fmt.Errorf("registry: %s", r.lastErr)
		}
	}

	r.snapshot.Store(&catalog.Snapshot{
		ModelToProvider: modelToProvider,
		BuiltAt:         time.Now(),
	})
	r.lastBuilt = time.Now()
	r.lastErr = ""
	r.duplicates = nil
	r.logger.Info("registry: build complete", "models", len(modelToProvider))
	return nil
}

// resolveDuplicates applies the configured precedence list to every
// contested model id, mutating modelToProvider in place for ids it can
// resolve. It returns the subset of duplicates it could NOT resolve.
func (r *Registry) resolveDuplicates(duplicates map[string][]string, modelToProvider map[string]string) map[string][]string {
	unresolved := make(map[string][]string)
	rank := make(map[string]int, len(r.precedence))
	for i, id := range r.precedence {
		rank[id] = i
	}

	for model, providers := range duplicates {
		all := append([]string{modelToProvider[model]}, providers...)
		best := ""
		bestRank := len(r.precedence) + 1
		seen := map[string]struct{}{}
		var contenders []string
		for _, id := range all {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			contenders = append(contenders, id)
			if rnk, ok := rank[id]; ok && rnk < bestRank {
				bestRank = rnk
				best = id
			}
		}
		if best == "" {
			unresolved[model] = contenders
			continue
		}
		modelToProvider[model] = best
	}
	return unresolved
}

// Refresh rebuilds the snapshot, obeying the refresh cooldown: if the last
// build is younger than the cooldown, it returns the current snapshot
// without rebuilding. Concurrent callers collapse into a single build.
func (r *Registry) Refresh(ctx context.Context) (*catalog.Snapshot, error) {
	r.mu.Lock()
	withinCooldown := !r.lastBuilt.IsZero() && time.Since(r.lastBuilt) < r.cooldown
	r.mu.Unlock()

	if withinCooldown {
		return r.Snapshot(), nil
	}

	_, err, _ := r.refreshGroup.Do("refresh", func() (any, error) {
		return nil, r.Build(ctx)
	})
	return r.Snapshot(), err
}

// RefreshOnMiss is the router's hook for exactly one cooldown-respecting
// rebuild attempt when a requested model is absent from the snapshot.
func (r *Registry) RefreshOnMiss(ctx context.Context, modelID string) (string, bool) {
	snap, err := r.Refresh(ctx)
	if err != nil {
		return "", false
	}
	return snap.Lookup(modelID)
}

// Summary describes the published snapshot for POST /refresh responses.
type Summary struct {
	Providers  int                 `json:"providers"`
	Models     int                 `json:"models"`
	Duplicates map[string][]string `json:"duplicates,omitempty"`
	BuiltAt    time.Time           `json:"built_at"`
}

// Summarize reports the current snapshot's shape.
func (r *Registry) Summarize() Summary {
	snap := r.Snapshot()
	return Summary{
		Providers:  len(r.providers),
		Models:     len(snap.ModelToProvider),
		Duplicates: r.Duplicates(),
		BuiltAt:    snap.BuiltAt,
	}
}

func (r *Registry) listModels(ctx context.Context, p *catalog.Provider) ([]string, error) {
	method := p.Listing.Method
	if method == "" {
		method = http.MethodGet
	}
	reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, method, p.BaseURL+p.Listing.Path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("listing models: unexpected status %d", resp.StatusCode)
	}

	switch p.Kind {
	case catalog.KindOllama:
		var parsed struct {
			Models []struct {
				Name string `json:"name"`
			} `json:"models"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			return nil, err
		}
		out := make([]string, len(parsed.Models))
		for i, m := range parsed.Models {
			out[i] = m.Name
		}
		return out, nil
	default:
		var parsed struct {
			Data []struct {
				ID string `json:"id"`
			} `json:"data"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			return nil, err
		}
		out := make([]string, len(parsed.Data))
		for i, m := range parsed.Data {
			out[i] = m.ID
		}
		return out, nil
	}
}

func keysOf(m map[string][]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
