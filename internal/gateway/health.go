package gateway

import (
	"net/http"
	"sort"
	"time"

	"github.com/flemzord/gatewayd/internal/scheduler"
)

// providerStatus is one provider's runtime state as shown on /health and
// /admin/providers.
type providerStatus struct {
	ID           string `json:"id"`
	Kind         string `json:"kind"`
	Detected     bool   `json:"detected"`
	Healthy      bool   `json:"healthy"`
	Owned        bool   `json:"owned"`
	LastError    string `json:"last_error,omitempty"`
	LastHealthAt string `json:"last_health_at,omitempty"`
	LastUsedAt   string `json:"last_used_at,omitempty"`
}

// healthResponse is the JSON response for GET /health.
type healthResponse struct {
	Status            string           `json:"status"`
	ActiveModel       string           `json:"active_model,omitempty"`
	ActiveProvider    string           `json:"active_provider,omitempty"`
	Queues            map[string]int   `json:"queues"`
	Pending           int              `json:"pending"`
	Providers         []providerStatus `json:"providers"`
	RegistryBuiltAt   time.Time        `json:"registry_built_at"`
	RegistryLastError string           `json:"registry_last_error,omitempty"`
}

// handleHealth returns liveness plus a snapshot of the scheduler and
// provider state.
func (g *Gateway) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		var stats scheduler.Stats
		if g.scheduler != nil {
			stats = g.scheduler.Stats()
		}

		resp := healthResponse{
			Status:            "ok",
			ActiveModel:       stats.ActiveModel,
			ActiveProvider:    stats.ActiveProvider,
			Queues:            stats.QueueSizes,
			Pending:           stats.Pending,
			Providers:         g.providerStatuses(),
			RegistryBuiltAt:   g.registry.Snapshot().BuiltAt,
			RegistryLastError: g.redact(g.registry.LastBuildError()),
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// statusResponse is the JSON response for GET /status.
type statusResponse struct {
	Uptime   int64            `json:"uptime_seconds"`
	Counters CountersSnapshot `json:"counters"`
	Models   int              `json:"models"`
	Pending  int              `json:"pending"`
}

// handleStatus reports uptime and aggregate counters.
func (g *Gateway) handleStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		var pending int
		if g.scheduler != nil {
			pending = g.scheduler.Stats().Pending
		}
		writeJSON(w, http.StatusOK, statusResponse{
			Uptime:   int64(time.Since(g.startedAt).Seconds()),
			Counters: g.counters.Snapshot(),
			Models:   len(g.registry.Snapshot().ModelToProvider),
			Pending:  pending,
		})
	}
}

// handleRefresh triggers a cooldown-respecting registry rebuild and
// reports the resulting summary.
func (g *Gateway) handleRefresh() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, err := g.registry.Refresh(r.Context())
		summary := g.registry.Summarize()
		if err != nil {
			writeJSON(w, http.StatusConflict, map[string]any{
				"error":   g.redact(err.Error()),
				"summary": summary,
			})
			return
		}
		writeJSON(w, http.StatusOK, summary)
	}
}

func (g *Gateway) providerStatuses() []providerStatus {
	providers := g.registry.Providers()
	ids := make([]string, 0, len(providers))
	for id := range providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]providerStatus, 0, len(ids))
	for _, id := range ids {
		p := providers[id]
		st := providerStatus{
			ID:       p.ID,
			Kind:     string(p.Kind),
			Detected: p.Detected,
			Healthy:  p.Healthy,
			Owned:    p.Owned,
		}
		st.LastError = g.redact(p.LastError)
		if !p.LastHealthAt.IsZero() {
			st.LastHealthAt = p.LastHealthAt.UTC().Format(time.RFC3339)
		}
		if !p.LastUsedAt.IsZero() {
			st.LastUsedAt = p.LastUsedAt.UTC().Format(time.RFC3339)
		}
		out = append(out, st)
	}
	return out
}

func (g *Gateway) redact(s string) string {
	if g.redactor == nil || s == "" {
		return s
	}
	return g.redactor.Redact(s)
}
