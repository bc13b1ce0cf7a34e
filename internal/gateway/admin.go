package gateway

import (
	"net/http"
	"strconv"
)

// handleAdminProviders reports each provider's lifecycle state plus a
// synthetic "registry" entry carrying the last build failure, so a
// duplicate-model conflict is visible without log access.
func (g *Gateway) handleAdminProviders() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		statuses := g.providerStatuses()
		if buildErr := g.registry.LastBuildError(); buildErr != "" {
			statuses = append(statuses, providerStatus{
				ID:        "registry",
				Kind:      "internal",
				Detected:  true,
				LastError: g.redact(buildErr),
			})
		}
		writeJSON(w, http.StatusOK, statuses)
	}
}

// handleAdminRegistry dumps the published model→provider mapping.
func (g *Gateway) handleAdminRegistry() http.HandlerFunc {
	type registryDump struct {
		Models     map[string]string   `json:"models"`
		Duplicates map[string][]string `json:"duplicates,omitempty"`
		BuiltAt    string              `json:"built_at"`
	}
	return func(w http.ResponseWriter, _ *http.Request) {
		snap := g.registry.Snapshot()
		writeJSON(w, http.StatusOK, registryDump{
			Models:     snap.ModelToProvider,
			Duplicates: g.registry.Duplicates(),
			BuiltAt:    snap.BuiltAt.UTC().Format("2006-01-02T15:04:05Z"),
		})
	}
}

// handleAdminRequests returns the most recent completed requests from the
// in-memory ring, newest first. ?n= bounds the count.
func (g *Gateway) handleAdminRequests() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if g.reqlog == nil {
			writeJSON(w, http.StatusOK, []any{})
			return
		}
		n := 50
		if raw := r.URL.Query().Get("n"); raw != "" {
			if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
				n = parsed
			}
		}
		writeJSON(w, http.StatusOK, g.reqlog.Recent(n))
	}
}
