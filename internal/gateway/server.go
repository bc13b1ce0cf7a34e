package gateway

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

// buildRouter constructs the chi mux with all routes wired.
func (g *Gateway) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Public — no auth required.
	r.Get("/health", g.handleHealth())
	r.Get("/status", g.handleStatus())
	r.Get("/metrics", g.metrics.Handler().ServeHTTP)

	// OpenAI-compatible surface.
	r.Get("/v1/models", g.handleListModels())
	r.Post("/v1/chat/completions", g.handleChatCompletions())

	r.Post("/refresh", g.handleRefresh())

	// Admin — bearer auth when a token is configured.
	r.Group(func(r chi.Router) {
		if g.cfg.Server.AdminToken != "" {
			r.Use(bearerAuth(g.cfg.Server.AdminToken))
		}
		r.Get("/admin/providers", g.handleAdminProviders())
		r.Get("/admin/registry", g.handleAdminRegistry())
		r.Get("/admin/requests", g.handleAdminRequests())
	})

	return r
}

// bearerAuth validates the Authorization header against token using a
// constant-time comparison.
func bearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if after, ok := strings.CutPrefix(auth, "Bearer "); ok {
				if subtle.ConstantTimeCompare([]byte(after), []byte(token)) == 1 {
					next.ServeHTTP(w, r)
					return
				}
			}
			http.Error(w, "unauthorized", http.StatusUnauthorized)
		})
	}
}
