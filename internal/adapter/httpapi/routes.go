package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MountRoutes registers the status and control API on the given chi
// router. The /health and /ws endpoints are wired by the daemon
// directly, outside this group.
func MountRoutes(r chi.Router, h *Handlers) {
	r.Route("/api", func(r chi.Router) {
		// Version
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"version":"0.1.0"}`))
		})

		// Accounts
		r.Get("/accounts", h.ListAccounts)
		r.Get("/accounts/{id}", h.GetAccount)
		r.Post("/accounts/{id}/start", h.StartAccount)
		r.Post("/accounts/{id}/stop", h.StopAccount)

		// Per-account introspection
		r.Get("/accounts/{id}/quota", h.GetQuotas)
		r.Get("/accounts/{id}/plan", h.GetPlan)
		r.Get("/accounts/{id}/usage", h.GetUsage)
		r.Get("/accounts/{id}/actions", h.GetActions)
	})
}
