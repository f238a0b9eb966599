/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/plans/*      Plan lifecycle, deposits, withdrawals, summaries
  /api/deposits/*   Reference-keyed deposit verification
  /api/admin/*      Withdrawal review and reconciliation
  /healthz          Liveness probe

SECURITY NOTE:
  Identity is trusted from the X-User-ID header; an API gateway in front
  of this service is expected to authenticate and populate it. Admin
  routes carry no additional check here.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-User-ID"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Plan routes
		r.Route("/plans", func(r chi.Router) {
			r.Get("/", h.ListPlans)
			r.Post("/", h.CreatePlan)
			r.Get("/{id}", h.GetPlan)
			r.Get("/{id}/entries", h.ListEntries)
			r.Get("/{id}/summary", h.GetSummary)
			r.Post("/{id}/deposits", h.InitiateDeposit)
			r.Post("/{id}/withdrawals", h.RequestWithdrawal)
			r.Post("/{id}/pause", h.PausePlan)
			r.Post("/{id}/resume", h.ResumePlan)
			r.Post("/{id}/cancel", h.CancelPlan)
		})

		// Deposit verification, keyed by gateway reference
		r.Route("/deposits", func(r chi.Router) {
			r.Post("/{reference}/verify", h.VerifyDeposit)
		})

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Post("/withdrawals/{id}/approve", h.ApproveWithdrawal)
			r.Post("/withdrawals/{id}/reject", h.RejectWithdrawal)
			r.Post("/reconcile", h.TriggerReconcile)
		})
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	return r
}
