/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Structured request logging (zerolog)
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the web front end
  5. Identity:   /api only; tenant from X-User-ID / X-Org-ID

IDENTITY:
  Authentication happens upstream. The identity provider in front of this
  service sets X-User-ID and X-Org-ID; a request missing either is refused
  with 401 before it reaches a handler.

ROUTE GROUPS:
  /healthz              Liveness
  /api/stacks/*         Stack reference data and stock
  /api/locations/*      Location reference data and utilization
  /api/inventory        Current inventory
  /api/transactions/*   Ledger
  /api/reports          Dashboard totals

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/hayledger/main.go: Server startup
*/
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/warp/hay-ledger/ledger"
	"github.com/warp/hay-ledger/logging"
)

const (
	HeaderUserID = "X-User-ID"
	HeaderOrgID  = "X-Org-ID"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(logging.Middleware(h.log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", HeaderUserID, HeaderOrgID},
		AllowCredentials: true,
	}))

	r.Get("/healthz", h.Healthz)

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Use(Identity)

		r.Route("/stacks", func(r chi.Router) {
			r.Get("/", h.ListStacks)
			r.Post("/", h.CreateStack)
			r.Get("/{id}", h.GetStack)
			r.Put("/{id}", h.UpdateStack)
			r.Delete("/{id}", h.DeleteStack)
			r.Get("/{id}/stock", h.GetStock)
		})

		r.Route("/locations", func(r chi.Router) {
			r.Get("/", h.ListLocations)
			r.Post("/", h.CreateLocation)
			r.Get("/{id}", h.GetLocation)
			r.Put("/{id}", h.UpdateLocation)
			r.Delete("/{id}", h.DeleteLocation)
		})

		r.Get("/inventory", h.ListInventory)

		r.Route("/transactions", func(r chi.Router) {
			r.Get("/", h.ListTransactions)
			r.Post("/", h.SubmitTransaction)
			r.Get("/{id}", h.GetTransaction)
			r.Put("/{id}", h.UpdateTransaction)
			r.Delete("/{id}", h.DeleteTransaction)
		})

		r.Get("/reports", h.GetReport)
	})

	return r
}

// =============================================================================
// IDENTITY
// =============================================================================

type tenantKey struct{}

// Identity puts the caller's tenant on the request context.
func Identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenant := ledger.Tenant{
			UserID: r.Header.Get(HeaderUserID),
			OrgID:  r.Header.Get(HeaderOrgID),
		}
		if err := tenant.Validate(); err != nil {
			writeError(w, http.StatusUnauthorized, err.Error(), "unauthenticated", nil)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), tenantKey{}, tenant)))
	})
}

// tenantFrom returns the tenant set by Identity. Outside Identity it is the
// zero tenant, which the service rejects.
func tenantFrom(r *http.Request) ledger.Tenant {
	t, _ := r.Context().Value(tenantKey{}).(ledger.Tenant)
	return t
}
