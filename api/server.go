/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. Logger:        Request logging
  2. Recoverer:     Panic recovery (500 instead of crash)
  3. RequestID:     Unique ID per request for tracing
  4. CORS:          Cross-origin requests for the presentation layer
  5. Authenticator: Bearer token -> Caller (everything under /api)

ROUTE GROUPS:
  /api/checkouts/*    Cylinder checkout batches      (module: checkouts)
  /api/checkins/*     Sample intake queue            (module: checkins)
  /api/workorders/*   Work-order assembly and edits  (module: workorders)
  /api/pricing/*      Price quotes                   (module: pricing)
  /api/catalog/*      Reference-data administration  (module: catalog)

SEE ALSO:
  - handlers.go: Handler implementations
  - middleware.go: Authentication
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/labworks/custody-engine/access"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, auth *Authenticator) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Use(auth.Middleware)

		// Checkout routes
		r.Route("/checkouts", func(r chi.Router) {
			r.Use(RequireModule(access.ModuleCheckouts))
			r.Get("/", h.ListCheckouts)
			r.Get("/session", h.GetSession)
			r.Post("/scans", h.ScanCylinder)
			r.Delete("/scans/{number}", h.UnscanCylinder)
			r.Post("/selection", h.SetSelection)
			r.Post("/confirm", h.ConfirmCheckout)
		})

		// Check-in routes
		r.Route("/checkins", func(r chi.Router) {
			r.Use(RequireModule(access.ModuleCheckins))
			r.Get("/", h.ListCheckIns)
			r.Post("/", h.AddCheckIn)
			r.Delete("/{id}", h.RemoveCheckIn)
		})

		// Work order routes
		r.Route("/workorders", func(r chi.Router) {
			r.Use(RequireModule(access.ModuleWorkOrders))
			r.Get("/", h.ListWorkOrders)
			r.Post("/", h.AssembleWorkOrder)
			r.Put("/lines/{id}", h.UpdateWorkOrderLine)
			r.Get("/{number}", h.GetWorkOrder)
			r.Put("/{number}/fees", h.UpdateWorkOrderFees)
			r.Post("/{number}/advance", h.AdvanceWorkOrderStatus)
		})

		// Pricing routes
		r.Route("/pricing", func(r chi.Router) {
			r.Use(RequireModule(access.ModulePricing))
			r.Get("/{code}", h.GetPriceBreakdown)
		})

		// Catalog routes
		r.Route("/catalog", func(r chi.Router) {
			r.Use(RequireModule(access.ModuleCatalog))
			r.Post("/pricebook", h.ImportPriceBook)
			r.Post("/refresh", h.RefreshCatalog)
		})
	})

	return r
}
