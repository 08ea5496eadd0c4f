// Package api exposes the Turnstile engine over HTTP.
//
// Admin routes manage plans, permissions and subscriptions under /admin.
// GET /access/{api_name}?user_id= performs an entitlement check, and the
// demo APIs under /api are each gated by a check on their own name.
// Responses are JSON; failures carry a {"detail": "..."} body.
package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/xraph/turnstile"
)

// Handler serves the Turnstile HTTP surface.
type Handler struct {
	engine   *turnstile.Engine
	logger   *slog.Logger
	validate *validator.Validate

	metricsPath    string
	metricsHandler http.Handler
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the logger used for request failures.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) { h.logger = logger }
}

// WithMetrics mounts a metrics handler (typically Prometheus) at path.
func WithMetrics(path string, handler http.Handler) Option {
	return func(h *Handler) {
		h.metricsPath = path
		h.metricsHandler = handler
	}
}

// New creates a Handler for engine.
func New(engine *turnstile.Engine, opts ...Option) *Handler {
	h := &Handler{
		engine:   engine,
		logger:   slog.Default(),
		validate: newValidator(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes builds the router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Route("/admin", func(r chi.Router) {
		r.Route("/plans", func(r chi.Router) {
			r.Get("/", h.ListPlans)
			r.Post("/", h.CreatePlan)
			r.Get("/{planID}", h.GetPlan)
			r.Delete("/{planID}", h.DeletePlan)
			r.Get("/{planID}/subscriptions", h.ListPlanSubscriptions)
		})

		r.Route("/permissions", func(r chi.Router) {
			r.Get("/", h.ListPermissions)
			r.Post("/", h.CreatePermission)
			r.Get("/{permissionID}", h.GetPermission)
			r.Delete("/{permissionID}", h.DeletePermission)
		})

		r.Post("/subscriptions", h.AssignSubscription)

		r.Route("/users", func(r chi.Router) {
			r.Put("/subscription/{userID}", h.UpdateUserSubscription)
			r.Get("/{userID}/subscription", h.GetSubscription)
			r.Put("/{userID}/reset-usage", h.ResetUsage)
		})
	})

	r.Get("/access/{apiName}", h.Access)

	r.Route("/api", func(r chi.Router) {
		for _, d := range demoAPIs {
			r.Get("/"+d.name, h.demo(d.name, d.payload))
		}
	})

	if h.metricsHandler != nil {
		r.Handle(h.metricsPath, h.metricsHandler)
	}

	return r
}
