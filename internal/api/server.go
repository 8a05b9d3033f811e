// Package api exposes the sweep trigger, alert inbox and preference
// endpoints over HTTP.
package api

import (
	"context"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/smukkama/aqi-alerts/internal/database"
	"github.com/smukkama/aqi-alerts/internal/sweep"
)

// Sweeper triggers and inspects sweeps
type Sweeper interface {
	Run(ctx context.Context) (*sweep.Summary, error)
	RunForUser(ctx context.Context, userID string) (*sweep.Summary, error)
	State() sweep.State
	Last() (*sweep.Summary, error)
	Cancel() (string, bool)
}

// Store is the persistence the handlers read and write
type Store interface {
	Ping(ctx context.Context) error
	GetUser(ctx context.Context, userID string) (*database.User, error)
	UpdatePreferences(ctx context.Context, userID string, prefs database.AlertPreferences) error
	AddLocation(ctx context.Context, userID string, loc database.MonitoredLocation) error
	SetLocationAlerts(ctx context.Context, userID, name string, enabled bool) error
	RemoveLocation(ctx context.Context, userID, name string) error
	ListAlerts(ctx context.Context, userID string, unreadOnly bool, limit int) ([]*database.AlertRecord, error)
	UnreadCount(ctx context.Context, userID string) (int, error)
	MarkAlertRead(ctx context.Context, userID string, alertID int64) error
}

// NewRouter creates the chi router with all middleware and routes.
// Sweeps run on baseCtx rather than the request context, so a client
// hanging up does not abort a sweep; cancel through DELETE /api/sweeps/current.
func NewRouter(baseCtx context.Context, store Store, sweeper Sweeper) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(RequestLogger)

	h := NewHandler(baseCtx, store, sweeper)

	r.Route("/health", func(r chi.Router) {
		r.Get("/", h.HealthCheck)
		r.Get("/db", h.HealthCheckDB)
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Route("/sweeps", func(r chi.Router) {
			r.Post("/", h.TriggerSweep)
			r.Get("/current", h.CurrentSweep)
			r.Delete("/current", h.CancelSweep)
		})

		r.Route("/users/{userID}", func(r chi.Router) {
			r.Post("/check-alerts", h.CheckUser)

			r.Get("/alerts", h.ListAlerts)
			r.Get("/alerts/unread-count", h.UnreadCount)
			r.Post("/alerts/{alertID}/read", h.MarkAlertRead)

			r.Put("/preferences", h.UpdatePreferences)

			r.Post("/locations", h.AddLocation)
			r.Patch("/locations/{name}", h.SetLocationAlerts)
			r.Delete("/locations/{name}", h.RemoveLocation)
		})
	})

	return r
}
