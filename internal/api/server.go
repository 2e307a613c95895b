// Package api serves the tracking read model to the display layer: JSON
// snapshots, a server-sent event stream of view versions, and the handful
// of operator intents (select, filter, mark read, reconnect).
package api

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fleettrack/internal/auth"
	"fleettrack/internal/channel"
	"fleettrack/internal/metrics"
	"fleettrack/internal/model"
	"fleettrack/internal/tracking"
)

// Tracker is the engine surface the handlers use.
type Tracker interface {
	View() tracking.View
	Journey(id string) (model.TrackedJourney, bool)
	Select(id string) error
	ClearSelection()
	SetFilter(c model.FilterCriteria) error
	MarkAlertsRead()
	Reconnect(ctx context.Context) error
	Connectivity() channel.State
	Subscribe() (<-chan tracking.Update, func())
}

type Server struct {
	Tracker Tracker
	// Auth guards the intent endpoints; nil leaves them open.
	Auth *auth.Verifier
	// Heartbeat is the idle interval between SSE heartbeats.
	Heartbeat time.Duration
}

func NewServer(t Tracker, v *auth.Verifier) *Server {
	return &Server{Tracker: t, Auth: v, Heartbeat: 15 * time.Second}
}

// Router builds the HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(logMiddleware)

	r.Get("/healthz", s.HealthHandler)
	r.Get("/readyz", s.ReadyHandler)
	r.Get("/debug/info", s.DebugJSON)
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	r.Route("/v1/tracking", func(r chi.Router) {
		r.Get("/view", s.ViewHandler)
		r.Get("/journeys", s.JourneysHandler)
		r.Get("/journeys/{id}", s.JourneyHandler)
		r.Get("/selection", s.SelectionHandler)
		r.Get("/alerts", s.AlertsHandler)
		r.Get("/stats", s.StatsHandler)
		r.Get("/vehicles", s.VehiclesHandler)
		r.Get("/stream", s.StreamHandler)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth)
			r.Post("/selection", s.SelectHandler)
			r.Delete("/selection", s.ClearSelectionHandler)
			r.Post("/filter", s.FilterHandler)
			r.Post("/alerts/read", s.MarkReadHandler)
			r.Post("/reconnect", s.ReconnectHandler)
		})
	})
	return r
}

func logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s %s %v", r.RemoteAddr, r.Method, r.URL.Path, time.Since(start))
	})
}
