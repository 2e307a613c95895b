package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"fleettrack/internal/channel"
	"fleettrack/internal/model"
	"fleettrack/internal/selection"
	"fleettrack/internal/stats"
)

func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ReadyHandler reports connectivity but never fails on it: polling keeps the
// view fresh while the push channel is down.
func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":       "ready",
		"connectivity": s.Tracker.Connectivity().String(),
	})
}

func (s *Server) ViewHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Tracker.View())
}

// JourneysHandler lists journeys. Query parameters status, driverId and
// vehicleId filter this response only; without any, the engine's active
// filter applies.
func (s *Server) JourneysHandler(w http.ResponseWriter, r *http.Request) {
	v := s.Tracker.View()
	q := r.URL.Query()
	if !q.Has("status") && !q.Has("driverId") && !q.Has("vehicleId") {
		writeJSON(w, http.StatusOK, map[string]any{"items": v.Filtered, "filter": v.Filter, "version": v.JourneysVersion})
		return
	}
	status, err := model.ParseStatusFilter(q.Get("status"))
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid filter", err.Error(), r.URL.Path)
		return
	}
	c := model.FilterCriteria{Status: status, DriverID: q.Get("driverId"), VehicleID: q.Get("vehicleId")}
	items := stats.Filter(v.Journeys, c, time.Now())
	if items == nil {
		items = []model.TrackedJourney{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "filter": c, "version": v.JourneysVersion})
}

func (s *Server) JourneyHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	j, ok := s.Tracker.Journey(id)
	if !ok {
		writeProblem(w, http.StatusNotFound, "Journey not found", id, r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

func (s *Server) SelectionHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Tracker.View().Selection)
}

func (s *Server) AlertsHandler(w http.ResponseWriter, r *http.Request) {
	v := s.Tracker.View()
	writeJSON(w, http.StatusOK, map[string]any{"items": v.Alerts, "unread": v.Unread, "hasUnread": v.Unread > 0})
}

func (s *Server) StatsHandler(w http.ResponseWriter, r *http.Request) {
	v := s.Tracker.View()
	writeJSON(w, http.StatusOK, map[string]any{"stats": v.Stats, "filter": v.Filter, "connected": v.Connected})
}

func (s *Server) VehiclesHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"items": s.Tracker.View().Vehicles})
}

type selectRequest struct {
	JourneyID string `json:"journeyId"`
}

func (s *Server) SelectHandler(w http.ResponseWriter, r *http.Request) {
	var req selectRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	if strings.TrimSpace(req.JourneyID) == "" {
		writeProblem(w, http.StatusBadRequest, "Missing journeyId", "", r.URL.Path)
		return
	}
	if err := s.Tracker.Select(req.JourneyID); err != nil {
		if errors.Is(err, selection.ErrUnknownJourney) {
			writeProblem(w, http.StatusNotFound, "Journey not found", req.JourneyID, r.URL.Path)
			return
		}
		writeProblem(w, http.StatusInternalServerError, "Select failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, s.Tracker.View().Selection)
}

func (s *Server) ClearSelectionHandler(w http.ResponseWriter, r *http.Request) {
	s.Tracker.ClearSelection()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) FilterHandler(w http.ResponseWriter, r *http.Request) {
	var c model.FilterCriteria
	if err := decodeJSON(w, r, &c); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	if err := s.Tracker.SetFilter(c); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid filter", err.Error(), r.URL.Path)
		return
	}
	v := s.Tracker.View()
	writeJSON(w, http.StatusOK, map[string]any{"filter": v.Filter, "stats": v.Stats})
}

func (s *Server) MarkReadHandler(w http.ResponseWriter, r *http.Request) {
	s.Tracker.MarkAlertsRead()
	w.WriteHeader(http.StatusNoContent)
}

// ReconnectHandler re-invokes the channel connect. A failure is reported
// but the engine keeps polling.
func (s *Server) ReconnectHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()
	err := s.Tracker.Reconnect(ctx)
	state := s.Tracker.Connectivity()
	if err != nil {
		writeJSON(w, http.StatusAccepted, map[string]any{
			"connectivity": state.String(),
			"error":        err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"connectivity": state.String(), "connected": state == channel.Connected})
}
