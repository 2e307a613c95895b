package api

import (
	"net/http"
	"os"
	"time"

	"fleettrack/internal/buildinfo"
)

func (s *Server) DebugJSON(w http.ResponseWriter, r *http.Request) {
	v := s.Tracker.View()
	writeJSON(w, http.StatusOK, map[string]any{
		"build": buildinfo.Current(),
		"time":  time.Now().UTC().Format(time.RFC3339),
		"tracking": map[string]any{
			"version":      v.Version,
			"journeys":     len(v.Journeys),
			"alerts":       len(v.Alerts),
			"connectivity": v.Connectivity,
		},
		"config": map[string]any{
			"POLL_INTERVAL":    os.Getenv("POLL_INTERVAL"),
			"HAS_DATABASE_URL": os.Getenv("DATABASE_URL") != "",
			"HAS_REDIS_URL":    os.Getenv("REDIS_URL") != "",
			"HAS_FCM_TOPIC":    os.Getenv("ALERT_FCM_TOPIC") != "",
		},
	})
}
