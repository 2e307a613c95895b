package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// StreamHandler pushes view version updates as server-sent events. Clients
// refetch /v1/tracking/view (or the narrower resources) on each event.
func (s *Server) StreamHandler(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeProblem(w, http.StatusInternalServerError, "Streaming unsupported", "", r.URL.Path)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, cancel := s.Tracker.Subscribe()
	defer cancel()

	v := s.Tracker.View()
	fmt.Fprintf(w, "event: snapshot\n")
	fmt.Fprintf(w, "data: {\"version\":%d,\"connectivity\":%q}\n\n", v.Version, v.Connectivity)
	flusher.Flush()

	heartbeat := s.Heartbeat
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case u, ok := <-ch:
			if !ok {
				return
			}
			b, _ := json.Marshal(u)
			fmt.Fprintf(w, "event: %s\n", u.Kind)
			fmt.Fprintf(w, "data: %s\n\n", string(b))
			flusher.Flush()
		case <-ticker.C:
			fmt.Fprintf(w, "event: heartbeat\n")
			fmt.Fprintf(w, "data: {\"ts\":%q}\n\n", time.Now().UTC().Format(time.RFC3339))
			flusher.Flush()
		}
	}
}
