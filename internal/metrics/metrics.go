// Package metrics holds the Prometheus collectors for the tracking engine.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated Prometheus registry for the tracker
	Registry = prometheus.NewRegistry()

	// PushEvents counts inbound channel events by kind and outcome (accepted, malformed, unknown)
	PushEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "tracking_push_events_total", Help: "Inbound push channel events."},
		[]string{"kind", "outcome"},
	)
	// PollTicks counts poll ticks by snapshot (journeys, vehicles) and outcome (ok, error)
	PollTicks = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "tracking_poll_ticks_total", Help: "Polling fallback ticks by outcome."},
		[]string{"snapshot", "outcome"},
	)
	// PollDuration records snapshot fetch latency in seconds
	PollDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "tracking_poll_duration_seconds", Help: "Snapshot fetch duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"snapshot"},
	)
	// Merges counts reconciler merges by source (poll, push) and outcome (applied, suppressed, dropped)
	Merges = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "tracking_merges_total", Help: "Reconciler merges by source and outcome."},
		[]string{"source", "outcome"},
	)
	// Alerts counts emergency alerts received by severity
	Alerts = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "tracking_alerts_total", Help: "Emergency alerts received by severity."},
		[]string{"severity"},
	)
	// Connectivity is 0 disconnected, 1 connecting, 2 connected
	Connectivity = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "tracking_connectivity_state", Help: "Push channel state (0 disconnected, 1 connecting, 2 connected)."},
	)
	// TrackedJourneys is the size of the published journeys collection
	TrackedJourneys = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "tracking_journeys", Help: "Journeys in the published collection."},
	)
)

// RegisterDefault registers the tracking collectors on Registry.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(PushEvents)
		Registry.MustRegister(PollTicks)
		Registry.MustRegister(PollDuration)
		Registry.MustRegister(Merges)
		Registry.MustRegister(Alerts)
		Registry.MustRegister(Connectivity)
		Registry.MustRegister(TrackedJourneys)
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once
