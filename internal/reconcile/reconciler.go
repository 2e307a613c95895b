// Package reconcile merges poll snapshots and push patches into the single
// published journeys collection.
package reconcile

import (
	"log"
	"sync"
	"time"

	"fleettrack/internal/metrics"
	"fleettrack/internal/model"
)

type Source string

const (
	SourcePoll Source = "poll"
	SourcePush Source = "push"
)

// Outcome of one merge.
type Outcome string

const (
	Applied    Outcome = "applied"
	Suppressed Outcome = "suppressed"
	Dropped    Outcome = "dropped"
)

// Change is delivered to observers after every applied merge. Journeys is
// the published collection and must be treated as read-only.
type Change struct {
	Journeys []model.TrackedJourney
	Version  uint64
	Source   Source
}

// Reconciler is the only writer of the journeys collection. Merges are
// serialized under mu and applied whole, so a poll snapshot and a push patch
// racing each other are applied one after the other, never interleaved.
type Reconciler struct {
	mu        sync.Mutex
	journeys  []model.TrackedJourney
	index     map[string]int
	version   uint64
	loaded    bool
	now       func() time.Time
	nextObs   int
	observers []observer
}

type observer struct {
	id int
	fn func(Change)
}

// New creates an empty Reconciler. A nil clock uses time.Now.
func New(now func() time.Time) *Reconciler {
	if now == nil {
		now = time.Now
	}
	return &Reconciler{index: map[string]int{}, now: now}
}

// Observe registers fn to run after every applied merge. fn runs while the
// reconciler is locked, in merge order, and must not call back into
// ApplySnapshot or ApplyPatch.
func (r *Reconciler) Observe(fn func(Change)) (cancel func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextObs++
	id := r.nextObs
	r.observers = append(r.observers, observer{id: id, fn: fn})
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		for i, o := range r.observers {
			if o.id == id {
				r.observers = append(r.observers[:i:i], r.observers[i+1:]...)
				return
			}
		}
	}
}

// Journeys returns the published collection and its version. The slice is
// shared; callers must not modify it.
func (r *Reconciler) Journeys() ([]model.TrackedJourney, uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.journeys, r.version
}

// Lookup returns the published instance for id.
func (r *Reconciler) Lookup(id string) (model.TrackedJourney, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.index[id]
	if !ok {
		return model.TrackedJourney{}, false
	}
	return r.journeys[i], true
}

// Loaded reports whether at least one snapshot has been applied.
func (r *Reconciler) Loaded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loaded
}

// ApplySnapshot replaces the collection with snapshot. Journeys missing from
// snapshot are dropped; a held live position is kept when the snapshot row
// has none or an older one.
func (r *Reconciler) ApplySnapshot(snapshot []model.TrackedJourney) Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	next := make([]model.TrackedJourney, 0, len(snapshot))
	index := make(map[string]int, len(snapshot))
	for _, in := range snapshot {
		if err := in.Validate(); err != nil {
			log.Printf("reconcile: skipping snapshot row: %v", err)
			continue
		}
		j := in.Clone()
		j.Normalize()
		var held *model.Location
		if pi, ok := r.index[j.ID]; ok {
			held = r.journeys[pi].Location
		}
		j.Location = newerLocation(held, stamp(held, j.Location, now))
		if i, dup := index[j.ID]; dup {
			log.Printf("reconcile: duplicate journey %s in snapshot, keeping last row", j.ID)
			next[i] = j
			continue
		}
		index[j.ID] = len(next)
		next = append(next, j)
	}
	r.loaded = true

	if model.JourneysEqual(r.journeys, next) {
		metrics.Merges.WithLabelValues(string(SourcePoll), string(Suppressed)).Inc()
		return Suppressed
	}
	r.publish(next, index, SourcePoll)
	return Applied
}

// ApplyPatch merges a push update into the journey it names. Unknown ids are
// dropped; the next snapshot introduces them.
func (r *Reconciler) ApplyPatch(u model.PositionUpdate) Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()

	i, ok := r.index[u.JourneyID]
	if !ok {
		metrics.Merges.WithLabelValues(string(SourcePush), string(Dropped)).Inc()
		return Dropped
	}
	cur := r.journeys[i]
	merged := cur
	if u.Location != nil {
		merged.Location = newerLocation(cur.Location, stamp(cur.Location, u.Location, r.now()))
	}
	if u.CurrentStopIndex != nil && *u.CurrentStopIndex >= 0 {
		merged.CurrentStopIndex = *u.CurrentStopIndex
	}
	if merged.Equal(&cur) {
		metrics.Merges.WithLabelValues(string(SourcePush), string(Suppressed)).Inc()
		return Suppressed
	}

	next := make([]model.TrackedJourney, len(r.journeys))
	copy(next, r.journeys)
	next[i] = merged
	r.publish(next, r.index, SourcePush)
	return Applied
}

// publish must be called with mu held.
func (r *Reconciler) publish(next []model.TrackedJourney, index map[string]int, src Source) {
	r.journeys = next
	r.index = index
	r.version++
	metrics.Merges.WithLabelValues(string(src), string(Applied)).Inc()
	metrics.TrackedJourneys.Set(float64(len(next)))
	ch := Change{Journeys: next, Version: r.version, Source: src}
	for _, o := range r.observers {
		o.fn(ch)
	}
}

// stamp gives an untimed incoming location a receipt time. An untimed
// repeat of the held position keeps the held timestamp so re-delivery is a
// no-op.
func stamp(held, incoming *model.Location, now time.Time) *model.Location {
	if incoming == nil || !incoming.ObservedAt.IsZero() {
		return incoming
	}
	if held != nil && held.Lat == incoming.Lat && held.Lng == incoming.Lng &&
		held.Speed == incoming.Speed && held.Heading == incoming.Heading && held.Accuracy == incoming.Accuracy {
		return held
	}
	l := *incoming
	l.ObservedAt = now
	return &l
}

// newerLocation keeps held unless incoming is at least as recent.
func newerLocation(held, incoming *model.Location) *model.Location {
	if incoming == nil {
		return held
	}
	if held != nil && incoming.ObservedAt.Before(held.ObservedAt) {
		return held
	}
	l := *incoming
	return &l
}
