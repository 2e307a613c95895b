// Package store provides snapshot sources backed by process memory or by
// the dispatch database's tracking read model.
package store

import (
	"context"
	"sync"

	"fleettrack/internal/model"
)

// Memory is an in-process snapshot source. It backs tests, demos and the
// dev channel server.
type Memory struct {
	mu       sync.Mutex
	journeys []model.TrackedJourney
	vehicles []model.ActiveVehicle
	err      error
	fetches  int
}

func NewMemory() *Memory { return &Memory{} }

// SetJourneys replaces the active journeys snapshot.
func (m *Memory) SetJourneys(js []model.TrackedJourney) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.journeys = cloneJourneys(js)
}

func (m *Memory) SetVehicles(vs []model.ActiveVehicle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vehicles = append([]model.ActiveVehicle(nil), vs...)
}

// FailWith makes every fetch return err until called again with nil.
func (m *Memory) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Fetches counts FetchActiveJourneys calls.
func (m *Memory) Fetches() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fetches
}

func (m *Memory) FetchActiveJourneys(ctx context.Context) ([]model.TrackedJourney, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetches++
	if m.err != nil {
		return nil, m.err
	}
	return cloneJourneys(m.journeys), nil
}

func (m *Memory) FetchActiveVehicles(ctx context.Context) ([]model.ActiveVehicle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return append([]model.ActiveVehicle(nil), m.vehicles...), nil
}

func cloneJourneys(js []model.TrackedJourney) []model.TrackedJourney {
	if js == nil {
		return nil
	}
	out := make([]model.TrackedJourney, len(js))
	for i := range js {
		out[i] = js[i].Clone()
	}
	return out
}
