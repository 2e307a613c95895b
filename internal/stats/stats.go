// Package stats derives filtered views and aggregates from the journeys
// collection. Every function is pure.
package stats

import (
	"math"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"

	"fleettrack/internal/model"
)

// Summary aggregates one collection. Ratios are 0 when their denominator is.
type Summary struct {
	Total              int     `json:"total"`
	Active             int     `json:"active"`
	Delayed            int     `json:"delayed"`
	WithPosition       int     `json:"withPosition"`
	TotalStops         int     `json:"totalStops"`
	CompletedStops     int     `json:"completedStops"`
	CompletionPercent  float64 `json:"completionPercent"`
	AverageSpeed       float64 `json:"averageSpeed"`
	RemainingDistanceM float64 `json:"remainingDistanceM"`
}

// Filter keeps journeys matching c, preserving order.
func Filter(journeys []model.TrackedJourney, c model.FilterCriteria, now time.Time) []model.TrackedJourney {
	out := make([]model.TrackedJourney, 0, len(journeys))
	for _, j := range journeys {
		if Matches(j, c, now) {
			out = append(out, j)
		}
	}
	return out
}

func Matches(j model.TrackedJourney, c model.FilterCriteria, now time.Time) bool {
	switch c.Status {
	case model.FilterActive:
		if !j.Status.Active() {
			return false
		}
	case model.FilterDelayed:
		if !IsDelayed(j, now) {
			return false
		}
	}
	if c.DriverID != "" && j.DriverID != c.DriverID {
		return false
	}
	if c.VehicleID != "" && j.VehicleID != c.VehicleID {
		return false
	}
	return true
}

// IsDelayed reports whether the current stop's estimated arrival has passed.
// Only the current stop is considered.
func IsDelayed(j model.TrackedJourney, now time.Time) bool {
	s, ok := j.CurrentStop()
	if !ok || s.EstimatedArrival == nil {
		return false
	}
	return s.EstimatedArrival.Before(now)
}

func Summarize(journeys []model.TrackedJourney, now time.Time) Summary {
	var s Summary
	s.Total = len(journeys)
	for _, j := range journeys {
		if j.Status.Active() {
			s.Active++
		}
		if IsDelayed(j, now) {
			s.Delayed++
		}
		if j.Location != nil {
			s.WithPosition++
		}
		s.TotalStops += j.TotalStops
		s.CompletedStops += j.CompletedStops
		s.RemainingDistanceM += RemainingDistance(j)
	}
	s.CompletionPercent = Percent(s.CompletedStops, s.TotalStops)
	s.AverageSpeed = AverageSpeed(journeys)
	return s
}

// AverageSpeed averages over journeys with a known nonzero speed.
func AverageSpeed(journeys []model.TrackedJourney) float64 {
	var sum float64
	n := 0
	for _, j := range journeys {
		if j.Location == nil || j.Location.Speed <= 0 || math.IsNaN(j.Location.Speed) || math.IsInf(j.Location.Speed, 0) {
			continue
		}
		sum += j.Location.Speed
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// Percent returns part/whole*100, or 0 when whole is not positive.
func Percent(part, whole int) float64 {
	if whole <= 0 {
		return 0
	}
	return float64(part) / float64(whole) * 100
}

// RemainingDistance is the haversine length in meters from the live
// position through every remaining, not yet completed stop that has
// coordinates. Journeys without a live position contribute 0.
func RemainingDistance(j model.TrackedJourney) float64 {
	if j.Location == nil {
		return 0
	}
	prev := orb.Point{j.Location.Lng, j.Location.Lat}
	total := 0.0
	start := max(j.CurrentStopIndex, 0)
	for i := start; i < len(j.Stops); i++ {
		s := j.Stops[i]
		if s.Completed || s.Location == nil {
			continue
		}
		p := orb.Point{s.Location.Lng, s.Location.Lat}
		total += geo.DistanceHaversine(prev, p)
		prev = p
	}
	return total
}
