// Package model holds the tracking domain types shared by every component.
package model

import "time"

type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Location is a live vehicle position. ObservedAt never regresses for a
// journey once accepted.
type Location struct {
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	Speed      float64   `json:"speed,omitempty"`   // km/h, 0 when unknown
	Heading    float64   `json:"heading,omitempty"` // degrees 0-360
	Accuracy   float64   `json:"accuracy,omitempty"`
	ObservedAt time.Time `json:"observedAt"`
}

// Point returns the location without its motion fields.
func (l Location) Point() GeoPoint { return GeoPoint{Lat: l.Lat, Lng: l.Lng} }

// Equal compares locations field by field, using time.Equal for ObservedAt.
func (l *Location) Equal(o *Location) bool {
	if l == nil || o == nil {
		return l == o
	}
	return l.Lat == o.Lat && l.Lng == o.Lng &&
		l.Speed == o.Speed && l.Heading == o.Heading && l.Accuracy == o.Accuracy &&
		l.ObservedAt.Equal(o.ObservedAt)
}

type Stop struct {
	ID               string     `json:"id"`
	Name             string     `json:"name,omitempty"`
	Seq              int        `json:"seq"`
	Location         *GeoPoint  `json:"location,omitempty"`
	EstimatedArrival *time.Time `json:"estimatedArrival,omitempty"`
	Completed        bool       `json:"completed,omitempty"`
}

func (s Stop) Equal(o Stop) bool {
	if s.ID != o.ID || s.Name != o.Name || s.Seq != o.Seq || s.Completed != o.Completed {
		return false
	}
	if (s.Location == nil) != (o.Location == nil) {
		return false
	}
	if s.Location != nil && *s.Location != *o.Location {
		return false
	}
	if (s.EstimatedArrival == nil) != (o.EstimatedArrival == nil) {
		return false
	}
	return s.EstimatedArrival == nil || s.EstimatedArrival.Equal(*o.EstimatedArrival)
}

// TrackedJourney is one vehicle currently engaged in a delivery run.
type TrackedJourney struct {
	ID               string        `json:"id"`
	Status           JourneyStatus `json:"status"`
	DriverID         string        `json:"driverId,omitempty"`
	DriverName       string        `json:"driverName,omitempty"`
	VehicleID        string        `json:"vehicleId,omitempty"`
	VehiclePlate     string        `json:"vehiclePlate,omitempty"`
	RouteID          string        `json:"routeId,omitempty"`
	Stops            []Stop        `json:"stops,omitempty"`
	CompletedStops   int           `json:"completedStops"`
	TotalStops       int           `json:"totalStops"`
	CurrentStopIndex int           `json:"currentStopIndex"`
	Location         *Location     `json:"liveLocation,omitempty"`
}

// Equal reports structural equality. Two journeys that are Equal render
// identically.
func (j *TrackedJourney) Equal(o *TrackedJourney) bool {
	if j == nil || o == nil {
		return j == o
	}
	if j.ID != o.ID || j.Status != o.Status ||
		j.DriverID != o.DriverID || j.DriverName != o.DriverName ||
		j.VehicleID != o.VehicleID || j.VehiclePlate != o.VehiclePlate || j.RouteID != o.RouteID ||
		j.CompletedStops != o.CompletedStops || j.TotalStops != o.TotalStops ||
		j.CurrentStopIndex != o.CurrentStopIndex {
		return false
	}
	if len(j.Stops) != len(o.Stops) {
		return false
	}
	for i := range j.Stops {
		if !j.Stops[i].Equal(o.Stops[i]) {
			return false
		}
	}
	return j.Location.Equal(o.Location)
}

// CurrentStop returns the stop at CurrentStopIndex, if the route has one.
func (j *TrackedJourney) CurrentStop() (Stop, bool) {
	if j.CurrentStopIndex < 0 || j.CurrentStopIndex >= len(j.Stops) {
		return Stop{}, false
	}
	return j.Stops[j.CurrentStopIndex], true
}

// Clone returns a deep copy so published snapshots never share mutable state.
func (j TrackedJourney) Clone() TrackedJourney {
	out := j
	if j.Stops != nil {
		out.Stops = make([]Stop, len(j.Stops))
		for i, s := range j.Stops {
			if s.Location != nil {
				p := *s.Location
				s.Location = &p
			}
			if s.EstimatedArrival != nil {
				t := *s.EstimatedArrival
				s.EstimatedArrival = &t
			}
			out.Stops[i] = s
		}
	}
	if j.Location != nil {
		l := *j.Location
		out.Location = &l
	}
	return out
}

// JourneysEqual compares two collections in order.
func JourneysEqual(a, b []TrackedJourney) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(&b[i]) {
			return false
		}
	}
	return true
}

// ActiveVehicle is one row of the active-vehicles companion snapshot.
type ActiveVehicle struct {
	VehicleID  string    `json:"vehicleId"`
	Plate      string    `json:"plate,omitempty"`
	DriverID   string    `json:"driverId,omitempty"`
	DriverName string    `json:"driverName,omitempty"`
	JourneyID  string    `json:"journeyId,omitempty"`
	Location   *GeoPoint `json:"location,omitempty"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

func (v ActiveVehicle) Equal(o ActiveVehicle) bool {
	if v.VehicleID != o.VehicleID || v.Plate != o.Plate || v.DriverID != o.DriverID ||
		v.DriverName != o.DriverName || v.JourneyID != o.JourneyID || !v.UpdatedAt.Equal(o.UpdatedAt) {
		return false
	}
	if (v.Location == nil) != (o.Location == nil) {
		return false
	}
	return v.Location == nil || *v.Location == *o.Location
}

func VehiclesEqual(a, b []ActiveVehicle) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}

// PositionUpdate is a partial patch for exactly one journey. Nil fields mean
// "not supplied" and leave the held value untouched.
type PositionUpdate struct {
	JourneyID        string    `json:"journeyId"`
	Location         *Location `json:"location,omitempty"`
	CurrentStopIndex *int      `json:"currentStopIndex,omitempty"`
	ReceivedAt       time.Time `json:"receivedAt"`
}

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// EmergencyAlert is immutable once received. ReceiptID distinguishes
// redelivered alerts with identical content.
type EmergencyAlert struct {
	ReceiptID  string    `json:"receiptId"`
	JourneyID  string    `json:"journeyId"`
	VehicleID  string    `json:"vehicleId"`
	DriverID   string    `json:"driverId"`
	Message    string    `json:"message"`
	Location   *GeoPoint `json:"location,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	Severity   Severity  `json:"severity"`
	ReceivedAt time.Time `json:"receivedAt"`
}

type StatusFilter string

const (
	FilterAll     StatusFilter = "all"
	FilterActive  StatusFilter = "active"
	FilterDelayed StatusFilter = "delayed"
)

// FilterCriteria narrows the journeys collection for display. Empty ids
// pass everything through.
type FilterCriteria struct {
	Status    StatusFilter `json:"status"`
	DriverID  string       `json:"driverId,omitempty"`
	VehicleID string       `json:"vehicleId,omitempty"`
}
