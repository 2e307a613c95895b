package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Ingestion helpers. The data source is loose about identifiers (string or
// number), coordinate key names and timestamp encodings; every decoder in
// this file folds those variants into the canonical model types.

var ErrMissingID = errors.New("missing journey id")

// FlexString decodes a JSON string or number into a string.
type FlexString string

func (f *FlexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexString(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("identifier must be string or number: %w", err)
	}
	*f = FlexString(n.String())
	return nil
}

// FlexTime decodes RFC3339 strings, numeric strings and epoch numbers
// (seconds, or milliseconds when the value is too large to be seconds).
type FlexTime struct{ time.Time }

func (t *FlexTime) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		t.Time = time.Time{}
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		parsed, err := ParseTime(s)
		if err != nil {
			return err
		}
		t.Time = parsed
		return nil
	}
	var n float64
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("timestamp must be string or number: %w", err)
	}
	t.Time = fromEpoch(n)
	return nil
}

// ParseTime parses an RFC3339 timestamp or an epoch value written as a string.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return fromEpoch(n), nil
	}
	parsed, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return parsed.UTC(), nil
}

func fromEpoch(n float64) time.Time {
	if n > 1e12 {
		return time.UnixMilli(int64(n)).UTC()
	}
	sec := int64(n)
	return time.Unix(sec, int64((n-float64(sec))*1e9)).UTC()
}

func firstFloat(vs ...*float64) (float64, bool) {
	for _, v := range vs {
		if v != nil {
			return *v, true
		}
	}
	return 0, false
}

func (p *GeoPoint) UnmarshalJSON(b []byte) error {
	var aux struct {
		Lat       *float64 `json:"lat"`
		Latitude  *float64 `json:"latitude"`
		Lng       *float64 `json:"lng"`
		Lon       *float64 `json:"lon"`
		Longitude *float64 `json:"longitude"`
	}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	lat, okLat := firstFloat(aux.Lat, aux.Latitude)
	lng, okLng := firstFloat(aux.Lng, aux.Lon, aux.Longitude)
	if !okLat || !okLng {
		return errors.New("point requires latitude and longitude")
	}
	*p = GeoPoint{Lat: lat, Lng: lng}
	return nil
}

func (l *Location) UnmarshalJSON(b []byte) error {
	var aux struct {
		Lat        *float64 `json:"lat"`
		Latitude   *float64 `json:"latitude"`
		Lng        *float64 `json:"lng"`
		Lon        *float64 `json:"lon"`
		Longitude  *float64 `json:"longitude"`
		Speed      *float64 `json:"speed"`
		Heading    *float64 `json:"heading"`
		Bearing    *float64 `json:"bearing"`
		Accuracy   *float64 `json:"accuracy"`
		ObservedAt FlexTime `json:"observedAt"`
		Timestamp  FlexTime `json:"timestamp"`
	}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	lat, okLat := firstFloat(aux.Lat, aux.Latitude)
	lng, okLng := firstFloat(aux.Lng, aux.Lon, aux.Longitude)
	if !okLat || !okLng {
		return errors.New("location requires latitude and longitude")
	}
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return fmt.Errorf("location out of range: %v,%v", lat, lng)
	}
	out := Location{Lat: lat, Lng: lng}
	out.Speed, _ = firstFloat(aux.Speed)
	out.Heading, _ = firstFloat(aux.Heading, aux.Bearing)
	out.Accuracy, _ = firstFloat(aux.Accuracy)
	out.ObservedAt = aux.ObservedAt.Time
	if out.ObservedAt.IsZero() {
		out.ObservedAt = aux.Timestamp.Time
	}
	*l = out
	return nil
}

func (s *Stop) UnmarshalJSON(b []byte) error {
	type alias Stop
	aux := struct {
		ID               FlexString `json:"id"`
		EstimatedArrival FlexTime   `json:"estimatedArrival"`
		ETA              FlexTime   `json:"eta"`
		*alias
	}{alias: (*alias)(s)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	s.ID = string(aux.ID)
	eta := aux.EstimatedArrival.Time
	if eta.IsZero() {
		eta = aux.ETA.Time
	}
	s.EstimatedArrival = nil
	if !eta.IsZero() {
		s.EstimatedArrival = &eta
	}
	return nil
}

func (j *TrackedJourney) UnmarshalJSON(b []byte) error {
	type alias TrackedJourney
	aux := struct {
		ID           FlexString `json:"id"`
		JourneyID    FlexString `json:"journeyId"`
		DriverID     FlexString `json:"driverId"`
		VehicleID    FlexString `json:"vehicleId"`
		RouteID      FlexString `json:"routeId"`
		LiveLocation *Location  `json:"liveLocation"`
		Location     *Location  `json:"location"`
		*alias
	}{alias: (*alias)(j)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	j.ID = string(aux.ID)
	if j.ID == "" {
		j.ID = string(aux.JourneyID)
	}
	j.DriverID = string(aux.DriverID)
	j.VehicleID = string(aux.VehicleID)
	j.RouteID = string(aux.RouteID)
	j.Location = aux.LiveLocation
	if j.Location == nil {
		j.Location = aux.Location
	}
	j.Normalize()
	return nil
}

func (v *ActiveVehicle) UnmarshalJSON(b []byte) error {
	type alias ActiveVehicle
	aux := struct {
		VehicleID FlexString `json:"vehicleId"`
		ID        FlexString `json:"id"`
		DriverID  FlexString `json:"driverId"`
		JourneyID FlexString `json:"journeyId"`
		UpdatedAt FlexTime   `json:"updatedAt"`
		*alias
	}{alias: (*alias)(v)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	v.VehicleID = string(aux.VehicleID)
	if v.VehicleID == "" {
		v.VehicleID = string(aux.ID)
	}
	v.DriverID = string(aux.DriverID)
	v.JourneyID = string(aux.JourneyID)
	v.UpdatedAt = aux.UpdatedAt.Time
	return nil
}

// Normalize enforces totalStops >= completedStops >= 0 and fills totals
// from the stop list when the source leaves them at zero.
func (j *TrackedJourney) Normalize() {
	if j.TotalStops <= 0 && len(j.Stops) > 0 {
		j.TotalStops = len(j.Stops)
	}
	if j.CompletedStops <= 0 && len(j.Stops) > 0 {
		done := 0
		for _, s := range j.Stops {
			if s.Completed {
				done++
			}
		}
		j.CompletedStops = done
	}
	if j.CompletedStops < 0 {
		j.CompletedStops = 0
	}
	if j.TotalStops < j.CompletedStops {
		j.TotalStops = j.CompletedStops
	}
	if j.CurrentStopIndex < 0 {
		j.CurrentStopIndex = 0
	}
}

// Validate reports whether the journey can be tracked at all.
func (j *TrackedJourney) Validate() error {
	if strings.TrimSpace(j.ID) == "" {
		return ErrMissingID
	}
	return nil
}
