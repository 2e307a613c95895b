// Package listener turns raw channel frames into position updates and
// emergency alerts and fans them out to registered handlers.
package listener

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"fleettrack/internal/channel"
	"fleettrack/internal/metrics"
	"fleettrack/internal/model"
)

var ErrMalformed = errors.New("malformed event")

// Listener is stateless apart from its subscriber lists. Handlers run on the
// delivering goroutine, in registration order, in channel delivery order.
type Listener struct {
	mu        sync.Mutex
	next      int
	positions []sub[model.PositionUpdate]
	alerts    []sub[model.EmergencyAlert]
	now       func() time.Time
}

type sub[T any] struct {
	id int
	fn func(T)
}

func New(now func() time.Time) *Listener {
	if now == nil {
		now = time.Now
	}
	return &Listener{now: now}
}

// OnPositionUpdate registers fn for every vehicleUpdate event.
func (l *Listener) OnPositionUpdate(fn func(model.PositionUpdate)) (unsubscribe func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.next++
	id := l.next
	l.positions = append(l.positions, sub[model.PositionUpdate]{id: id, fn: fn})
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.positions = without(l.positions, id)
	}
}

// OnEmergencyAlert registers fn for every emergencyAlert event.
func (l *Listener) OnEmergencyAlert(fn func(model.EmergencyAlert)) (unsubscribe func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.next++
	id := l.next
	l.alerts = append(l.alerts, sub[model.EmergencyAlert]{id: id, fn: fn})
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.alerts = without(l.alerts, id)
	}
}

func without[T any](subs []sub[T], id int) []sub[T] {
	out := make([]sub[T], 0, len(subs))
	for _, s := range subs {
		if s.id != id {
			out = append(out, s)
		}
	}
	return out
}

// Subscribers reports how many position and alert handlers are registered.
func (l *Listener) Subscribers() (positions, alerts int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.positions), len(l.alerts)
}

// Dispatch is the channel.Manager handler. Malformed frames are logged and
// dropped; frames of other kinds are ignored.
func (l *Listener) Dispatch(env channel.Envelope) {
	switch env.Type {
	case channel.EventVehicleUpdate:
		u, err := DecodePositionUpdate(env.Payload, l.now())
		if err != nil {
			metrics.PushEvents.WithLabelValues("vehicleUpdate", "malformed").Inc()
			log.Printf("listener: dropping vehicleUpdate: %v", err)
			return
		}
		metrics.PushEvents.WithLabelValues("vehicleUpdate", "accepted").Inc()
		l.mu.Lock()
		subs := l.positions
		l.mu.Unlock()
		for _, s := range subs {
			s.fn(copyUpdate(u))
		}
	case channel.EventEmergencyAlert:
		a, err := DecodeEmergencyAlert(env.Payload, l.now())
		if err != nil {
			metrics.PushEvents.WithLabelValues("emergencyAlert", "malformed").Inc()
			log.Printf("listener: dropping emergencyAlert: %v", err)
			return
		}
		metrics.PushEvents.WithLabelValues("emergencyAlert", "accepted").Inc()
		l.mu.Lock()
		subs := l.alerts
		l.mu.Unlock()
		for _, s := range subs {
			s.fn(copyAlert(a))
		}
	default:
		metrics.PushEvents.WithLabelValues("other", "unknown").Inc()
	}
}

// each handler gets its own copy of the pointer fields
func copyUpdate(u model.PositionUpdate) model.PositionUpdate {
	if u.Location != nil {
		loc := *u.Location
		u.Location = &loc
	}
	if u.CurrentStopIndex != nil {
		idx := *u.CurrentStopIndex
		u.CurrentStopIndex = &idx
	}
	return u
}

func copyAlert(a model.EmergencyAlert) model.EmergencyAlert {
	if a.Location != nil {
		p := *a.Location
		a.Location = &p
	}
	return a
}

type vehicleUpdateWire struct {
	JourneyID        model.FlexString `json:"journeyId"`
	ID               model.FlexString `json:"id"`
	Location         *model.Location  `json:"location"`
	LiveLocation     *model.Location  `json:"liveLocation"`
	CurrentStopIndex *float64         `json:"currentStopIndex"`
}

// DecodePositionUpdate parses a vehicleUpdate payload. A journey id is
// required; location and currentStopIndex are optional.
func DecodePositionUpdate(raw []byte, receivedAt time.Time) (model.PositionUpdate, error) {
	if len(raw) == 0 {
		return model.PositionUpdate{}, fmt.Errorf("%w: empty payload", ErrMalformed)
	}
	var w vehicleUpdateWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return model.PositionUpdate{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	id := string(w.JourneyID)
	if id == "" {
		id = string(w.ID)
	}
	if id == "" {
		return model.PositionUpdate{}, fmt.Errorf("%w: %v", ErrMalformed, model.ErrMissingID)
	}
	u := model.PositionUpdate{JourneyID: id, Location: w.Location, ReceivedAt: receivedAt}
	if u.Location == nil {
		u.Location = w.LiveLocation
	}
	if w.CurrentStopIndex != nil {
		if *w.CurrentStopIndex < 0 {
			return model.PositionUpdate{}, fmt.Errorf("%w: negative currentStopIndex", ErrMalformed)
		}
		idx := int(*w.CurrentStopIndex)
		u.CurrentStopIndex = &idx
	}
	return u, nil
}

type emergencyAlertWire struct {
	JourneyID model.FlexString `json:"journeyId"`
	VehicleID model.FlexString `json:"vehicleId"`
	DriverID  model.FlexString `json:"driverId"`
	Message   string           `json:"message"`
	Location  *model.GeoPoint  `json:"location"`
	Timestamp model.FlexTime   `json:"timestamp"`
	Severity  string           `json:"severity"`
}

// DecodeEmergencyAlert parses an emergencyAlert payload. The alert must
// name at least one of journey, vehicle or driver and carry a message.
// A missing timestamp defaults to receivedAt.
func DecodeEmergencyAlert(raw []byte, receivedAt time.Time) (model.EmergencyAlert, error) {
	if len(raw) == 0 {
		return model.EmergencyAlert{}, fmt.Errorf("%w: empty payload", ErrMalformed)
	}
	var w emergencyAlertWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return model.EmergencyAlert{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if w.JourneyID == "" && w.VehicleID == "" && w.DriverID == "" {
		return model.EmergencyAlert{}, fmt.Errorf("%w: alert names no journey, vehicle or driver", ErrMalformed)
	}
	msg := strings.TrimSpace(w.Message)
	if msg == "" {
		return model.EmergencyAlert{}, fmt.Errorf("%w: empty message", ErrMalformed)
	}
	sev, err := model.ParseSeverity(w.Severity)
	if err != nil {
		return model.EmergencyAlert{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	ts := w.Timestamp.Time
	if ts.IsZero() {
		ts = receivedAt
	}
	return model.EmergencyAlert{
		JourneyID:  string(w.JourneyID),
		VehicleID:  string(w.VehicleID),
		DriverID:   string(w.DriverID),
		Message:    msg,
		Location:   w.Location,
		Timestamp:  ts,
		Severity:   sev,
		ReceivedAt: receivedAt,
	}, nil
}
