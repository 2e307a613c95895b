package alerts

import (
	"context"
	"errors"
	"log"

	"fleettrack/internal/model"
)

var ErrNotPermitted = errors.New("notifications not permitted")

// Notifier raises a transient user-facing notification for an alert.
// Permitted reports whether the surface is currently allowed to notify.
type Notifier interface {
	Permitted() bool
	Notify(ctx context.Context, a model.EmergencyAlert) error
}

// LogNotifier writes alerts to the process log. It is always permitted.
type LogNotifier struct{}

func (LogNotifier) Permitted() bool { return true }

func (LogNotifier) Notify(_ context.Context, a model.EmergencyAlert) error {
	log.Printf("🚨 [%s] journey=%s vehicle=%s driver=%s: %s", a.Severity, a.JourneyID, a.VehicleID, a.DriverID, a.Message)
	return nil
}

// Multi fans a notification out to every permitted notifier. It is
// permitted when at least one member is.
type Multi []Notifier

func (m Multi) Permitted() bool {
	for _, n := range m {
		if n != nil && n.Permitted() {
			return true
		}
	}
	return false
}

func (m Multi) Notify(ctx context.Context, a model.EmergencyAlert) error {
	var errs []error
	for _, n := range m {
		if n == nil || !n.Permitted() {
			continue
		}
		if err := n.Notify(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
