package alerts

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"

	"fleettrack/internal/model"
)

type messageSender interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// FCMNotifier pushes alerts to the operators' Firebase Cloud Messaging topic.
type FCMNotifier struct {
	client messageSender
	topic  string
}

// NewFCMNotifier initializes Firebase from a credentials file, or from
// base64-encoded credentials when credsBase64 is set.
func NewFCMNotifier(ctx context.Context, credsFile, credsBase64, topic string) (*FCMNotifier, error) {
	var opt option.ClientOption
	if credsBase64 != "" {
		raw, err := base64.StdEncoding.DecodeString(credsBase64)
		if err != nil {
			return nil, fmt.Errorf("error decoding base64 credentials: %w", err)
		}
		opt = option.WithCredentialsJSON(raw)
	} else {
		opt = option.WithCredentialsFile(credsFile)
	}
	app, err := firebase.NewApp(ctx, nil, opt)
	if err != nil {
		return nil, fmt.Errorf("error initializing Firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting messaging client: %w", err)
	}
	return &FCMNotifier{client: client, topic: topic}, nil
}

func (n *FCMNotifier) Permitted() bool {
	return n != nil && n.client != nil && n.topic != ""
}

func (n *FCMNotifier) Notify(ctx context.Context, a model.EmergencyAlert) error {
	if !n.Permitted() {
		return ErrNotPermitted
	}
	data := map[string]string{
		"type":       "emergency_alert",
		"receipt_id": a.ReceiptID,
		"journey_id": a.JourneyID,
		"vehicle_id": a.VehicleID,
		"driver_id":  a.DriverID,
		"severity":   string(a.Severity),
		"timestamp":  a.Timestamp.UTC().Format(time.RFC3339),
	}
	if a.Location != nil {
		data["latitude"] = fmt.Sprintf("%f", a.Location.Lat)
		data["longitude"] = fmt.Sprintf("%f", a.Location.Lng)
	}
	msg := &messaging.Message{
		Topic: n.topic,
		Notification: &messaging.Notification{
			Title: fmt.Sprintf("Emergency (%s): vehicle %s", a.Severity, a.VehicleID),
			Body:  a.Message,
		},
		Data:    data,
		Android: &messaging.AndroidConfig{Priority: "high"},
	}
	if _, err := n.client.Send(ctx, msg); err != nil {
		return fmt.Errorf("fcm send: %w", err)
	}
	return nil
}
