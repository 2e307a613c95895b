package main

import (
	"context"
	"fmt"
	"log"

	"fleettrack/internal/alerts"
	"fleettrack/internal/auth"
	"fleettrack/internal/backend"
	"fleettrack/internal/channel"
	"fleettrack/internal/config"
	"fleettrack/internal/poller"
	"fleettrack/internal/store"
)

// tokenSource prefers a minted HS256 token when a secret is configured.
func tokenSource(cfg *config.Config) channel.TokenSource {
	if cfg.Auth.HMACSecret != "" {
		return auth.NewHMACSource(cfg.Auth.HMACSecret, cfg.Auth.Subject, cfg.WorkspaceID)
	}
	return auth.StaticToken(cfg.Auth.Token)
}

// buildSource returns the snapshot source and a close func.
func buildSource(cfg *config.Config, tokens channel.TokenSource) (poller.Source, func(), error) {
	if cfg.Backend.DatabaseURL != "" {
		s, err := store.NewSQL(cfg.Backend.DatabaseURL, cfg.WorkspaceID)
		if err != nil {
			return nil, nil, err
		}
		log.Printf("snapshots: sql read model")
		return s, func() { _ = s.Close() }, nil
	}
	log.Printf("snapshots: %s", cfg.Backend.APIBaseURL)
	return backend.New(cfg.Backend.APIBaseURL, cfg.WorkspaceID, tokens, cfg.Backend.FetchRatePerSec), func() {}, nil
}

// buildTransport returns nil for CHANNEL_KIND=none.
func buildTransport(cfg *config.Config, tokens channel.TokenSource) (channel.Transport, func(), error) {
	switch cfg.Channel.Kind {
	case "none":
		return nil, func() {}, nil
	case "redis":
		t, err := channel.NewRedisTransport(cfg.Channel.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		return t, func() { _ = t.Close() }, nil
	case "websocket":
		return channel.NewWebsocketTransport(cfg.Channel.URL, tokens), func() {}, nil
	}
	return nil, nil, fmt.Errorf("unsupported channel kind %q", cfg.Channel.Kind)
}

// buildNotifier always logs alerts, adds the signed webhook when a URL is
// set and FCM when a topic is set.
func buildNotifier(ctx context.Context, cfg *config.Config) alerts.Notifier {
	ns := alerts.Multi{alerts.LogNotifier{}}
	if cfg.Alerts.WebhookURL != "" {
		ns = append(ns, alerts.NewWebhookNotifier(cfg.Alerts.WebhookURL, cfg.Alerts.WebhookSecret, cfg.WorkspaceID))
	}
	if cfg.Alerts.FCMTopic == "" {
		return ns
	}
	fcm, err := alerts.NewFCMNotifier(ctx, cfg.Alerts.FirebaseCredsFile, cfg.Alerts.FirebaseCredsB64, cfg.Alerts.FCMTopic)
	if err != nil {
		log.Printf("alerts: FCM disabled: %v", err)
		return ns
	}
	return append(ns, fcm)
}
