package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the tracker.
type Config struct {
	WorkspaceID string
	Server      ServerConfig
	Backend     BackendConfig
	Channel     ChannelConfig
	Polling     PollingConfig
	Auth        AuthConfig
	Alerts      AlertsConfig
}

// ServerConfig holds the read surface HTTP configuration.
type ServerConfig struct {
	Port string
}

// BackendConfig selects the snapshot source: REST when DatabaseURL is empty.
type BackendConfig struct {
	APIBaseURL      string
	DatabaseURL     string
	FetchRatePerSec float64
}

// ChannelConfig holds push channel settings. Kind is websocket or redis.
type ChannelConfig struct {
	Kind     string
	URL      string
	RedisURL string
}

// PollingConfig holds polling fallback timing.
type PollingConfig struct {
	Interval           time.Duration
	FetchTimeout       time.Duration
	InitialLoadTimeout time.Duration
}

// AuthConfig holds bearer token settings.
type AuthConfig struct {
	Token      string
	HMACSecret string
	Subject    string
}

// AlertsConfig holds alert buffer and notification settings.
type AlertsConfig struct {
	Retention         int
	FCMTopic          string
	FirebaseCredsFile string
	FirebaseCredsB64  string
	WebhookURL        string
	WebhookSecret     string
}

// fileConfig mirrors the environment keys for the optional YAML file.
type fileConfig map[string]string

// Load reads defaults, then the YAML file named by TRACKER_CONFIG if set,
// then the environment.
func Load() (*Config, error) {
	file := fileConfig{}
	if path := strings.TrimSpace(os.Getenv("TRACKER_CONFIG")); path != "" {
		var err error
		if file, err = readFile(path); err != nil {
			return nil, err
		}
	}
	get := func(key, def string) string { return getEnv(key, file.get(key, def)) }

	cfg := &Config{
		WorkspaceID: get("WORKSPACE_ID", ""),
		Server: ServerConfig{
			Port: get("PORT", "8090"),
		},
		Backend: BackendConfig{
			APIBaseURL:      get("API_BASE_URL", "http://localhost:8080"),
			DatabaseURL:     get("DATABASE_URL", ""),
			FetchRatePerSec: getFloat(get("FETCH_RATE_PER_SEC", ""), 2),
		},
		Channel: ChannelConfig{
			Kind:     strings.ToLower(get("CHANNEL_KIND", "websocket")),
			URL:      get("CHANNEL_URL", "ws://localhost:8080/v1/tracking/ws"),
			RedisURL: get("REDIS_URL", ""),
		},
		Polling: PollingConfig{
			Interval:           getDuration(get("POLL_INTERVAL", ""), 10*time.Second),
			FetchTimeout:       getDuration(get("FETCH_TIMEOUT", ""), 10*time.Second),
			InitialLoadTimeout: getDuration(get("INITIAL_LOAD_TIMEOUT", ""), 10*time.Second),
		},
		Auth: AuthConfig{
			Token:      get("AUTH_TOKEN", ""),
			HMACSecret: get("AUTH_HMAC_SECRET", ""),
			Subject:    get("AUTH_SUBJECT", "tracker"),
		},
		Alerts: AlertsConfig{
			Retention:         getInt(get("ALERT_RETENTION", ""), 10),
			FCMTopic:          get("ALERT_FCM_TOPIC", ""),
			FirebaseCredsFile: get("FIREBASE_CREDENTIALS_FILE", ""),
			FirebaseCredsB64:  get("FIREBASE_CREDENTIALS_BASE64", ""),
			WebhookURL:        get("ALERT_WEBHOOK_URL", ""),
			WebhookSecret:     get("ALERT_WEBHOOK_SECRET", ""),
		},
	}
	return cfg, cfg.Validate()
}

// Validate checks the settings the engine cannot run without.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.WorkspaceID) == "" {
		return fmt.Errorf("WORKSPACE_ID is required")
	}
	switch c.Channel.Kind {
	case "websocket", "redis", "none":
	default:
		return fmt.Errorf("unsupported CHANNEL_KIND %q", c.Channel.Kind)
	}
	if c.Channel.Kind == "redis" && c.Channel.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required for the redis channel")
	}
	if c.Polling.Interval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be positive")
	}
	if c.Alerts.Retention <= 0 {
		return fmt.Errorf("ALERT_RETENTION must be positive")
	}
	return nil
}

func readFile(path string) (fileConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var raw map[string]any
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	out := fileConfig{}
	for k, v := range raw {
		if v == nil {
			continue
		}
		out[strings.ToUpper(k)] = fmt.Sprint(v)
	}
	return out, nil
}

func (f fileConfig) get(key, defaultValue string) string {
	if v, ok := f[key]; ok && v != "" {
		return v
	}
	return defaultValue
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(value string, defaultValue int) int {
	if value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getFloat(value string, defaultValue float64) float64 {
	if value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getDuration(value string, defaultValue time.Duration) time.Duration {
	if value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
