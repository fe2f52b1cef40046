// Package config loads and validates client config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Token store backends.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
)

// Config holds client configuration loaded from the environment.
type Config struct {
	// BaseURL is the control service base URL (e.g. https://infra.example.com/api).
	BaseURL string `mapstructure:"INFRA_BASE_URL"`
	// DeviceID identifies this client; a random id is generated per session when empty.
	DeviceID string `mapstructure:"INFRA_DEVICE_ID"`
	// User is the login user for password authentication.
	User string `mapstructure:"INFRA_USER"`
	// SessionKey names the token set in the token store; sessions sharing it share tokens.
	SessionKey string `mapstructure:"INFRA_SESSION_KEY"`

	// TokenStore selects the token store backend: memory, postgres or sqlite.
	TokenStore string `mapstructure:"TOKEN_STORE"`
	// DatabaseURL is the Postgres DSN; required when TokenStore is postgres.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// SQLitePath is the SQLite database file; required when TokenStore is sqlite.
	SQLitePath string `mapstructure:"SQLITE_PATH"`

	// HTTPTimeoutRaw is the per-request timeout (e.g. "30s").
	HTTPTimeoutRaw string `mapstructure:"HTTP_TIMEOUT"`
	// HeartbeatLeadRaw is how long before access expiry the heartbeat refreshes (e.g. "90s").
	HeartbeatLeadRaw string `mapstructure:"HEARTBEAT_LEAD"`
	// ValidationToleranceRaw is how far past expiry a token set still validates (e.g. "10m").
	ValidationToleranceRaw string `mapstructure:"VALIDATION_TOLERANCE"`
	// TaskTimeoutRaw bounds task waits (e.g. "300s").
	TaskTimeoutRaw string `mapstructure:"TASK_TIMEOUT"`
	// TaskIntervalRaw is the minimum gap between task polls (e.g. "1s").
	TaskIntervalRaw string `mapstructure:"TASK_INTERVAL"`
	// VerifyTokenSignatures verifies access token signatures with the set's public key before adopting it.
	VerifyTokenSignatures bool `mapstructure:"VERIFY_TOKEN_SIGNATURES"`

	// CommandPolicyEnabled enables the client-side command policy.
	CommandPolicyEnabled bool `mapstructure:"COMMAND_POLICY_ENABLED"`
	// CommandPolicyFile is an optional Rego module replacing the built-in command policy.
	CommandPolicyFile string `mapstructure:"COMMAND_POLICY_FILE"`

	// Telemetry (optional).
	// OTELEndpoint is the OTLP gRPC collector; empty disables export.
	OTELEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	// OTELInsecure forces plaintext to the collector.
	OTELInsecure bool `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
	// OTELServiceName is reported as service.name.
	OTELServiceName string `mapstructure:"OTEL_SERVICE_NAME"`
	// KafkaBrokers is a comma-separated list of Kafka broker addresses for auth events.
	KafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// AuthEventsTopic is the Kafka topic for auth events.
	AuthEventsTopic string `mapstructure:"AUTH_EVENTS_KAFKA_TOPIC"`
	// LokiURL is the Loki base URL for auth events (e.g. http://localhost:3100).
	LokiURL string `mapstructure:"LOKI_URL"`
	// LogLevel is debug, info, warn or error.
	LogLevel string `mapstructure:"LOG_LEVEL"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored. Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := newViper()
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// newViper reads .env when present and layers the environment and defaults over it.
func newViper() *viper.Viper {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("INFRA_BASE_URL", "")
	v.SetDefault("INFRA_DEVICE_ID", "")
	v.SetDefault("INFRA_USER", "")
	v.SetDefault("INFRA_SESSION_KEY", "default")
	v.SetDefault("TOKEN_STORE", StoreMemory)
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("SQLITE_PATH", "")
	v.SetDefault("HTTP_TIMEOUT", "30s")
	v.SetDefault("HEARTBEAT_LEAD", "90s")
	v.SetDefault("VALIDATION_TOLERANCE", "10m")
	v.SetDefault("TASK_TIMEOUT", "300s")
	v.SetDefault("TASK_INTERVAL", "1s")
	v.SetDefault("VERIFY_TOKEN_SIGNATURES", false)
	v.SetDefault("COMMAND_POLICY_ENABLED", false)
	v.SetDefault("COMMAND_POLICY_FILE", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("OTEL_SERVICE_NAME", "infractl")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("AUTH_EVENTS_KAFKA_TOPIC", "infractl-auth-events")
	v.SetDefault("LOKI_URL", "")
	v.SetDefault("LOG_LEVEL", "info")
	return v
}

// DatabaseURL returns DATABASE_URL from .env or the environment without validating the rest of the config.
func DatabaseURL() string {
	return newViper().GetString("DATABASE_URL")
}

// Validate checks required and mutually dependent fields.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return errors.New("config: INFRA_BASE_URL must be set")
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return errors.New("config: INFRA_BASE_URL must be an absolute http(s) URL")
	}
	c.TokenStore = strings.ToLower(strings.TrimSpace(c.TokenStore))
	switch c.TokenStore {
	case "", StoreMemory:
		c.TokenStore = StoreMemory
	case StorePostgres:
		if c.DatabaseURL == "" {
			return errors.New("config: DATABASE_URL must be set when TOKEN_STORE=postgres")
		}
	case StoreSQLite:
		if c.SQLitePath == "" {
			return errors.New("config: SQLITE_PATH must be set when TOKEN_STORE=sqlite")
		}
	default:
		return errors.New("config: TOKEN_STORE must be memory, postgres or sqlite")
	}
	if c.CommandPolicyFile != "" && !c.CommandPolicyEnabled {
		return errors.New("config: COMMAND_POLICY_FILE requires COMMAND_POLICY_ENABLED=true")
	}
	return nil
}

func parseDuration(raw string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// HTTPTimeout returns the request timeout. Returns 30s if unset or invalid.
func (c *Config) HTTPTimeout() time.Duration { return parseDuration(c.HTTPTimeoutRaw, 30*time.Second) }

// HeartbeatLead returns the heartbeat lead. Returns 90s if unset or invalid.
func (c *Config) HeartbeatLead() time.Duration { return parseDuration(c.HeartbeatLeadRaw, 90*time.Second) }

// ValidationTolerance returns the expiry tolerance. Returns 10m if unset or invalid.
func (c *Config) ValidationTolerance() time.Duration {
	return parseDuration(c.ValidationToleranceRaw, 10*time.Minute)
}

// TaskTimeout returns the task wait timeout. Returns 300s if unset or invalid.
func (c *Config) TaskTimeout() time.Duration { return parseDuration(c.TaskTimeoutRaw, 300*time.Second) }

// TaskInterval returns the task poll interval. Returns 1s if unset or invalid.
func (c *Config) TaskInterval() time.Duration { return parseDuration(c.TaskIntervalRaw, time.Second) }

// KafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// An empty list disables the Kafka auth event sink.
func (c *Config) KafkaBrokersList() []string {
	if c == nil || c.KafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.KafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// SlogLevel maps LogLevel to a slog.Level; unknown values mean info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
