package config

import (
	"log/slog"
	"strings"
	"testing"
	"time"
)

// setEnv blanks every key Load reads, then applies kv. Viper treats empty env vars as unset.
func setEnv(t *testing.T, kv map[string]string) {
	t.Helper()
	for _, k := range []string{
		"INFRA_BASE_URL", "INFRA_DEVICE_ID", "INFRA_USER", "INFRA_SESSION_KEY", "TOKEN_STORE",
		"DATABASE_URL", "SQLITE_PATH", "HTTP_TIMEOUT", "HEARTBEAT_LEAD", "VALIDATION_TOLERANCE",
		"TASK_TIMEOUT", "TASK_INTERVAL", "VERIFY_TOKEN_SIGNATURES", "COMMAND_POLICY_ENABLED",
		"COMMAND_POLICY_FILE", "OTEL_EXPORTER_OTLP_ENDPOINT", "OTEL_EXPORTER_OTLP_INSECURE",
		"OTEL_SERVICE_NAME", "KAFKA_BROKERS", "AUTH_EVENTS_KAFKA_TOPIC", "LOKI_URL", "LOG_LEVEL",
	} {
		t.Setenv(k, "")
	}
	for k, v := range kv {
		t.Setenv(k, v)
	}
}

func TestLoad_Defaults(t *testing.T) {
	setEnv(t, map[string]string{"INFRA_BASE_URL": "https://infra.example.com/api"})
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BaseURL != "https://infra.example.com/api" {
		t.Errorf("BaseURL = %q", cfg.BaseURL)
	}
	if cfg.TokenStore != StoreMemory {
		t.Errorf("TokenStore = %q, want %q", cfg.TokenStore, StoreMemory)
	}
	if cfg.SessionKey != "default" {
		t.Errorf("SessionKey = %q, want %q", cfg.SessionKey, "default")
	}
	if cfg.HTTPTimeout() != 30*time.Second {
		t.Errorf("HTTPTimeout = %v, want 30s", cfg.HTTPTimeout())
	}
	if cfg.HeartbeatLead() != 90*time.Second {
		t.Errorf("HeartbeatLead = %v, want 90s", cfg.HeartbeatLead())
	}
	if cfg.ValidationTolerance() != 10*time.Minute {
		t.Errorf("ValidationTolerance = %v, want 10m", cfg.ValidationTolerance())
	}
	if cfg.TaskTimeout() != 300*time.Second || cfg.TaskInterval() != time.Second {
		t.Errorf("TaskTimeout/TaskInterval = %v/%v, want 300s/1s", cfg.TaskTimeout(), cfg.TaskInterval())
	}
	if cfg.VerifyTokenSignatures || cfg.CommandPolicyEnabled {
		t.Error("optional checks should default to off")
	}
	if cfg.KafkaBrokersList() != nil {
		t.Errorf("KafkaBrokersList = %v, want nil", cfg.KafkaBrokersList())
	}
}

func TestLoad_EnvVarOverride(t *testing.T) {
	setEnv(t, map[string]string{
		"INFRA_BASE_URL":          "http://localhost:8080",
		"INFRA_SESSION_KEY":       "ops",
		"TOKEN_STORE":             "SQLite",
		"SQLITE_PATH":             "/tmp/infractl.db",
		"TASK_TIMEOUT":            "45s",
		"TASK_INTERVAL":           "250ms",
		"VERIFY_TOKEN_SIGNATURES": "true",
		"COMMAND_POLICY_ENABLED":  "true",
		"KAFKA_BROKERS":           "k1:9092, k2:9092,,",
		"LOG_LEVEL":               "debug",
	})
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SessionKey != "ops" {
		t.Errorf("SessionKey = %q, want %q", cfg.SessionKey, "ops")
	}
	if cfg.TokenStore != StoreSQLite || cfg.SQLitePath != "/tmp/infractl.db" {
		t.Errorf("store = %q %q", cfg.TokenStore, cfg.SQLitePath)
	}
	if cfg.TaskTimeout() != 45*time.Second || cfg.TaskInterval() != 250*time.Millisecond {
		t.Errorf("TaskTimeout/TaskInterval = %v/%v", cfg.TaskTimeout(), cfg.TaskInterval())
	}
	if !cfg.VerifyTokenSignatures || !cfg.CommandPolicyEnabled {
		t.Error("boolean overrides not applied")
	}
	if got := cfg.KafkaBrokersList(); len(got) != 2 || got[0] != "k1:9092" || got[1] != "k2:9092" {
		t.Errorf("KafkaBrokersList = %v", got)
	}
	if cfg.SlogLevel() != slog.LevelDebug {
		t.Errorf("SlogLevel = %v, want debug", cfg.SlogLevel())
	}
}

func TestLoad_ValidationErrors(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"missing base url", map[string]string{}, "INFRA_BASE_URL must be set"},
		{"relative base url", map[string]string{"INFRA_BASE_URL": "/api"}, "absolute"},
		{"postgres without dsn", map[string]string{"INFRA_BASE_URL": "https://h", "TOKEN_STORE": "postgres"}, "DATABASE_URL"},
		{"sqlite without path", map[string]string{"INFRA_BASE_URL": "https://h", "TOKEN_STORE": "sqlite"}, "SQLITE_PATH"},
		{"unknown store", map[string]string{"INFRA_BASE_URL": "https://h", "TOKEN_STORE": "redis"}, "TOKEN_STORE"},
		{"policy file without policy", map[string]string{"INFRA_BASE_URL": "https://h", "COMMAND_POLICY_FILE": "p.rego"}, "COMMAND_POLICY_ENABLED"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			setEnv(t, tc.env)
			_, err := Load()
			if err == nil {
				t.Fatal("Load should fail")
			}
			if !strings.HasPrefix(err.Error(), "config: ") || !strings.Contains(err.Error(), tc.want) {
				t.Errorf("err = %q, want config error mentioning %q", err.Error(), tc.want)
			}
		})
	}
}

func TestDurations_InvalidFallBack(t *testing.T) {
	cfg := &Config{
		HTTPTimeoutRaw:         "soon",
		HeartbeatLeadRaw:       "-5s",
		ValidationToleranceRaw: "",
		TaskTimeoutRaw:         "0s",
		TaskIntervalRaw:        "abc",
	}
	if cfg.HTTPTimeout() != 30*time.Second {
		t.Errorf("HTTPTimeout = %v", cfg.HTTPTimeout())
	}
	if cfg.HeartbeatLead() != 90*time.Second {
		t.Errorf("HeartbeatLead = %v", cfg.HeartbeatLead())
	}
	if cfg.ValidationTolerance() != 10*time.Minute {
		t.Errorf("ValidationTolerance = %v", cfg.ValidationTolerance())
	}
	if cfg.TaskTimeout() != 300*time.Second || cfg.TaskInterval() != time.Second {
		t.Errorf("TaskTimeout/TaskInterval = %v/%v", cfg.TaskTimeout(), cfg.TaskInterval())
	}
}

func TestSlogLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"debug": slog.LevelDebug, "WARN": slog.LevelWarn, "error": slog.LevelError, "": slog.LevelInfo, "loud": slog.LevelInfo,
	} {
		if got := (&Config{LogLevel: in}).SlogLevel(); got != want {
			t.Errorf("SlogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestDatabaseURL_WithoutBaseURL(t *testing.T) {
	setEnv(t, map[string]string{"DATABASE_URL": "postgres://u:p@localhost/infractl"})
	if got := DatabaseURL(); got != "postgres://u:p@localhost/infractl" {
		t.Errorf("DatabaseURL = %q", got)
	}
}
