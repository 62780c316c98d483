package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestConfig_DefaultsAreValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("default configuration must validate: %v", err)
	}
	if cfg.Room.ReplayLimit != 100 {
		t.Errorf("replay limit = %d, want 100", cfg.Room.ReplayLimit)
	}
	if cfg.HTTP.Port != 8080 {
		t.Errorf("port = %d, want 8080", cfg.HTTP.Port)
	}
}

func TestConfig_EnvironmentOverrides(t *testing.T) {
	t.Setenv("ROOMCHAT_HTTP_PORT", "9090")
	t.Setenv("ROOMCHAT_DATABASE_PATH", "/tmp/test.db")
	t.Setenv("ROOMCHAT_ROOM_REPLAY_LIMIT", "50")
	t.Setenv("ROOMCHAT_WEBSOCKET_PING_INTERVAL", "15s")
	t.Setenv("ROOMCHAT_LOG_LEVEL", "debug")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.HTTP.Port != 9090 {
		t.Errorf("port = %d, want 9090", cfg.HTTP.Port)
	}
	if cfg.Database.Path != "/tmp/test.db" {
		t.Errorf("database path = %q, want /tmp/test.db", cfg.Database.Path)
	}
	if cfg.Room.ReplayLimit != 50 {
		t.Errorf("replay limit = %d, want 50", cfg.Room.ReplayLimit)
	}
	if cfg.WebSocket.PingInterval.Std() != 15*time.Second {
		t.Errorf("ping interval = %v, want 15s", cfg.WebSocket.PingInterval.Std())
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("log level = %q, want debug", cfg.Log.Level)
	}
	// Untouched fields keep their defaults.
	if cfg.HTTP.Host != "0.0.0.0" {
		t.Errorf("host = %q, want the default", cfg.HTTP.Host)
	}
}

func TestConfig_FileOverridesEnvironment(t *testing.T) {
	t.Setenv("ROOMCHAT_HTTP_PORT", "9090")

	path := filepath.Join(t.TempDir(), "config.json")
	content := `{"http": {"port": 7070}, "room": {"idle_timeout": "5m"}}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.HTTP.Port != 7070 {
		t.Errorf("port = %d, want the file value 7070", cfg.HTTP.Port)
	}
	if cfg.Room.IdleTimeout.Std() != 5*time.Minute {
		t.Errorf("idle timeout = %v, want 5m", cfg.Room.IdleTimeout.Std())
	}
}

func TestConfig_MissingFileIsTolerated(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("missing config file must not fail the load: %v", err)
	}
	if cfg.HTTP.Port != 8080 {
		t.Errorf("port = %d, want the default", cfg.HTTP.Port)
	}
}

func TestConfig_MalformedFileRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{broken`), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Error("malformed config file must be rejected")
	}
}

func TestConfig_ValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero port", func(c *Config) { c.HTTP.Port = 0 }},
		{"port out of range", func(c *Config) { c.HTTP.Port = 70000 }},
		{"empty host", func(c *Config) { c.HTTP.Host = "" }},
		{"empty database path", func(c *Config) { c.Database.Path = "" }},
		{"zero ping interval", func(c *Config) { c.WebSocket.PingInterval = 0 }},
		{"read timeout below ping interval", func(c *Config) {
			c.WebSocket.ReadTimeout = Duration(10 * time.Second)
			c.WebSocket.PingInterval = Duration(30 * time.Second)
		}},
		{"zero buffer size", func(c *Config) { c.WebSocket.BufferSize = 0 }},
		{"zero replay limit", func(c *Config) { c.Room.ReplayLimit = 0 }},
		{"negative room idle timeout", func(c *Config) { c.Room.IdleTimeout = Duration(-time.Second) }},
		{"zero checkpoint max age", func(c *Config) { c.Room.CheckpointMaxAge = 0 }},
		{"zero limiter idle timeout", func(c *Config) { c.Limiter.IdleTimeout = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestDuration_JSONRoundTrip(t *testing.T) {
	var d Duration
	if err := json.Unmarshal([]byte(`"90s"`), &d); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if d.Std() != 90*time.Second {
		t.Errorf("duration = %v, want 90s", d.Std())
	}

	data, err := json.Marshal(Duration(2 * time.Minute))
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if string(data) != `"2m0s"` {
		t.Errorf("marshaled %s, want \"2m0s\"", data)
	}
}

func TestDuration_RejectsMalformedInput(t *testing.T) {
	var d Duration
	if err := json.Unmarshal([]byte(`"soon"`), &d); err == nil {
		t.Error("expected an error for a non-duration string")
	}
}
