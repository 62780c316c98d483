package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the full runtime configuration. Precedence: config file
// overrides environment, environment overrides defaults.
type Config struct {
	HTTP      HTTPConfig      `json:"http"`
	Database  DatabaseConfig  `json:"database"`
	WebSocket WebSocketConfig `json:"websocket"`
	Room      RoomConfig      `json:"room"`
	Limiter   LimiterConfig   `json:"limiter"`
	Log       LogConfig       `json:"log"`
}

type HTTPConfig struct {
	Host         string   `json:"host" env:"ROOMCHAT_HTTP_HOST"`
	Port         int      `json:"port" env:"ROOMCHAT_HTTP_PORT"`
	ReadTimeout  Duration `json:"read_timeout" env:"ROOMCHAT_HTTP_READ_TIMEOUT"`
	WriteTimeout Duration `json:"write_timeout" env:"ROOMCHAT_HTTP_WRITE_TIMEOUT"`
}

type DatabaseConfig struct {
	Path string `json:"path" env:"ROOMCHAT_DATABASE_PATH"`
}

type WebSocketConfig struct {
	PingInterval Duration `json:"ping_interval" env:"ROOMCHAT_WEBSOCKET_PING_INTERVAL"`
	ReadTimeout  Duration `json:"read_timeout" env:"ROOMCHAT_WEBSOCKET_READ_TIMEOUT"`
	WriteTimeout Duration `json:"write_timeout" env:"ROOMCHAT_WEBSOCKET_WRITE_TIMEOUT"`
	BufferSize   int      `json:"buffer_size" env:"ROOMCHAT_WEBSOCKET_BUFFER_SIZE"`
}

type RoomConfig struct {
	// ReplayLimit caps the history backlog sent to a joining client.
	ReplayLimit int `json:"replay_limit" env:"ROOMCHAT_ROOM_REPLAY_LIMIT"`
	// IdleTimeout controls eviction of empty rooms from the registry.
	IdleTimeout Duration `json:"idle_timeout" env:"ROOMCHAT_ROOM_IDLE_TIMEOUT"`
	// CheckpointMaxAge prunes session checkpoints older than this.
	CheckpointMaxAge Duration `json:"checkpoint_max_age" env:"ROOMCHAT_ROOM_CHECKPOINT_MAX_AGE"`
}

type LimiterConfig struct {
	// IdleTimeout controls eviction of idle per-identity authorities.
	IdleTimeout Duration `json:"idle_timeout" env:"ROOMCHAT_LIMITER_IDLE_TIMEOUT"`
}

type LogConfig struct {
	Level   string `json:"level" env:"ROOMCHAT_LOG_LEVEL"`
	Console bool   `json:"console" env:"ROOMCHAT_LOG_CONSOLE"`
}

// DefaultConfig returns production-ready defaults.
func DefaultConfig() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  Duration(30 * time.Second),
			WriteTimeout: Duration(30 * time.Second),
		},
		Database: DatabaseConfig{
			Path: "./roomchat.db",
		},
		WebSocket: WebSocketConfig{
			PingInterval: Duration(30 * time.Second),
			ReadTimeout:  Duration(60 * time.Second),
			WriteTimeout: Duration(10 * time.Second),
			BufferSize:   100,
		},
		Room: RoomConfig{
			ReplayLimit:      100,
			IdleTimeout:      Duration(10 * time.Minute),
			CheckpointMaxAge: Duration(24 * time.Hour),
		},
		Limiter: LimiterConfig{
			IdleTimeout: Duration(10 * time.Minute),
		},
		Log: LogConfig{
			Level:   "info",
			Console: true,
		},
	}
}

// Validate rejects configurations that would fail at runtime.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 1 and 65535")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP timeouts must be positive")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if c.WebSocket.PingInterval <= 0 {
		return fmt.Errorf("WebSocket ping interval must be positive")
	}
	if c.WebSocket.ReadTimeout <= Duration(0) || c.WebSocket.WriteTimeout <= Duration(0) {
		return fmt.Errorf("WebSocket timeouts must be positive")
	}
	if c.WebSocket.ReadTimeout <= c.WebSocket.PingInterval {
		return fmt.Errorf("WebSocket read timeout must exceed ping interval")
	}
	if c.WebSocket.BufferSize <= 0 {
		return fmt.Errorf("WebSocket buffer size must be positive")
	}
	if c.Room.ReplayLimit <= 0 {
		return fmt.Errorf("room replay limit must be positive")
	}
	if c.Room.IdleTimeout <= 0 {
		return fmt.Errorf("room idle timeout must be positive")
	}
	if c.Room.CheckpointMaxAge <= 0 {
		return fmt.Errorf("room checkpoint max age must be positive")
	}
	if c.Limiter.IdleTimeout <= 0 {
		return fmt.Errorf("limiter idle timeout must be positive")
	}
	return nil
}

// LoadFromEnv applies defaults then environment overrides.
func LoadFromEnv() (*Config, error) {
	cfg := DefaultConfig()
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	return cfg, nil
}

// LoadFromFile overlays a JSON config file onto cfg.
func LoadFromFile(cfg *Config, filepath string) error {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", filepath, err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", filepath, err)
	}
	return nil
}

// Load resolves configuration with the standard precedence and
// validates the result. An empty filepath skips the file layer; a
// missing file is not an error.
func Load(filepath string) (*Config, error) {
	cfg, err := LoadFromEnv()
	if err != nil {
		return nil, err
	}

	if filepath != "" {
		if err := LoadFromFile(cfg, filepath); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, err
			}
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
