package config

import (
	"log/slog"
	"strings"
	"time"
)

// Config is the root configuration for the chat client.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Connection ConnectionConfig `yaml:"connection"`
	Log        LogConfig        `yaml:"log"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	User       UserConfig       `yaml:"user"`
}

// ServerConfig holds the chat server endpoints.
type ServerConfig struct {
	BaseURL    string        `yaml:"base_url"` // REST base, e.g. http://localhost:8080/api/1
	WSURL      string        `yaml:"ws_url"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

// ConnectionConfig holds websocket connection manager settings.
type ConnectionConfig struct {
	HandshakeTimeout     time.Duration `yaml:"handshake_timeout"`
	ReconnectBaseDelay   time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay    time.Duration `yaml:"reconnect_max_delay"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	WriteTimeout         time.Duration `yaml:"write_timeout"`
	PingInterval         time.Duration `yaml:"ping_interval"` // 0 disables client pings
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// SlogLevel maps Level to a slog.Level. Unknown values mean info.
func (l LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
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

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// UserConfig holds optional credentials for non-interactive login.
type UserConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}
