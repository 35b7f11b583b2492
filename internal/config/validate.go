package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if err := validateURL("server.base_url", c.Server.BaseURL, "http", "https"); err != nil {
		return err
	}
	if err := validateURL("server.ws_url", c.Server.WSURL, "ws", "wss"); err != nil {
		return err
	}
	if c.Server.Timeout < 0 {
		return errors.New("server.timeout must be >= 0")
	}
	if c.Server.MaxRetries < 0 {
		return errors.New("server.max_retries must be >= 0")
	}

	if c.Connection.HandshakeTimeout <= 0 {
		return errors.New("connection.handshake_timeout must be > 0")
	}
	if c.Connection.ReconnectBaseDelay <= 0 {
		return errors.New("connection.reconnect_base_delay must be > 0")
	}
	if c.Connection.ReconnectMaxDelay < c.Connection.ReconnectBaseDelay {
		return fmt.Errorf("connection.reconnect_max_delay (%v) cannot be less than reconnect_base_delay (%v)",
			c.Connection.ReconnectMaxDelay, c.Connection.ReconnectBaseDelay)
	}
	if c.Connection.MaxReconnectAttempts < 1 {
		return errors.New("connection.max_reconnect_attempts must be >= 1")
	}
	if c.Connection.PingInterval < 0 {
		return errors.New("connection.ping_interval must be >= 0")
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error, got %q", c.Log.Level)
	}

	if c.Metrics.Enabled {
		if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
			return fmt.Errorf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port)
		}
		if !strings.HasPrefix(c.Metrics.Path, "/") {
			return fmt.Errorf("metrics.path must start with /, got %q", c.Metrics.Path)
		}
	}

	return nil
}

func validateURL(field, raw string, schemes ...string) error {
	if raw == "" {
		return fmt.Errorf("%s is required", field)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	for _, s := range schemes {
		if u.Scheme == s {
			if u.Host == "" {
				return fmt.Errorf("%s must include a host", field)
			}
			return nil
		}
	}
	return fmt.Errorf("%s scheme must be one of %s, got %q", field, strings.Join(schemes, ", "), u.Scheme)
}
