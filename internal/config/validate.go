package config

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/rickgao/sessionmux/internal/connection"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if c.Server.WSURL == "" {
		return errors.New("server.ws_url is required")
	}
	u, err := url.Parse(c.Server.WSURL)
	if err != nil {
		return fmt.Errorf("server.ws_url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("server.ws_url scheme must be ws or wss, got %q", u.Scheme)
	}
	if c.Server.Transport != connection.DriverGorilla && c.Server.Transport != connection.DriverCoder {
		return fmt.Errorf("server.transport must be %q or %q, got %q",
			connection.DriverGorilla, connection.DriverCoder, c.Server.Transport)
	}
	if c.Server.Token != "" && c.Server.TokenFile != "" {
		return errors.New("server.token and server.token_file are mutually exclusive")
	}

	if c.Connections.MaxConnections < 1 {
		return errors.New("connections.max_connections must be >= 1")
	}
	if c.Connections.ReconnectMaxAttempts < 0 {
		return errors.New("connections.reconnect_max_attempts must be >= 0")
	}
	if c.Connections.ReconnectMaxDelay < c.Connections.ReconnectBaseDelay {
		return fmt.Errorf("connections.reconnect_max_delay (%s) cannot be less than reconnect_base_delay (%s)",
			c.Connections.ReconnectMaxDelay, c.Connections.ReconnectBaseDelay)
	}
	if c.Connections.PingInterval > 0 && c.Connections.PingTimeout <= c.Connections.PingInterval {
		return errors.New("connections.ping_timeout must exceed ping_interval")
	}
	if c.Connections.BufferSize < 1 {
		return errors.New("connections.buffer_size must be >= 1")
	}
	if c.Connections.RankStep < 0 {
		return errors.New("connections.rank_step must be >= 0")
	}

	seen := make(map[string]bool, len(c.Channels))
	for i, ch := range c.Channels {
		if ch.ID == "" {
			return fmt.Errorf("channels[%d].id is required", i)
		}
		if seen[ch.ID] {
			return fmt.Errorf("channels[%d].id %q is duplicated", i, ch.ID)
		}
		seen[ch.ID] = true
	}

	if (c.Catalog.Enabled || c.Fallback.Enabled) && c.API.BaseURL == "" {
		return errors.New("api.base_url is required when catalog or fallback is enabled")
	}
	if c.Catalog.Enabled && c.Catalog.Limit < 1 {
		return errors.New("catalog.limit must be >= 1")
	}
	if c.Fallback.Enabled && c.Fallback.Concurrency < 1 {
		return errors.New("fallback.concurrency must be >= 1")
	}

	if c.Archive.Enabled {
		if err := c.Archive.Database.validate("archive.database"); err != nil {
			return err
		}
		if c.Archive.BatchSize < 1 {
			return errors.New("archive.batch_size must be >= 1")
		}
		if c.Archive.BufferSize < 1 {
			return errors.New("archive.buffer_size must be >= 1")
		}
	}

	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port)
	}

	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn or error, got %q", c.Log.Level)
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
