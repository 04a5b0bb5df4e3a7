package config

import (
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/sessionmux/internal/connection"
	"github.com/rickgao/sessionmux/internal/session"
)

// Default values for optional configuration fields.
const (
	DefaultPathPrefix          = "/ws/"
	DefaultTokenParam          = "token"
	DefaultTransport           = connection.DriverGorilla
	DefaultMaxConnections      = 3
	DefaultPriority            = 50
	DefaultHandshakeTimeout    = 10 * time.Second
	DefaultReconnectBaseDelay  = 3 * time.Second
	DefaultReconnectMaxDelay   = 60 * time.Second
	DefaultPingInterval        = 30 * time.Second
	DefaultPingTimeout         = 60 * time.Second
	DefaultWriteTimeout        = 5 * time.Second
	DefaultConnBufferSize      = 256
	DefaultRankBase            = 100
	DefaultRankStep            = 10
	DefaultAPITimeout          = 30 * time.Second
	DefaultMaxRetries          = 3
	DefaultCatalogInterval     = 30 * time.Second
	DefaultFallbackInterval    = 15 * time.Second
	DefaultFallbackConcurrency = 4
	DefaultDBPort              = 5432
	DefaultDBSSLMode           = "prefer"
	DefaultMaxConns            = 10
	DefaultMinConns            = 2
	DefaultBatchSize           = 500
	DefaultFlushInterval       = 1 * time.Second
	DefaultArchiveBufferSize   = 10000
	DefaultMetricsPort         = 9090
	DefaultMetricsPath         = "/metrics"
	DefaultLogLevel            = "info"
	DefaultLogFormat           = "text"
	DefaultLogMaxSizeMB        = 100
	DefaultLogMaxBackups       = 5
	DefaultLogMaxAgeDays       = 14
)

func (c *Config) applyDefaults() {
	if c.Instance.ID == "" {
		c.Instance.ID = "sessionmux-" + uuid.NewString()[:8]
	}

	// Server defaults
	if c.Server.PathPrefix == "" {
		c.Server.PathPrefix = DefaultPathPrefix
	}
	if c.Server.TokenParam == "" && !c.Server.TokenHeader {
		c.Server.TokenParam = DefaultTokenParam
	}
	if c.Server.Transport == "" {
		c.Server.Transport = DefaultTransport
	}

	// Connections defaults
	if c.Connections.MaxConnections == 0 {
		c.Connections.MaxConnections = DefaultMaxConnections
	}
	if c.Connections.DefaultPriority == 0 {
		c.Connections.DefaultPriority = DefaultPriority
	}
	if c.Connections.HandshakeTimeout == 0 {
		c.Connections.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Connections.ReconnectBaseDelay == 0 {
		c.Connections.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.Connections.ReconnectMaxDelay == 0 {
		c.Connections.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if c.Connections.PingInterval == 0 {
		c.Connections.PingInterval = DefaultPingInterval
	}
	if c.Connections.PingTimeout == 0 {
		c.Connections.PingTimeout = DefaultPingTimeout
	}
	if c.Connections.WriteTimeout == 0 {
		c.Connections.WriteTimeout = DefaultWriteTimeout
	}
	if c.Connections.BufferSize == 0 {
		c.Connections.BufferSize = DefaultConnBufferSize
	}
	if c.Connections.RankBase == 0 {
		c.Connections.RankBase = DefaultRankBase
	}
	if c.Connections.RankStep == 0 {
		c.Connections.RankStep = DefaultRankStep
	}

	// API defaults
	if c.API.Timeout == 0 {
		c.API.Timeout = DefaultAPITimeout
	}
	if c.API.MaxRetries == 0 {
		c.API.MaxRetries = DefaultMaxRetries
	}

	if c.Catalog.Interval == 0 {
		c.Catalog.Interval = DefaultCatalogInterval
	}
	if c.Catalog.Limit == 0 {
		c.Catalog.Limit = c.Connections.MaxConnections
	}

	if c.Fallback.Interval == 0 {
		c.Fallback.Interval = DefaultFallbackInterval
	}
	if c.Fallback.Concurrency == 0 {
		c.Fallback.Concurrency = DefaultFallbackConcurrency
	}

	// Archive defaults
	applyDBDefaults(&c.Archive.Database)
	if c.Archive.BatchSize == 0 {
		c.Archive.BatchSize = DefaultBatchSize
	}
	if c.Archive.FlushInterval == 0 {
		c.Archive.FlushInterval = DefaultFlushInterval
	}
	if c.Archive.BufferSize == 0 {
		c.Archive.BufferSize = DefaultArchiveBufferSize
	}

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}

	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
	if c.Log.MaxSizeMB == 0 {
		c.Log.MaxSizeMB = DefaultLogMaxSizeMB
	}
	if c.Log.MaxBackups == 0 {
		c.Log.MaxBackups = DefaultLogMaxBackups
	}
	if c.Log.MaxAgeDays == 0 {
		c.Log.MaxAgeDays = DefaultLogMaxAgeDays
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}

// ClientConfig returns the transport settings for one channel connection.
// URL and Header are filled in per channel by the client factory.
func (c *Config) ClientConfig() connection.ClientConfig {
	cfg := connection.DefaultClientConfig()
	cfg.Driver = c.Server.Transport
	cfg.HandshakeTimeout = c.Connections.HandshakeTimeout
	cfg.PingInterval = c.Connections.PingInterval
	cfg.PingTimeout = c.Connections.PingTimeout
	cfg.WriteTimeout = c.Connections.WriteTimeout
	cfg.BufferSize = c.Connections.BufferSize
	return cfg
}

// SessionConfig returns the manager configuration.
func (c *Config) SessionConfig() session.Config {
	return session.Config{
		Pool: connection.PoolConfig{
			MaxConnections:       c.Connections.MaxConnections,
			DefaultPriority:      c.Connections.DefaultPriority,
			ReconnectBaseDelay:   c.Connections.ReconnectBaseDelay,
			ReconnectMaxDelay:    c.Connections.ReconnectMaxDelay,
			ReconnectMaxAttempts: c.Connections.ReconnectMaxAttempts,
		},
		Ranking: session.Ranking{
			Base: c.Connections.RankBase,
			Step: c.Connections.RankStep,
		},
	}
}
