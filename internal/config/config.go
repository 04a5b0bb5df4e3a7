package config

import (
	"time"

	"github.com/rickgao/sessionmux/internal/session"
)

// Config is the root configuration for a sessionmux instance.
type Config struct {
	Instance    InstanceConfig    `yaml:"instance"`
	Server      ServerConfig      `yaml:"server"`
	Connections ConnectionsConfig `yaml:"connections"`
	Channels    []session.Channel `yaml:"channels"`
	API         APIConfig         `yaml:"api"`
	Catalog     CatalogConfig     `yaml:"catalog"`
	Fallback    FallbackConfig    `yaml:"fallback"`
	Archive     ArchiveConfig     `yaml:"archive"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Log         LogConfig         `yaml:"log"`
}

// InstanceConfig identifies this process.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// ServerConfig describes the channel endpoint and credential.
type ServerConfig struct {
	WSURL       string `yaml:"ws_url"`
	PathPrefix  string `yaml:"path_prefix"`
	Token       string `yaml:"token"`
	TokenFile   string `yaml:"token_file"`   // read when token is empty
	TokenParam  string `yaml:"token_param"`  // query parameter name, "" disables
	TokenHeader bool   `yaml:"token_header"` // also send Authorization: Bearer
	Transport   string `yaml:"transport"`    // gorilla or coder
}

// ConnectionsConfig holds pool and transport settings.
type ConnectionsConfig struct {
	MaxConnections       int           `yaml:"max_connections"`
	DefaultPriority      int           `yaml:"default_priority"`
	HandshakeTimeout     time.Duration `yaml:"handshake_timeout"`
	ReconnectBaseDelay   time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay    time.Duration `yaml:"reconnect_max_delay"`
	ReconnectMaxAttempts int           `yaml:"reconnect_max_attempts"` // 0 = unlimited
	PingInterval         time.Duration `yaml:"ping_interval"`
	PingTimeout          time.Duration `yaml:"ping_timeout"`
	WriteTimeout         time.Duration `yaml:"write_timeout"`
	BufferSize           int           `yaml:"buffer_size"`
	RankBase             int           `yaml:"rank_base"`
	RankStep             int           `yaml:"rank_step"`
}

// APIConfig holds REST collaborator settings.
type APIConfig struct {
	BaseURL    string        `yaml:"base_url"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

// CatalogConfig controls desired-set reconciliation from the session list.
type CatalogConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
	Limit    int           `yaml:"limit"` // most recent active sessions to keep
}

// FallbackConfig controls REST polling for channels that are not connected.
type FallbackConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Interval    time.Duration `yaml:"interval"`
	Concurrency int           `yaml:"concurrency"`
}

// ArchiveConfig controls the PostgreSQL message archive.
type ArchiveConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Migrate       bool          `yaml:"migrate"`
	Database      DBConfig      `yaml:"database"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// MetricsConfig holds the health and Prometheus HTTP server settings.
type MetricsConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}

// LogConfig controls log output.
type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"` // text or json
	File       string `yaml:"file"`   // optional rotating file, in addition to stdout
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}
