package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SESSIONMUX"

// envOverrides are applied after the file is parsed. Unset variables leave
// the file value alone.
type envOverrides struct {
	InstanceID       string `envconfig:"INSTANCE_ID"`
	WSURL            string `envconfig:"WS_URL"`
	Token            string `envconfig:"TOKEN"`
	TokenFile        string `envconfig:"TOKEN_FILE"`
	Transport        string `envconfig:"TRANSPORT"`
	APIBaseURL       string `envconfig:"API_BASE_URL"`
	DatabasePassword string `envconfig:"DATABASE_PASSWORD"`
	LogLevel         string `envconfig:"LOG_LEVEL"`
	LogFormat        string `envconfig:"LOG_FORMAT"`
	MetricsPort      int    `envconfig:"METRICS_PORT"`
}

// Load reads a YAML config file, expands environment variables and applies
// SESSIONMUX_* overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Expand ${VAR} environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// LoadWithDefaults loads config and applies default values.
func LoadWithDefaults(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

// LoadAndValidate loads config, applies defaults, and validates.
func LoadAndValidate(path string) (*Config, error) {
	cfg, err := LoadWithDefaults(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	var env envOverrides
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return fmt.Errorf("read environment overrides: %w", err)
	}

	setString(&c.Instance.ID, env.InstanceID)
	setString(&c.Server.WSURL, env.WSURL)
	setString(&c.Server.Token, env.Token)
	setString(&c.Server.TokenFile, env.TokenFile)
	setString(&c.Server.Transport, strings.ToLower(env.Transport))
	setString(&c.API.BaseURL, env.APIBaseURL)
	setString(&c.Archive.Database.Password, env.DatabasePassword)
	setString(&c.Log.Level, env.LogLevel)
	setString(&c.Log.Format, env.LogFormat)
	if env.MetricsPort != 0 {
		c.Metrics.Port = env.MetricsPort
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
