// Package config loads the server configuration from a YAML file with
// environment variable overrides for deployment-sensitive values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration parses YAML scalars like "30s" or "7d"-less Go duration
// strings into a time.Duration.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the full server configuration.
type Config struct {
	Addr      string `yaml:"addr"`
	SecretKey string `yaml:"secret_key"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`

	Auth struct {
		AccessTokenTTL  Duration `yaml:"access_token_ttl"`
		RefreshTokenTTL Duration `yaml:"refresh_token_ttl"`
	} `yaml:"auth"`

	WebSocket struct {
		PingInterval Duration `yaml:"ping_interval"`
		IdleTimeout  Duration `yaml:"idle_timeout"`
		WriteTimeout Duration `yaml:"write_timeout"`
	} `yaml:"websocket"`
}

// Default returns the configuration used when no file is supplied.
func Default() Config {
	var cfg Config
	cfg.Addr = ":8000"
	cfg.Log.Level = "info"
	cfg.Log.Format = "text"
	cfg.Auth.AccessTokenTTL = Duration(30 * time.Minute)
	cfg.Auth.RefreshTokenTTL = Duration(7 * 24 * time.Hour)
	cfg.WebSocket.PingInterval = Duration(30 * time.Second)
	cfg.WebSocket.IdleTimeout = Duration(5 * time.Minute)
	cfg.WebSocket.WriteTimeout = Duration(10 * time.Second)
	return cfg
}

// Load reads the YAML file at path, fills unset fields with defaults and
// applies ENTRYCAL_ADDR and ENTRYCAL_SECRET_KEY overrides. An empty path
// yields the defaults plus overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(filepath.Clean(path))
		if err != nil {
			return cfg, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing config file: %w", err)
		}
		applyDefaults(&cfg)
	}

	if addr := os.Getenv("ENTRYCAL_ADDR"); addr != "" {
		cfg.Addr = addr
	}
	if key := os.Getenv("ENTRYCAL_SECRET_KEY"); key != "" {
		cfg.SecretKey = key
	}

	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyDefaults restores defaults for fields the file left at zero.
func applyDefaults(cfg *Config) {
	def := Default()
	if cfg.Addr == "" {
		cfg.Addr = def.Addr
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = def.Log.Level
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = def.Log.Format
	}
	if cfg.Auth.AccessTokenTTL == 0 {
		cfg.Auth.AccessTokenTTL = def.Auth.AccessTokenTTL
	}
	if cfg.Auth.RefreshTokenTTL == 0 {
		cfg.Auth.RefreshTokenTTL = def.Auth.RefreshTokenTTL
	}
	if cfg.WebSocket.PingInterval == 0 {
		cfg.WebSocket.PingInterval = def.WebSocket.PingInterval
	}
	if cfg.WebSocket.IdleTimeout == 0 {
		cfg.WebSocket.IdleTimeout = def.WebSocket.IdleTimeout
	}
	if cfg.WebSocket.WriteTimeout == 0 {
		cfg.WebSocket.WriteTimeout = def.WebSocket.WriteTimeout
	}
}

func (c Config) validate() error {
	if c.SecretKey == "" {
		return fmt.Errorf("secret_key is required (set it in the config file or via ENTRYCAL_SECRET_KEY)")
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	return nil
}
