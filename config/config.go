// Package config provides configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
type Config struct {
	// Debug includes human-readable messages in validation errors and raw
	// error text in internal error responses.
	Debug bool `yaml:"debug" toml:"debug"`

	// Prefix is the path prefix under which the handler chain is invoked.
	Prefix string `yaml:"prefix" toml:"prefix"`

	Server   ServerConfig   `yaml:"server" toml:"server"`
	Web      WebConfig      `yaml:"web" toml:"web"`
	Socket   SocketConfig   `yaml:"socket" toml:"socket"`
	Handlers HandlersConfig `yaml:"handlers" toml:"handlers"`
	Logging  LoggingConfig  `yaml:"logging" toml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics" toml:"metrics"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host         string        `yaml:"host" toml:"host"`
	Port         int           `yaml:"port" toml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout" toml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" toml:"write_timeout"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// WebConfig configures the HTTP mechanics.
type WebConfig struct {
	// BodyMaxSize is the per-request body ceiling in bytes. Nil means unlimited.
	BodyMaxSize *int64      `yaml:"body_max_size" toml:"body_max_size"`
	JSONP       JSONPConfig `yaml:"jsonp" toml:"jsonp"`
	CORS        CORSConfig  `yaml:"cors" toml:"cors"`
}

// JSONPConfig configures script-callback delivery.
type JSONPConfig struct {
	Disable bool `yaml:"disable" toml:"disable"`
}

// CORSConfig configures cross-origin response headers.
type CORSConfig struct {
	Origins       []string `yaml:"origins" toml:"origins"` // "*" allows any origin
	Methods       []string `yaml:"methods" toml:"methods"`
	Headers       []string `yaml:"headers" toml:"headers"` // empty echoes Access-Control-Request-Headers
	ExposeHeaders []string `yaml:"expose_headers" toml:"expose_headers"`
	Credentials   bool     `yaml:"credentials" toml:"credentials"`
	MaxAge        int      `yaml:"max_age" toml:"max_age"` // seconds
}

// SocketConfig configures the persistent-connection transport.
type SocketConfig struct {
	Enabled      bool   `yaml:"enabled" toml:"enabled"`
	Path         string `yaml:"path" toml:"path"`
	BodyEncoding string `yaml:"body_encoding" toml:"body_encoding"` // "json" or "cbor"
}

// HandlersConfig holds settings read by handler units at request time.
type HandlersConfig struct {
	Data DataHandlerConfig `yaml:"data" toml:"data"`
}

// DataHandlerConfig configures validating handlers.
type DataHandlerConfig struct {
	NeedValidatorInfo bool `yaml:"need_validator_info" toml:"need_validator_info"`
	LogWithData       bool `yaml:"log_with_data" toml:"log_with_data"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`   // "debug", "info", "warn", "error"
	Format string `yaml:"format" toml:"format"` // "json" or "console"
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"` // Enable /metrics endpoint
	Path    string `yaml:"path" toml:"path"`       // Custom path (default: /metrics)
}

// Load reads configuration from a YAML or TOML file.
// Files ending in .toml are decoded as TOML, everything else as YAML.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	return finish(&cfg)
}

// Default returns the built-in configuration with APIMECH_* overrides applied.
func Default() (*Config, error) {
	var cfg Config
	return finish(&cfg)
}

// LoadWithFallback tries to load from file, falls back to defaults and
// environment variables when the file does not exist.
func LoadWithFallback(path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}
	return Default()
}

func finish(cfg *Config) (*Config, error) {
	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	setDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides applies APIMECH_* environment variables to the config.
// Environment variables always override file-based configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("APIMECH_DEBUG"); v != "" {
		cfg.Debug = parseBool(v)
	}
	if v := os.Getenv("APIMECH_PREFIX"); v != "" {
		cfg.Prefix = v
	}

	// Server configuration
	if v := os.Getenv("APIMECH_SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("APIMECH_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("APIMECH_SERVER_READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.ReadTimeout = d
		}
	}
	if v := os.Getenv("APIMECH_SERVER_WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.WriteTimeout = d
		}
	}

	// Web configuration
	if v := os.Getenv("APIMECH_BODY_MAX_SIZE"); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "none", "unlimited":
			cfg.Web.BodyMaxSize = nil
		default:
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				cfg.Web.BodyMaxSize = &n
			}
		}
	}
	if v := os.Getenv("APIMECH_JSONP_DISABLE"); v != "" {
		cfg.Web.JSONP.Disable = parseBool(v)
	}

	// Socket configuration
	if v := os.Getenv("APIMECH_SOCKET_ENABLED"); v != "" {
		cfg.Socket.Enabled = parseBool(v)
	}
	if v := os.Getenv("APIMECH_SOCKET_PATH"); v != "" {
		cfg.Socket.Path = v
	}
	if v := os.Getenv("APIMECH_SOCKET_BODY_ENCODING"); v != "" {
		cfg.Socket.BodyEncoding = v
	}

	// Handler configuration
	if v := os.Getenv("APIMECH_NEED_VALIDATOR_INFO"); v != "" {
		cfg.Handlers.Data.NeedValidatorInfo = parseBool(v)
	}
	if v := os.Getenv("APIMECH_LOG_WITH_DATA"); v != "" {
		cfg.Handlers.Data.LogWithData = parseBool(v)
	}

	// Logging configuration
	if v := os.Getenv("APIMECH_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("APIMECH_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	// Metrics configuration
	if v := os.Getenv("APIMECH_METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = parseBool(v)
	}
	if v := os.Getenv("APIMECH_METRICS_PATH"); v != "" {
		cfg.Metrics.Path = v
	}
}

// parseBool parses a boolean from common string values.
func parseBool(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return v == "true" || v == "1" || v == "yes" || v == "on"
}

func setDefaults(cfg *Config) {
	cfg.Prefix = strings.TrimSuffix(cfg.Prefix, "/")

	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 60 * time.Second
	}

	if len(cfg.Web.CORS.Origins) == 0 {
		cfg.Web.CORS.Origins = []string{"*"}
	}
	if len(cfg.Web.CORS.Methods) == 0 {
		cfg.Web.CORS.Methods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	}

	if cfg.Socket.Path == "" {
		cfg.Socket.Path = "/socket"
	}
	if cfg.Socket.BodyEncoding == "" {
		cfg.Socket.BodyEncoding = "json"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
}

func validate(cfg *Config) error {
	if cfg.Prefix != "" && !strings.HasPrefix(cfg.Prefix, "/") {
		return fmt.Errorf("prefix must start with '/', got %q", cfg.Prefix)
	}

	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 0 and 65535, got %d", cfg.Server.Port)
	}

	if cfg.Web.BodyMaxSize != nil && *cfg.Web.BodyMaxSize < 0 {
		return fmt.Errorf("web.body_max_size must not be negative, got %d", *cfg.Web.BodyMaxSize)
	}
	if cfg.Web.CORS.MaxAge < 0 {
		return fmt.Errorf("web.cors.max_age must not be negative, got %d", cfg.Web.CORS.MaxAge)
	}

	if !strings.HasPrefix(cfg.Socket.Path, "/") {
		return fmt.Errorf("socket.path must start with '/', got %q", cfg.Socket.Path)
	}
	validEncodings := map[string]bool{"json": true, "cbor": true}
	if !validEncodings[cfg.Socket.BodyEncoding] {
		return fmt.Errorf("socket.body_encoding must be 'json' or 'cbor', got %q", cfg.Socket.BodyEncoding)
	}

	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[cfg.Logging.Format] {
		return fmt.Errorf("logging.format must be 'json' or 'console', got %q", cfg.Logging.Format)
	}

	return nil
}
