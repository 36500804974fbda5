// ABOUTME: Configuration loading and parsing for monarch-gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete monarch-gateway configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Monarch  MonarchConfig  `yaml:"monarch"`
	Crypto   CryptoConfig   `yaml:"crypto"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`

	// PublicURL is the externally reachable base URL (used in setup
	// instructions and login responses). Defaults to http://<http_addr>.
	PublicURL string `yaml:"public_url"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds session authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`

	TokenTTL    time.Duration `yaml:"-"`
	TokenTTLRaw string        `yaml:"token_ttl"`
}

// MonarchConfig holds upstream Monarch Money API configuration
type MonarchConfig struct {
	BaseURL string `yaml:"base_url"`

	Timeout    time.Duration `yaml:"-"`
	TimeoutRaw string        `yaml:"timeout"`
}

// CryptoConfig holds credential sealing configuration.
// SealingKey is a hex-encoded 32-byte key; when empty, credentials are
// stored unsealed (development only).
type CryptoConfig struct {
	SealingKey string `yaml:"sealing_key"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills in defaults for optional fields.
func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = "localhost:8787"
	}
	if c.Server.PublicURL == "" {
		c.Server.PublicURL = "http://" + c.Server.HTTPAddr
	}
	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = 90 * 24 * time.Hour
	}
	if c.Monarch.BaseURL == "" {
		c.Monarch.BaseURL = "https://api.monarchmoney.com"
	}
	if c.Monarch.Timeout == 0 {
		c.Monarch.Timeout = 30 * time.Second
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}

	if c.Crypto.SealingKey != "" {
		key, err := hex.DecodeString(c.Crypto.SealingKey)
		if err != nil {
			return fmt.Errorf("crypto.sealing_key must be hex-encoded: %w", err)
		}
		if len(key) != 32 {
			return fmt.Errorf("crypto.sealing_key must decode to 32 bytes, got %d", len(key))
		}
	}

	return nil
}

// SealingKey returns the decoded sealing key, or nil when sealing is disabled.
// Validate must have been called first.
func (c *Config) SealingKey() []byte {
	if c.Crypto.SealingKey == "" {
		return nil
	}
	key, err := hex.DecodeString(c.Crypto.SealingKey)
	if err != nil {
		return nil
	}
	return key
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Auth.TokenTTLRaw != "" {
		cfg.Auth.TokenTTL, err = time.ParseDuration(cfg.Auth.TokenTTLRaw)
		if err != nil {
			return fmt.Errorf("parsing token_ttl %q: %w", cfg.Auth.TokenTTLRaw, err)
		}
	}

	if cfg.Monarch.TimeoutRaw != "" {
		cfg.Monarch.Timeout, err = time.ParseDuration(cfg.Monarch.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing monarch timeout %q: %w", cfg.Monarch.TimeoutRaw, err)
		}
	}

	return nil
}
