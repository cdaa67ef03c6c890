package main

import (
	"errors"
	"fmt"
	sender "github.com/itzg/apptuit-sender"
	"gopkg.in/yaml.v3"
	"log/slog"
	"os"
	"time"
)

const (
	ProtocolHTTP = "http"
	ProtocolLine = "line"
)

type Config struct {
	// Protocol selects the ingestion backend, http or line.
	Protocol string `yaml:"protocol"`
	Token    string `yaml:"token"`
	Endpoint string `yaml:"endpoint"`
	// LineProtocolAddress is the host:port of a line protocol listener, used when Protocol is line.
	LineProtocolAddress string              `yaml:"line_protocol_address"`
	Interval            time.Duration       `yaml:"interval"`
	Timeout             time.Duration       `yaml:"timeout"`
	RetryCount          int                 `yaml:"retry_count"`
	Sanitize            sender.SanitizeMode `yaml:"sanitize"`
	Prefix              string              `yaml:"prefix"`
	Tags                map[string]string   `yaml:"tags"`
	LogLevel            string              `yaml:"log_level"`

	// EnvironmentTags are read from APPTUIT_TAGS, never from the file.
	EnvironmentTags map[string]string `yaml:"-"`
}

// LoadConfig reads the YAML file at path, applies defaults and environment
// overrides, then validates the result. A missing file is not an error, so
// the agent can be configured entirely through the environment.
func LoadConfig(path string, lookup sender.LookupEnv) (*Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	ApplyDefaults(&cfg)
	if err := applyEnvOverrides(&cfg, lookup); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func ApplyDefaults(cfg *Config) {
	if cfg.Protocol == "" {
		cfg.Protocol = ProtocolHTTP
	}
	if cfg.Endpoint == "" && cfg.Protocol == ProtocolHTTP {
		cfg.Endpoint = sender.DefaultEndpoint
	}
	if cfg.Interval == 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = sender.DefaultTimeout
	}
	if cfg.Sanitize == "" {
		cfg.Sanitize = sender.SanitizePrometheusMode
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
}

func applyEnvOverrides(cfg *Config, lookup sender.LookupEnv) error {
	if token, ok := sender.TokenFromEnv(lookup); ok {
		cfg.Token = token
	}
	tags, err := sender.TagsFromEnv(lookup)
	if err != nil {
		return err
	}
	cfg.EnvironmentTags = tags
	return nil
}

func (c *Config) Validate() error {
	switch c.Protocol {
	case ProtocolHTTP:
		if c.Token == "" {
			return fmt.Errorf("%w: set token or %s", sender.ErrMissingToken, sender.TokenEnv)
		}
	case ProtocolLine:
		if c.LineProtocolAddress == "" {
			return fmt.Errorf("%w: line_protocol_address is required for the line protocol", sender.ErrInvalidEndpoint)
		}
	default:
		return fmt.Errorf("protocol must be %s or %s, got %q", ProtocolHTTP, ProtocolLine, c.Protocol)
	}
	if c.Interval < time.Second {
		return fmt.Errorf("interval must be at least 1s, got %s", c.Interval)
	}
	if c.RetryCount < 0 {
		return fmt.Errorf("retry_count must not be negative, got %d", c.RetryCount)
	}
	if err := sender.ValidateTags(c.Tags); err != nil {
		return err
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	return nil
}

func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("invalid log_level %q: %w", c.LogLevel, err)
	}
	return level, nil
}
