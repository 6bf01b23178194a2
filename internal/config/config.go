// Package config provides environment-variable-first configuration loading
// with optional YAML file fallback for the postmark-send command.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/shineum/postmark-lite/email"
)

const (
	defaultPostmarkBaseURL = "https://api.postmarkapp.com"
	defaultTimeout         = 10 * time.Second
	defaultMaxRetries      = 3
	defaultConcurrency     = 1
)

// Config holds the complete application configuration.
type Config struct {
	Provider string         `yaml:"provider" validate:"omitempty,oneof=postmark ses stdout"`
	Postmark PostmarkConfig `yaml:"postmark"`
	SES      SESConfig      `yaml:"ses"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// PostmarkConfig holds Postmark API configuration.
type PostmarkConfig struct {
	ServerToken string        `yaml:"server_token"`
	Sender      string        `yaml:"sender"`
	BaseURL     string        `yaml:"base_url" validate:"required,url"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxRetries  int           `yaml:"max_retries" validate:"gte=0,lte=10"`
	Concurrency int           `yaml:"concurrency" validate:"gte=1,lte=64"`
	TrackOpens  bool          `yaml:"track_opens"`
	TrackLinks  string        `yaml:"track_links"`
}

// SESConfig holds AWS SES configuration.
type SESConfig struct {
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Sender          string `yaml:"sender"`
	MaxRetries      int    `yaml:"max_retries" validate:"gte=0,lte=10"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=json text"`
}

// Load loads configuration from environment variables with sensible defaults.
// Environment variables always take precedence.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.applyEnvVars()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadEnvFile reads KEY=VALUE pairs from a dotenv file into the process
// environment. Variables that are already set keep their values.
func LoadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to read env file: %w", err)
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file as the base layer,
// then overrides with environment variables. Returns an error if the
// specified file path does not exist.
func LoadFromFile(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Environment variables always override YAML values
	cfg.applyEnvVars()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field formats and the requirements of the selected
// provider. All problems are reported together.
func (c *Config) Validate() error {
	var errs error

	if err := validator.New().Struct(c); err != nil {
		errs = multierr.Append(errs, err)
	}

	if c.Postmark.Timeout <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("postmark.timeout must be positive, got %s", c.Postmark.Timeout))
	}
	if _, err := email.ParseTrackLinks(c.Postmark.TrackLinks); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("postmark.track_links: %w", err))
	}
	if c.Postmark.Sender != "" {
		if _, err := email.ParseAddress(c.Postmark.Sender); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("postmark.sender: %w", err))
		}
	}
	if c.SES.Sender != "" {
		if _, err := email.ParseAddress(c.SES.Sender); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("ses.sender: %w", err))
		}
	}

	switch c.Provider {
	case "postmark":
		if !c.PostmarkConfigured() {
			errs = multierr.Append(errs, fmt.Errorf("postmark provider selected but POSTMARK_SERVER_TOKEN and POSTMARK_SENDER are required"))
		}
	case "ses":
		if !c.SESConfigured() {
			errs = multierr.Append(errs, fmt.Errorf("ses provider selected but SES_REGION and SES_SENDER are required"))
		}
	}

	if errs != nil {
		return fmt.Errorf("invalid configuration: %w", errs)
	}
	return nil
}

// PostmarkConfigured returns true if the server token and sender are set.
func (c *Config) PostmarkConfigured() bool {
	return c.Postmark.ServerToken != "" && c.Postmark.Sender != ""
}

// SESConfigured returns true if the SES region and sender are set.
func (c *Config) SESConfigured() bool {
	return c.SES.Region != "" && c.SES.Sender != ""
}

// applyDefaults sets sensible default values for all configuration fields.
func (c *Config) applyDefaults() {
	c.Postmark.BaseURL = defaultPostmarkBaseURL
	c.Postmark.Timeout = defaultTimeout
	c.Postmark.MaxRetries = defaultMaxRetries
	c.Postmark.Concurrency = defaultConcurrency
	c.Postmark.TrackLinks = string(email.TrackLinksNone)
	c.SES.MaxRetries = defaultMaxRetries
	c.Logging.Level = "info"
	c.Logging.Format = "json"
}

// applyEnvVars overrides configuration with environment variable values.
// Only non-empty environment variables override existing values; numbers
// and durations that fail to parse are ignored.
func (c *Config) applyEnvVars() {
	if v := os.Getenv("PROVIDER"); v != "" {
		c.Provider = strings.ToLower(v)
	}

	if v := os.Getenv("POSTMARK_SERVER_TOKEN"); v != "" {
		c.Postmark.ServerToken = v
	}
	if v := os.Getenv("POSTMARK_SENDER"); v != "" {
		c.Postmark.Sender = v
	}
	if v := os.Getenv("POSTMARK_BASE_URL"); v != "" {
		c.Postmark.BaseURL = v
	}
	if v := os.Getenv("POSTMARK_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Postmark.Timeout = d
		}
	}
	if v := os.Getenv("POSTMARK_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Postmark.MaxRetries = n
		}
	}
	if v := os.Getenv("POSTMARK_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Postmark.Concurrency = n
		}
	}
	if v := os.Getenv("POSTMARK_TRACK_OPENS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Postmark.TrackOpens = b
		}
	}
	if v := os.Getenv("POSTMARK_TRACK_LINKS"); v != "" {
		c.Postmark.TrackLinks = v
	}

	if v := os.Getenv("SES_REGION"); v != "" {
		c.SES.Region = v
	}
	if v := os.Getenv("SES_ACCESS_KEY_ID"); v != "" {
		c.SES.AccessKeyID = v
	}
	if v := os.Getenv("SES_SECRET_ACCESS_KEY"); v != "" {
		c.SES.SecretAccessKey = v
	}
	if v := os.Getenv("SES_SENDER"); v != "" {
		c.SES.Sender = v
	}
	if v := os.Getenv("SES_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.SES.MaxRetries = n
		}
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		c.Logging.Format = strings.ToLower(v)
	}
}
