// Package config provides configuration loading and validation for the
// harvester. Values come from an optional JSON file overlaid by environment
// variables; the environment always wins.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Defaults mirror the public E-utilities usage policy: 3 requests per second
// anonymously, 10 with an API key.
const (
	DefaultRateLimit        = 3.0
	DefaultRateLimitWithKey = 10.0
)

// Config represents the harvester configuration. All fields are optional;
// missing values use defaults.
type Config struct {
	// NCBI E-utilities identity
	Tool   string `json:"tool,omitempty"`    // tool name sent with every request
	Email  string `json:"email,omitempty"`   // contact email sent with every request
	APIKey string `json:"api_key,omitempty"` // raises the request rate allowance

	// Upstream client
	BaseURL      string  `json:"base_url,omitempty"`       // E-utilities endpoint root
	RateLimit    float64 `json:"rate_limit,omitempty"`     // requests per second
	MaxRetries   int     `json:"max_retries,omitempty"`    // retries after the first attempt
	Timeout      string  `json:"timeout,omitempty"`        // per-request timeout, Go duration
	MaxBatchSize int     `json:"max_batch_size,omitempty"` // identifiers per efetch/esummary call

	// Job engine
	Concurrency int    `json:"concurrency,omitempty"` // worker pool size per job
	JobTimeout  string `json:"job_timeout,omitempty"` // overall job deadline, Go duration

	// Server
	Port        string `json:"port,omitempty"`         // HTTP listen port
	DatabaseURL string `json:"database_url,omitempty"` // PostgreSQL URL for the job archive, optional
	Verbose     bool   `json:"verbose,omitempty"`      // print detailed debug information
}

// LoadConfig loads configuration from a JSON file.
// Returns an error if the file cannot be read or parsed.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is empty")
	}

	// Resolve path relative to current directory if not absolute
	if !filepath.IsAbs(path) {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current directory: %w", err)
		}
		path = filepath.Join(cwd, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	return &cfg, nil
}

// FromEnv returns a Config populated from environment variables. Unset
// variables leave their fields zero.
func FromEnv() Config {
	cfg := Config{
		Tool:        os.Getenv("NCBI_TOOL"),
		Email:       os.Getenv("NCBI_EMAIL"),
		APIKey:      os.Getenv("NCBI_API_KEY"),
		BaseURL:     os.Getenv("NCBI_BASE_URL"),
		Timeout:     os.Getenv("HTTP_TIMEOUT"),
		JobTimeout:  os.Getenv("JOB_TIMEOUT"),
		Port:        os.Getenv("PORT"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
	}
	if v := os.Getenv("NCBI_RATE_LIMIT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.RateLimit = f
		}
	}
	if v := os.Getenv("MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxRetries = n
		}
	}
	if v := os.Getenv("MAX_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxBatchSize = n
		}
	}
	if v := os.Getenv("WORKER_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Concurrency = n
		}
	}
	if v := os.Getenv("VERBOSE"); v == "true" || v == "1" {
		cfg.Verbose = true
	}
	return cfg
}

// Validate checks that the configuration has valid values.
func (c *Config) Validate() error {
	if c.RateLimit < 0 {
		return fmt.Errorf("config error: 'rate_limit' must be non-negative")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("config error: 'max_retries' must be non-negative")
	}
	if c.MaxBatchSize < 0 {
		return fmt.Errorf("config error: 'max_batch_size' must be non-negative")
	}
	if c.Concurrency < 0 {
		return fmt.Errorf("config error: 'concurrency' must be non-negative")
	}
	if c.Timeout != "" {
		if _, err := time.ParseDuration(c.Timeout); err != nil {
			return fmt.Errorf("config error: invalid 'timeout': %w", err)
		}
	}
	if c.JobTimeout != "" {
		if _, err := time.ParseDuration(c.JobTimeout); err != nil {
			return fmt.Errorf("config error: invalid 'job_timeout': %w", err)
		}
	}
	return nil
}

// MergeWithDefaults returns a new Config with empty fields filled from
// defaults. Used to apply config file values underneath the environment.
func (c *Config) MergeWithDefaults(defaults Config) Config {
	result := *c

	// String fields: use default if empty
	if result.Tool == "" {
		result.Tool = defaults.Tool
	}
	if result.Email == "" {
		result.Email = defaults.Email
	}
	if result.APIKey == "" {
		result.APIKey = defaults.APIKey
	}
	if result.BaseURL == "" {
		result.BaseURL = defaults.BaseURL
	}
	if result.Timeout == "" {
		result.Timeout = defaults.Timeout
	}
	if result.JobTimeout == "" {
		result.JobTimeout = defaults.JobTimeout
	}
	if result.Port == "" {
		result.Port = defaults.Port
	}
	if result.DatabaseURL == "" {
		result.DatabaseURL = defaults.DatabaseURL
	}

	// Numeric fields: use default if zero
	if result.RateLimit == 0 {
		result.RateLimit = defaults.RateLimit
	}
	if result.MaxRetries == 0 {
		result.MaxRetries = defaults.MaxRetries
	}
	if result.MaxBatchSize == 0 {
		result.MaxBatchSize = defaults.MaxBatchSize
	}
	if result.Concurrency == 0 {
		result.Concurrency = defaults.Concurrency
	}

	// Bool fields: cannot distinguish unset from false, so we don't merge
	// (CLI flags should always win for bools)

	return result
}

// EffectiveRate returns the request rate to enforce: the configured value
// when set, otherwise the policy default for the credential on hand.
func (c *Config) EffectiveRate() float64 {
	if c.RateLimit > 0 {
		return c.RateLimit
	}
	if c.APIKey != "" {
		return DefaultRateLimitWithKey
	}
	return DefaultRateLimit
}

// TimeoutDuration parses the per-request timeout, falling back to the given
// default for empty or unset values.
func (c *Config) TimeoutDuration(fallback time.Duration) time.Duration {
	return parseDuration(c.Timeout, fallback)
}

// JobTimeoutDuration parses the job deadline, falling back to the given
// default for empty or unset values.
func (c *Config) JobTimeoutDuration(fallback time.Duration) time.Duration {
	return parseDuration(c.JobTimeout, fallback)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
