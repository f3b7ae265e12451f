// ABOUTME: Configuration loading and parsing for dealdesk
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete dealdesk configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Threads    ThreadsConfig    `yaml:"threads"`
	Summarizer SummarizerConfig `yaml:"summarizer"`
	Retry      RetryConfig      `yaml:"retry"`
	Lock       LockConfig       `yaml:"lock"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// ThreadsConfig holds thread lifecycle timing configuration
type ThreadsConfig struct {
	ExpireAfter   time.Duration `yaml:"-"`
	SweepInterval time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	ExpireAfterRaw   string `yaml:"expire_after"`
	SweepIntervalRaw string `yaml:"sweep_interval"`
}

// SummarizerConfig holds summarization trigger configuration
type SummarizerConfig struct {
	// MessageThreshold triggers summarization at this many active events.
	// Zero disables summarization entirely.
	MessageThreshold int `yaml:"message_threshold"`
	MinTokens        int `yaml:"min_tokens"`
	HistoryLimit     int `yaml:"history_limit"`
}

// RetryConfig holds retry worker configuration
type RetryConfig struct {
	Interval time.Duration   `yaml:"-"`
	Delays   []time.Duration `yaml:"-"`

	IntervalRaw string   `yaml:"interval"`
	DelaysRaw   []string `yaml:"delays"`

	MaxAttempts int `yaml:"max_attempts"`
	BatchSize   int `yaml:"batch_size"`
}

// LockConfig holds keyed lock configuration
type LockConfig struct {
	TTL time.Duration `yaml:"-"`

	TTLRaw string `yaml:"ttl"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a configuration with sensible defaults for local use
func Default() *Config {
	return &Config{
		Server:   ServerConfig{HTTPAddr: ":8080"},
		Database: DatabaseConfig{Path: "data/dealdesk.db"},
		Threads: ThreadsConfig{
			ExpireAfter:   7 * 24 * time.Hour,
			SweepInterval: time.Hour,
		},
		Summarizer: SummarizerConfig{
			MessageThreshold: 20,
			MinTokens:        300,
			HistoryLimit:     100,
		},
		Retry: RetryConfig{
			Interval:    5 * time.Minute,
			Delays:      []time.Duration{5 * time.Minute, time.Hour, 4 * time.Hour},
			MaxAttempts: 3,
			BatchSize:   10,
		},
		Lock:    LockConfig{TTL: 10 * time.Minute},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
// Fields left unset fall back to Default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expandedData), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Summarizer.MessageThreshold < 0 {
		return fmt.Errorf("summarizer.message_threshold must not be negative")
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry.max_attempts must be positive")
	}
	if len(c.Retry.Delays) == 0 {
		return fmt.Errorf("retry.delays must not be empty")
	}

	level := strings.ToLower(c.Logging.Level)
	switch level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Threads.ExpireAfterRaw != "" {
		cfg.Threads.ExpireAfter, err = time.ParseDuration(cfg.Threads.ExpireAfterRaw)
		if err != nil {
			return fmt.Errorf("parsing threads.expire_after %q: %w", cfg.Threads.ExpireAfterRaw, err)
		}
	}

	if cfg.Threads.SweepIntervalRaw != "" {
		cfg.Threads.SweepInterval, err = time.ParseDuration(cfg.Threads.SweepIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing threads.sweep_interval %q: %w", cfg.Threads.SweepIntervalRaw, err)
		}
	}

	if cfg.Retry.IntervalRaw != "" {
		cfg.Retry.Interval, err = time.ParseDuration(cfg.Retry.IntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing retry.interval %q: %w", cfg.Retry.IntervalRaw, err)
		}
	}

	if len(cfg.Retry.DelaysRaw) > 0 {
		delays := make([]time.Duration, 0, len(cfg.Retry.DelaysRaw))
		for _, raw := range cfg.Retry.DelaysRaw {
			d, err := time.ParseDuration(raw)
			if err != nil {
				return fmt.Errorf("parsing retry.delays entry %q: %w", raw, err)
			}
			delays = append(delays, d)
		}
		cfg.Retry.Delays = delays
	}

	if cfg.Lock.TTLRaw != "" {
		cfg.Lock.TTL, err = time.ParseDuration(cfg.Lock.TTLRaw)
		if err != nil {
			return fmt.Errorf("parsing lock.ttl %q: %w", cfg.Lock.TTLRaw, err)
		}
	}

	return nil
}
