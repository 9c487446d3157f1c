package common

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string        `toml:"environment"` // "development" or "production"
	Storage     StorageConfig `toml:"storage"`
	Queue       QueueConfig   `toml:"queue"`
	HTTP        HTTPConfig    `toml:"http"`
	Locks       LocksConfig   `toml:"locks"`
	Genres      GenresConfig  `toml:"genres"`
	Claude      ClaudeConfig  `toml:"claude"`
	OPF         OPFConfig     `toml:"opf"`
	Logging     LoggingConfig `toml:"logging"`
}

type StorageConfig struct {
	SQLite SQLiteConfig `toml:"sqlite"`
}

// SQLiteConfig represents SQLite-specific configuration
type SQLiteConfig struct {
	Path          string `toml:"path"`            // Database file path
	CacheSizeMB   int    `toml:"cache_size_mb"`   // Page cache size in MB
	BusyTimeoutMS int    `toml:"busy_timeout_ms"` // SQLITE_BUSY wait in milliseconds
	WALMode       bool   `toml:"wal_mode"`        // Enable write-ahead logging
}

type QueueConfig struct {
	Workers     int `toml:"workers"`      // Number of concurrent pipeline workers
	ChannelSize int `toml:"channel_size"` // Bounded dispatch channel capacity
	MaxRetries  int `toml:"max_retries"`  // Per-task retry budget
}

type HTTPConfig struct {
	RequestTimeout time.Duration `toml:"request_timeout"` // Per-request timeout
	DomainDelay    time.Duration `toml:"domain_delay"`    // Minimum spacing between requests to the same host
	MaxAttempts    int           `toml:"max_attempts"`    // Fetch attempts before HTTPExhausted
	InitialBackoff time.Duration `toml:"initial_backoff"` // First retry backoff
	MaxBackoff     time.Duration `toml:"max_backoff"`     // Backoff cap
	UserAgent      string        `toml:"user_agent"`
}

type LocksConfig struct {
	Mode         string        `toml:"mode"`          // "database" or "file"
	Timeout      time.Duration `toml:"timeout"`       // Acquisition timeout
	PollInterval time.Duration `toml:"poll_interval"` // Retry spacing while waiting
}

type GenresConfig struct {
	MappingPath string  `toml:"mapping_path"` // Canonical genre mapping JSON file
	UseLLM      bool    `toml:"use_llm"`      // Consult the LLM advisor for unknown genres
	Confidence  float64 `toml:"confidence"`   // Advisor confidence threshold stated in the prompt
}

// ClaudeConfig contains Anthropic Claude API configuration for the genre advisor
type ClaudeConfig struct {
	APIKey      string  `toml:"api_key"`     // Anthropic API key (ANTHROPIC_API_KEY or config)
	Model       string  `toml:"model"`       // Model for genre classification
	MaxTokens   int     `toml:"max_tokens"`  // Maximum tokens in response
	Timeout     string  `toml:"timeout"`     // Operation timeout as duration string
	Temperature float32 `toml:"temperature"` // Completion temperature
}

type OPFConfig struct {
	TemplatePath string `toml:"template_path"` // Override for the built-in metadata.opf template
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Output []string `toml:"output"` // "stdout", "file"
}

// NewDefaultConfig creates a configuration with default values.
// Technical parameters are hardcoded here for production stability.
// Only user-facing settings should be exposed in fabula.toml.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Storage: StorageConfig{
			SQLite: SQLiteConfig{
				Path:          "./data/fabula.db",
				CacheSizeMB:   10,
				BusyTimeoutMS: 5000,
				WALMode:       true,
			},
		},
		Queue: QueueConfig{
			Workers:     4,
			ChannelSize: 256,
			MaxRetries:  2,
		},
		HTTP: HTTPConfig{
			RequestTimeout: 30 * time.Second,
			DomainDelay:    2 * time.Second,
			MaxAttempts:    5,
			InitialBackoff: 2 * time.Second,
			MaxBackoff:     10 * time.Second,
			UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		},
		Locks: LocksConfig{
			Mode:         "database",
			Timeout:      30 * time.Second,
			PollInterval: 250 * time.Millisecond,
		},
		Genres: GenresConfig{
			MappingPath: "./data/genres.json",
			UseLLM:      false,
			Confidence:  0.85,
		},
		Claude: ClaudeConfig{
			APIKey:      "",
			Model:       "claude-3-5-haiku-20241022",
			MaxTokens:   64,
			Timeout:     "1m",
			Temperature: 0,
		},
		OPF: OPFConfig{
			TemplatePath: "",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout", "file"},
		},
	}
}

// LoadFromFiles loads configuration from multiple files with priority:
// default -> file1 -> file2 -> ... -> env. Later files override earlier files.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("FABULA_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	if path := os.Getenv("FABULA_SQLITE_PATH"); path != "" {
		config.Storage.SQLite.Path = path
	}

	if workers := os.Getenv("FABULA_WORKERS"); workers != "" {
		if n, err := strconv.Atoi(workers); err == nil && n > 0 {
			config.Queue.Workers = n
		}
	}

	if delay := os.Getenv("FABULA_DOMAIN_DELAY"); delay != "" {
		if d, err := time.ParseDuration(delay); err == nil {
			config.HTTP.DomainDelay = d
		}
	}

	if mode := os.Getenv("FABULA_LOCK_MODE"); mode != "" {
		config.Locks.Mode = mode
	}

	if path := os.Getenv("FABULA_GENRE_MAPPING"); path != "" {
		config.Genres.MappingPath = path
	}

	if level := os.Getenv("FABULA_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}

	// ANTHROPIC_API_KEY is the conventional variable; FABULA_CLAUDE_API_KEY wins
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" && config.Claude.APIKey == "" {
		config.Claude.APIKey = key
	}
	if key := os.Getenv("FABULA_CLAUDE_API_KEY"); key != "" {
		config.Claude.APIKey = key
	}
}
