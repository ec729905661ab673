// Package config loads the backplane's process configuration from a
// YAML file, overlays environment variable overrides, and validates
// the result before any subsystem is constructed from it.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig controls the metrics/health listener (the one transport
// surface this repo owns directly).
type ServerConfig struct {
	HTTPPort    string `yaml:"http_port"`
	MetricsPort string `yaml:"metrics_port"`
}

// EndpointLimit is one row of the rate limiter's per-endpoint table.
type EndpointLimit struct {
	Limit          int `yaml:"limit"`
	WindowSeconds  int `yaml:"window_seconds"`
}

// RateLimiterConfig is the §4.1 per-endpoint table plus its default.
type RateLimiterConfig struct {
	Default   EndpointLimit            `yaml:"default"`
	Endpoints map[string]EndpointLimit `yaml:"endpoints"`
}

// ContentScannerConfig toggles the optional ML classifier (§4.2).
type ContentScannerConfig struct {
	MLEnabled   bool    `yaml:"ml_enabled"`
	MLThreshold float64 `yaml:"ml_threshold"`
}

// HydrationConfig mirrors the §6 environment variables.
type HydrationConfig struct {
	Enabled           bool   `yaml:"enabled"`
	TZ                string `yaml:"tz"`
	PollSeconds       int    `yaml:"poll_seconds"`
	Hour              int    `yaml:"hour"`
	Minute            int    `yaml:"minute"`
	MaxFilesPerRun    int    `yaml:"max_files_per_run"`
	ForceFullScan     bool   `yaml:"force_full_scan"`
	OCREnabled        bool   `yaml:"ocr_enabled"`
	ServiceUserID     int    `yaml:"service_user_id"`
	MaxChunkChars     int    `yaml:"max_chunk_chars"`
}

// ULEConfig configures the linking engine's embedding/similarity knobs.
type ULEConfig struct {
	EmbeddingProvider   string  `yaml:"embedding_provider"` // "local" | "bedrock"
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
}

// RegressionConfig seeds default promotion thresholds (§4.9).
type RegressionConfig struct {
	DefaultMaxDrop      float64 `yaml:"default_max_drop"`
	DefaultMinThreshold float64 `yaml:"default_min_threshold"`
}

// LoggingConfig controls the zap logger's verbosity/encoding.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LockConfig points at the distributed lock backend (§5).
type LockConfig struct {
	BackendURL string        `yaml:"backend_url"`
	TTL        time.Duration `yaml:"ttl"`
}

// QueueConfig points at the job queue backend (§6).
type QueueConfig struct {
	BackendURL string `yaml:"backend_url"`
}

// Config is the root process configuration.
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	RateLimiter    RateLimiterConfig    `yaml:"rate_limiter"`
	ContentScanner ContentScannerConfig `yaml:"content_scanner"`
	Hydration      HydrationConfig      `yaml:"hydration"`
	ULE            ULEConfig            `yaml:"ule"`
	Regression     RegressionConfig     `yaml:"regression"`
	Logging        LoggingConfig        `yaml:"logging"`
	Lock           LockConfig           `yaml:"lock"`
	Queue          QueueConfig          `yaml:"queue"`
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:    "8080",
			MetricsPort: "9090",
		},
		RateLimiter: RateLimiterConfig{
			Default: EndpointLimit{Limit: 100, WindowSeconds: 60},
		},
		ContentScanner: ContentScannerConfig{
			MLThreshold: 0.8,
		},
		Hydration: HydrationConfig{
			Enabled:        true,
			TZ:             "UTC",
			PollSeconds:    60,
			Hour:           2,
			Minute:         0,
			MaxFilesPerRun: 500,
			MaxChunkChars:  800,
		},
		ULE: ULEConfig{
			EmbeddingProvider:   "local",
			SimilarityThreshold: 0.6,
		},
		Regression: RegressionConfig{
			DefaultMaxDrop:      0.02,
			DefaultMinThreshold: 0.0,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Lock: LockConfig{
			TTL: 2 * time.Hour,
		},
	}
}

// Load reads path, parses it as YAML over the defaults, overlays
// environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFromEnv overlays the §6 environment variables onto cfg.
func loadFromEnv(cfg *Config) error {
	if v := os.Getenv("HTTP_PORT"); v != "" {
		cfg.Server.HTTPPort = v
	}
	if v := os.Getenv("METRICS_PORT"); v != "" {
		cfg.Server.MetricsPort = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("HYDRATION_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid HYDRATION_ENABLED: %w", err)
		}
		cfg.Hydration.Enabled = b
	}
	if v := os.Getenv("HYDRATION_TZ"); v != "" {
		cfg.Hydration.TZ = v
	}
	if v := os.Getenv("HYDRATION_POLL_SECONDS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid HYDRATION_POLL_SECONDS: %w", err)
		}
		cfg.Hydration.PollSeconds = n
	}
	if v := os.Getenv("HYDRATION_HOUR"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid HYDRATION_HOUR: %w", err)
		}
		cfg.Hydration.Hour = n
	}
	if v := os.Getenv("HYDRATION_MINUTE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid HYDRATION_MINUTE: %w", err)
		}
		cfg.Hydration.Minute = n
	}
	if v := os.Getenv("HYDRATION_MAX_FILES_PER_RUN"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid HYDRATION_MAX_FILES_PER_RUN: %w", err)
		}
		cfg.Hydration.MaxFilesPerRun = n
	}
	if v := os.Getenv("HYDRATION_FORCE_FULL_SCAN"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid HYDRATION_FORCE_FULL_SCAN: %w", err)
		}
		cfg.Hydration.ForceFullScan = b
	}
	if v := os.Getenv("HYDRATION_OCR_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid HYDRATION_OCR_ENABLED: %w", err)
		}
		cfg.Hydration.OCREnabled = b
	}
	if v := os.Getenv("HYDRATION_SERVICE_USER_ID"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid HYDRATION_SERVICE_USER_ID: %w", err)
		}
		cfg.Hydration.ServiceUserID = n
	}
	if v := os.Getenv("LOCK_BACKEND_URL"); v != "" {
		cfg.Lock.BackendURL = v
	}
	if v := os.Getenv("QUEUE_BACKEND_URL"); v != "" {
		cfg.Queue.BackendURL = v
	}
	return nil
}

// validate checks the invariants the rest of the stack relies on
// (non-zero windows, valid hour/minute ranges, ...).
func validate(cfg *Config) error {
	if cfg.Server.HTTPPort == "" {
		return fmt.Errorf("server http_port is required")
	}
	if cfg.RateLimiter.Default.Limit <= 0 {
		return fmt.Errorf("rate limiter default limit must be greater than 0")
	}
	if cfg.RateLimiter.Default.WindowSeconds <= 0 {
		return fmt.Errorf("rate limiter default window_seconds must be greater than 0")
	}
	if cfg.ContentScanner.MLThreshold < 0 || cfg.ContentScanner.MLThreshold > 1 {
		return fmt.Errorf("content scanner ml_threshold must be between 0.0 and 1.0")
	}
	if cfg.Hydration.Hour < 0 || cfg.Hydration.Hour > 23 {
		return fmt.Errorf("hydration hour must be between 0 and 23")
	}
	if cfg.Hydration.Minute < 0 || cfg.Hydration.Minute > 59 {
		return fmt.Errorf("hydration minute must be between 0 and 59")
	}
	if cfg.Hydration.MaxFilesPerRun <= 0 {
		return fmt.Errorf("hydration max_files_per_run must be greater than 0")
	}
	if cfg.Hydration.MaxChunkChars <= 0 {
		return fmt.Errorf("hydration max_chunk_chars must be greater than 0")
	}
	if _, err := time.LoadLocation(cfg.Hydration.TZ); err != nil {
		return fmt.Errorf("hydration tz is invalid: %w", err)
	}
	if cfg.ULE.EmbeddingProvider != "local" && cfg.ULE.EmbeddingProvider != "bedrock" {
		return fmt.Errorf("unsupported ule embedding_provider: %s", cfg.ULE.EmbeddingProvider)
	}
	if cfg.ULE.SimilarityThreshold < 0 || cfg.ULE.SimilarityThreshold > 1 {
		return fmt.Errorf("ule similarity_threshold must be between 0.0 and 1.0")
	}
	if cfg.Regression.DefaultMaxDrop < 0 {
		return fmt.Errorf("regression default_max_drop must be non-negative")
	}
	return nil
}
