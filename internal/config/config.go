// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	DBPath      string

	ModelServiceAddr string
	LabelMapPath     string
	PdftotextPath    string
	LLM              LLMConfig
	Review           ReviewConfig
	Sessions         SessionConfig
}

// LLMConfig selects the OpenAI-compatible endpoint used for suggestions.
type LLMConfig struct {
	Provider   string
	Model      string
	APIKey     string
	BaseURL    string
	MaxRetries int
}

// ReviewConfig holds review workflow defaults.
type ReviewConfig struct {
	DefaultThreshold    float64
	DefaultRefine       bool
	SegmentMinChars     int
	ClassifyConcurrency int
	GatewayTimeout      time.Duration
	MaxUploadBytes      int64
}

// SessionConfig controls in-memory session lifetime and audit retention.
type SessionConfig struct {
	IdleTTL            time.Duration
	CompletedRetention time.Duration
	SweepInterval      time.Duration
	AuditRetention     time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:             getEnv("PORT", "8080"),
		FrontendURL:      getEnv("FRONTEND_URL", ""),
		DBPath:           getEnv("DB_PATH", "./data/review.db"),
		ModelServiceAddr: getEnv("MODEL_SERVICE_ADDR", ""),
		LabelMapPath:     getEnv("LABEL_MAP_PATH", ""),
		PdftotextPath:    getEnv("PDFTOTEXT_PATH", "pdftotext"),
		LLM: LLMConfig{
			Provider:   getEnv("LLM_PROVIDER", "mistral"),
			Model:      getEnv("LLM_MODEL", "mistral-small-latest"),
			APIKey:     getEnv("LLM_API_KEY", ""),
			BaseURL:    getEnv("LLM_BASE_URL", ""),
			MaxRetries: getEnvInt("LLM_MAX_RETRIES", 0),
		},
		Review: ReviewConfig{
			DefaultThreshold:    getEnvFloat("DEFAULT_CONFIDENCE_THRESHOLD", 0.7),
			DefaultRefine:       getEnvBool("DEFAULT_REFINE_SEGMENTATION", false),
			SegmentMinChars:     getEnvInt("SEGMENT_MIN_CHARS", 3),
			ClassifyConcurrency: getEnvInt("CLASSIFY_CONCURRENCY", 4),
			GatewayTimeout:      getEnvDuration("GATEWAY_TIMEOUT", 30*time.Second),
			MaxUploadBytes:      int64(getEnvInt("MAX_UPLOAD_BYTES", 10<<20)),
		},
		Sessions: SessionConfig{
			IdleTTL:            getEnvDuration("SESSION_IDLE_TTL", 2*time.Hour),
			CompletedRetention: getEnvDuration("COMPLETED_RETENTION", 15*time.Minute),
			SweepInterval:      getEnvDuration("SWEEP_INTERVAL", 5*time.Minute),
			AuditRetention:     getEnvDuration("AUDIT_RETENTION", 30*24*time.Hour),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.Review.DefaultThreshold < 0 || c.Review.DefaultThreshold > 1 {
		return fmt.Errorf("DEFAULT_CONFIDENCE_THRESHOLD must be within [0, 1]")
	}
	if c.Review.ClassifyConcurrency <= 0 {
		return fmt.Errorf("CLASSIFY_CONCURRENCY must be > 0")
	}
	if c.Review.SegmentMinChars < 0 {
		return fmt.Errorf("SEGMENT_MIN_CHARS must be >= 0")
	}
	if c.Review.GatewayTimeout <= 0 {
		return fmt.Errorf("GATEWAY_TIMEOUT must be > 0")
	}
	if c.Review.MaxUploadBytes <= 0 {
		return fmt.Errorf("MAX_UPLOAD_BYTES must be > 0")
	}
	if c.Sessions.SweepInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// AllowedOrigins returns the CORS origins derived from FRONTEND_URL.
func (c *Config) AllowedOrigins() []string {
	if c.IsDevelopment() {
		return []string{"*"}
	}
	return []string{strings.TrimRight(c.FrontendURL, "/")}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
