package config

import (
	"fmt"
	"os"
	"time"

	"github.com/persona-ai/persona/pkg/models"
	"gopkg.in/yaml.v3"
)

// Config holds all service configuration.
type Config struct {
	Listen     string             `yaml:"listen"`
	DBPath     string             `yaml:"db_path"`
	UsersPath  string             `yaml:"users_db_path"`
	Gemini     GeminiConfig       `yaml:"gemini"`
	Cache      CacheConfig        `yaml:"cache"`
	RateLimit  RateLimitConfig    `yaml:"rate_limit"`
	Validation ValidationConfig   `yaml:"validation"`
	Admin      AdminConfig        `yaml:"admin"`
	CORS       CORSConfig         `yaml:"cors"`
	Audit      models.AuditConfig `yaml:"audit"`
}

// GeminiConfig points at the upstream model endpoint. The API key is part
// of the URL, provider convention; use ${GEMINI_API_KEY} in the file.
type GeminiConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// CacheConfig controls the approximate-match response cache.
type CacheConfig struct {
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	RetentionDays       int     `yaml:"retention_days"`
	MaxEntries          int     `yaml:"max_entries"`
}

// RateLimitConfig controls per-caller request limits. MaxPerHour and Window
// bound the sliding window; BurstRPS and Burst bound short spikes.
type RateLimitConfig struct {
	MaxPerHour int           `yaml:"max_per_hour"`
	Window     time.Duration `yaml:"window"`
	BurstRPS   float64       `yaml:"burst_rps"`
	Burst      int           `yaml:"burst"`
}

// ValidationConfig bounds accepted input text length.
type ValidationConfig struct {
	MinLength int `yaml:"min_length"`
	MaxLength int `yaml:"max_length"`
}

// AdminConfig holds admin panel credentials and session lifetime.
type AdminConfig struct {
	Username            string `yaml:"username"`
	Password            string `yaml:"password"`
	SessionTimeoutHours int    `yaml:"session_timeout_hours"`
}

// CORSConfig lists origins allowed to call the public endpoints.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Listen:    ":8080",
		DBPath:    "persona.db",
		UsersPath: "persona_users.db",
		Gemini: GeminiConfig{
			Timeout: 30 * time.Second,
		},
		Cache: CacheConfig{
			SimilarityThreshold: 0.90,
			RetentionDays:       30,
			MaxEntries:          10000,
		},
		RateLimit: RateLimitConfig{
			MaxPerHour: 10,
			Window:     time.Hour,
			BurstRPS:   2,
			Burst:      5,
		},
		Validation: ValidationConfig{
			MinLength: 10,
			MaxLength: 10000,
		},
		Admin: AdminConfig{
			Username:            "admin",
			SessionTimeoutHours: 24,
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"*"},
		},
		Audit: models.AuditConfig{
			Enabled:       false,
			DBPath:        "persona_audit.db",
			RetentionDays: 90,
			MaxBodySize:   4096,
		},
	}
}

// Load reads a YAML config file and expands environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	if c.Cache.SimilarityThreshold < 0 || c.Cache.SimilarityThreshold > 1 {
		return fmt.Errorf("similarity_threshold must be between 0 and 1, got %g", c.Cache.SimilarityThreshold)
	}
	if c.Validation.MinLength > c.Validation.MaxLength {
		return fmt.Errorf("validation min_length %d exceeds max_length %d", c.Validation.MinLength, c.Validation.MaxLength)
	}
	return nil
}
