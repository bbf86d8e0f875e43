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
	Env            string // "development" or "production"
	Port           string
	DBPath         string
	CronSecret     string
	AllowedOrigins []string
	OnboardingDays int
	Model          ModelConfig
	RateLimit      RateLimitConfig
	DB             DBConfig
	Timeout        TimeoutConfig
}

// ModelConfig selects and tunes the language-model provider.
type ModelConfig struct {
	Provider   string // "openai", "grpc" or "scripted"
	Name       string
	BaseURL    string
	APIKey     string
	GRPCAddr   string
	Timeout    time.Duration
	RateLimit  float64 // requests per second
	MaxRetries int
}

// RateLimitConfig bounds conversational requests per employee.
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

// DBConfig tunes SQLite busy retries.
type DBConfig struct {
	MaxRetries     int
	RetryBaseDelay time.Duration
}

// TimeoutConfig holds HTTP server timeouts.
type TimeoutConfig struct {
	HealthCheck time.Duration
	Shutdown    time.Duration
	Read        time.Duration
	Idle        time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Env:            strings.ToLower(getEnv("APP_ENV", EnvDevelopment)),
		Port:           getEnv("PORT", "8080"),
		DBPath:         getEnv("DB_PATH", "./data/dotcheck.db"),
		CronSecret:     getEnv("CRON_SECRET", ""),
		AllowedOrigins: getEnvList("ALLOWED_ORIGINS", []string{"*"}),
		OnboardingDays: getEnvInt("ONBOARDING_DAYS", 14),
		Model: ModelConfig{
			Provider:   strings.ToLower(getEnv("MODEL_PROVIDER", "scripted")),
			Name:       getEnv("MODEL_NAME", "gpt-4o-mini"),
			BaseURL:    getEnv("MODEL_BASE_URL", "https://api.openai.com"),
			APIKey:     getEnv("MODEL_API_KEY", ""),
			GRPCAddr:   getEnv("MODEL_GRPC_ADDR", ""),
			Timeout:    getEnvDuration("MODEL_TIMEOUT", 30*time.Second),
			RateLimit:  getEnvFloat("MODEL_RATE_LIMIT", 2),
			MaxRetries: getEnvInt("MODEL_MAX_RETRIES", 2),
		},
		RateLimit: RateLimitConfig{
			Requests: getEnvInt("RATE_LIMIT_REQUESTS", 20),
			Window:   getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		DB: DBConfig{
			MaxRetries:     getEnvInt("DB_MAX_RETRIES", 5),
			RetryBaseDelay: getEnvDuration("DB_RETRY_BASE_DELAY", 20*time.Millisecond),
		},
		Timeout: TimeoutConfig{
			HealthCheck: 5 * time.Second,
			Shutdown:    10 * time.Second,
			Read:        30 * time.Second,
			Idle:        120 * time.Second,
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Deployment environments.
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "" || c.Env == EnvDevelopment
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	switch c.Env {
	case "", EnvDevelopment, EnvProduction:
	default:
		return fmt.Errorf("APP_ENV %q is not supported", c.Env)
	}
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.OnboardingDays < 0 {
		return fmt.Errorf("ONBOARDING_DAYS must be >= 0")
	}
	switch c.Model.Provider {
	case "scripted":
		if !c.IsDevelopment() {
			return fmt.Errorf("MODEL_PROVIDER scripted is only allowed when APP_ENV=%s", EnvDevelopment)
		}
	case "openai":
		if c.Model.APIKey == "" {
			return fmt.Errorf("MODEL_API_KEY is required for the openai provider")
		}
	case "grpc":
		if c.Model.GRPCAddr == "" {
			return fmt.Errorf("MODEL_GRPC_ADDR is required for the grpc provider")
		}
	default:
		return fmt.Errorf("MODEL_PROVIDER %q is not supported", c.Model.Provider)
	}
	if c.Model.Timeout <= 0 {
		return fmt.Errorf("MODEL_TIMEOUT must be > 0")
	}
	if c.Model.RateLimit <= 0 {
		return fmt.Errorf("MODEL_RATE_LIMIT must be > 0")
	}
	if c.RateLimit.Requests <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must be > 0")
	}
	if c.RateLimit.Window <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be > 0")
	}
	if c.DB.MaxRetries < 0 {
		return fmt.Errorf("DB_MAX_RETRIES must be >= 0")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
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

func getEnvList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
