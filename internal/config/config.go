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
	Port             string
	FrontendURL      string
	DBPath           string
	JWTSecret        string
	JWTTTL           time.Duration
	GoogleAIKey      string
	PreferredModel   string // Operator-preferred Gemini model, consulted before fallbacks.
	WorkspaceTTL     time.Duration
	WorkspaceImage   string
	ContainerRuntime string // Docker runtime: "" = default (runc), "runsc" = gVisor
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:             getEnv("PORT", "8080"),
		FrontendURL:      getEnv("FRONTEND_URL", ""),
		DBPath:           getEnv("DB_PATH", "./data/codehive.db"),
		JWTSecret:        getEnv("JWT_SECRET", ""),
		JWTTTL:           getEnvDuration("JWT_TTL", 24*time.Hour),
		GoogleAIKey:      getEnv("GOOGLE_AI_KEY", ""),
		PreferredModel:   getEnv("GEMINI_MODEL", ""),
		WorkspaceTTL:     getEnvDuration("WORKSPACE_TTL", 60*time.Minute),
		WorkspaceImage:   getEnv("WORKSPACE_IMAGE", "node:20-alpine"),
		ContainerRuntime: getEnv("CONTAINER_RUNTIME", ""),
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
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET must be set")
	}
	if c.JWTTTL <= 0 {
		return fmt.Errorf("JWT_TTL must be > 0")
	}
	if c.WorkspaceTTL <= 0 {
		return fmt.Errorf("WORKSPACE_TTL must be > 0")
	}
	if c.WorkspaceImage == "" {
		return fmt.Errorf("WORKSPACE_IMAGE cannot be empty")
	}
	return nil
}

// AIEnabled returns true if AI generation is configured.
func (c *Config) AIEnabled() bool {
	return c.GoogleAIKey != ""
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	// Bare integers are taken as minutes.
	if n, err := strconv.Atoi(value); err == nil && n > 0 {
		return time.Duration(n) * time.Minute
	}
	return fallback
}
