package config

import (
	"os"
	"testing"
	"time"
)

func clearConfigEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PORT", "FRONTEND_URL", "DB_PATH", "JWT_SECRET", "JWT_TTL",
		"GOOGLE_AI_KEY", "GEMINI_MODEL", "WORKSPACE_TTL", "WORKSPACE_IMAGE",
		"CONTAINER_RUNTIME",
	} {
		// t.Setenv registers the restore; the variable must then be fully
		// unset because getEnv treats present-but-empty as a value.
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("JWT_SECRET", "test-secret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("Expected default port 8080, got %q", cfg.Port)
	}
	if cfg.JWTTTL != 24*time.Hour {
		t.Errorf("Expected default JWT TTL 24h, got %v", cfg.JWTTTL)
	}
	if cfg.WorkspaceTTL != 60*time.Minute {
		t.Errorf("Expected default workspace TTL 60m, got %v", cfg.WorkspaceTTL)
	}
	if cfg.WorkspaceImage != "node:20-alpine" {
		t.Errorf("Expected default workspace image, got %q", cfg.WorkspaceImage)
	}
	if cfg.AIEnabled() {
		t.Error("Expected AI disabled without an API key")
	}
}

func TestLoadRequiresJWTSecret(t *testing.T) {
	clearConfigEnv(t)

	if _, err := Load(); err == nil {
		t.Fatal("Expected Load to fail without JWT_SECRET")
	}
}

func TestGetEnvDuration(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  time.Duration
	}{
		{"go duration", "90s", 90 * time.Second},
		{"bare integer is minutes", "15", 15 * time.Minute},
		{"garbage falls back", "soon", time.Hour},
		{"empty falls back", "", time.Hour},
		{"negative falls back", "-5m", time.Hour},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_DURATION", tt.value)
			if got := getEnvDuration("TEST_DURATION", time.Hour); got != tt.want {
				t.Errorf("getEnvDuration(%q) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}

func TestIsDevelopment(t *testing.T) {
	tests := []struct {
		frontendURL string
		want        bool
	}{
		{"", true},
		{"http://localhost:5173", true},
		{"http://127.0.0.1:3000", true},
		{"https://app.example.com", false},
	}

	for _, tt := range tests {
		cfg := &Config{FrontendURL: tt.frontendURL}
		if got := cfg.IsDevelopment(); got != tt.want {
			t.Errorf("IsDevelopment(%q) = %v, want %v", tt.frontendURL, got, tt.want)
		}
	}
}
