// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds all application configuration.
type Config struct {
	Port         string
	FrontendURL  string
	DBPath       string
	ClaudeBin    string
	CodexBin     string
	WorkspaceDir string
	// HubOutboxSize is the per-client buffered message count before a slow
	// UI client starts dropping events.
	HubOutboxSize int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:          getEnv("PORT", "8080"),
		FrontendURL:   getEnv("FRONTEND_URL", ""),
		DBPath:        getEnv("DB_PATH", "./data/agentboard.db"),
		ClaudeBin:     getEnv("CLAUDE_BIN", "claude"),
		CodexBin:      getEnv("CODEX_BIN", "codex"),
		WorkspaceDir:  getEnv("WORKSPACE_DIR", "."),
		HubOutboxSize: getEnvInt("HUB_OUTBOX_SIZE", 256),
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
	if c.WorkspaceDir == "" {
		return fmt.Errorf("WORKSPACE_DIR cannot be empty")
	}
	if c.HubOutboxSize <= 0 {
		return fmt.Errorf("HUB_OUTBOX_SIZE must be > 0")
	}
	return nil
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
