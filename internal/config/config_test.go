package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("Expected default port 8080, got %s", cfg.Port)
	}
	if cfg.ClaudeBin != "claude" || cfg.CodexBin != "codex" {
		t.Errorf("Expected default binaries, got %s/%s", cfg.ClaudeBin, cfg.CodexBin)
	}
	if cfg.HubOutboxSize != 256 {
		t.Errorf("Expected default outbox size 256, got %d", cfg.HubOutboxSize)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("DB_PATH", "/tmp/custom.db")
	t.Setenv("HUB_OUTBOX_SIZE", "64")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != "9090" || cfg.DBPath != "/tmp/custom.db" || cfg.HubOutboxSize != 64 {
		t.Errorf("Expected environment overrides applied, got %+v", cfg)
	}
}

func TestLoadInvalidIntFallsBack(t *testing.T) {
	t.Setenv("HUB_OUTBOX_SIZE", "not-a-number")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.HubOutboxSize != 256 {
		t.Errorf("Expected fallback for bad int, got %d", cfg.HubOutboxSize)
	}
}

func TestValidateRejectsEmptyFields(t *testing.T) {
	cfg := &Config{Port: "", DBPath: "x", WorkspaceDir: "y", HubOutboxSize: 1}
	if err := cfg.Validate(); err == nil {
		t.Error("Expected error for empty port")
	}
	cfg = &Config{Port: "8080", DBPath: "", WorkspaceDir: "y", HubOutboxSize: 1}
	if err := cfg.Validate(); err == nil {
		t.Error("Expected error for empty db path")
	}
}

func TestIsDevelopment(t *testing.T) {
	cfg := &Config{FrontendURL: "http://localhost:5173"}
	if !cfg.IsDevelopment() {
		t.Error("Expected localhost frontend to be development")
	}
	cfg = &Config{FrontendURL: "https://board.example.com"}
	if cfg.IsDevelopment() {
		t.Error("Expected production frontend to not be development")
	}
}
