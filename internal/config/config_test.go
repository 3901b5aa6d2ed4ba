package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// chdir switches the working directory for the test and restores it after.
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	if err != nil {
		t.Fatalf("Failed to get working directory: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Failed to chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(old) })
}

func TestLoadConfig_Missing(t *testing.T) {
	dir := t.TempDir()
	// A .git marker stops the upward walk inside the temp dir.
	if err := os.Mkdir(filepath.Join(dir, ".git"), 0o755); err != nil {
		t.Fatalf("Failed to create .git marker: %v", err)
	}
	chdir(t, dir)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.ConfigFilePath != "" {
		t.Errorf("Expected empty config, got path %s", cfg.ConfigFilePath)
	}
}

func TestLoadConfig_WalksUpToConfig(t *testing.T) {
	dir := t.TempDir()
	content := `default_target = "staging"
changelog = "db/changelog.sql"

[targets.staging]
url = "postgres://staging-host/app"
contexts = "staging"
lock_timeout = "10m"

[targets.local]
url = "app.db"
changelog = "db/local.sql"
`
	if err := os.WriteFile(filepath.Join(dir, "railbed.toml"), []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	nested := filepath.Join(dir, "services", "api")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatalf("Failed to create nested dir: %v", err)
	}
	chdir(t, nested)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.DefaultTarget != "staging" {
		t.Errorf("Expected default_target staging, got %s", cfg.DefaultTarget)
	}
	if len(cfg.Targets) != 2 {
		t.Errorf("Expected 2 targets, got %d", len(cfg.Targets))
	}
	if cfg.ConfigDir() != dir {
		t.Errorf("Expected config dir %s, got %s", dir, cfg.ConfigDir())
	}
}

func TestResolveTarget_FromConfig(t *testing.T) {
	cfg := &Config{
		DefaultTarget: "staging",
		Changelog:     "db/changelog.sql",
		Targets: map[string]TargetConfig{
			"staging": {URL: "postgres://staging-host/app", Contexts: "staging", LockTimeout: "10m"},
			"local":   {URL: "app.db", Changelog: "db/local.sql"},
		},
	}

	resolved, err := ResolveTarget(cfg, "")
	if err != nil {
		t.Fatalf("ResolveTarget failed: %v", err)
	}
	if resolved.Name != "staging" {
		t.Errorf("Expected default target staging, got %s", resolved.Name)
	}
	if resolved.URL != "postgres://staging-host/app" {
		t.Errorf("Unexpected URL: %s", resolved.URL)
	}
	if resolved.Changelog != "db/changelog.sql" {
		t.Errorf("Expected top-level changelog fallback, got %s", resolved.Changelog)
	}
	if resolved.LockTimeout != 10*time.Minute {
		t.Errorf("Expected 10m lock timeout, got %s", resolved.LockTimeout)
	}

	local, err := ResolveTarget(cfg, "local")
	if err != nil {
		t.Fatalf("ResolveTarget failed: %v", err)
	}
	if local.Changelog != "db/local.sql" {
		t.Errorf("Per-target changelog must win, got %s", local.Changelog)
	}
}

func TestResolveTarget_DotenvOverridesConfig(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".env.staging"), []byte("DATABASE_URL=postgres://from-dotenv/app\n"), 0o644); err != nil {
		t.Fatalf("Failed to write dotenv: %v", err)
	}

	cfg := &Config{
		ConfigFilePath: filepath.Join(dir, "railbed.toml"),
		Targets: map[string]TargetConfig{
			"staging": {URL: "postgres://from-config/app"},
		},
	}

	resolved, err := ResolveTarget(cfg, "staging")
	if err != nil {
		t.Fatalf("ResolveTarget failed: %v", err)
	}
	if !resolved.FromDotenv {
		t.Error("Expected dotenv to be read")
	}
	if resolved.URL != "postgres://from-dotenv/app" {
		t.Errorf("Dotenv DATABASE_URL must override config, got %s", resolved.URL)
	}
}

func TestResolveTarget_InvalidLockTimeout(t *testing.T) {
	cfg := &Config{
		Targets: map[string]TargetConfig{
			"local": {URL: "app.db", LockTimeout: "not-a-duration"},
		},
	}
	if _, err := ResolveTarget(cfg, "local"); err == nil {
		t.Error("Expected error for invalid lock_timeout")
	}
}
