package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TestLoadDefaults verifies defaults apply when no config file exists.
func TestLoadDefaults(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("KINDRED_CONFIG", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	wantDB := filepath.Join(home, ".local", "share", "kindred", "kindred.db")
	if cfg.Database.Path != wantDB {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, wantDB)
	}
	if cfg.Sync.Interval != time.Minute {
		t.Errorf("Sync.Interval = %v, want %v", cfg.Sync.Interval, time.Minute)
	}
	if cfg.Sync.MaxAttempts != 5 {
		t.Errorf("Sync.MaxAttempts = %d, want 5", cfg.Sync.MaxAttempts)
	}
	if cfg.Dashboard.Enabled {
		t.Error("Dashboard.Enabled = true, want false")
	}
	if cfg.Dashboard.Port != 8420 {
		t.Errorf("Dashboard.Port = %d, want 8420", cfg.Dashboard.Port)
	}
	if cfg.Log.MaxSizeMB != 10 || cfg.Log.MaxBackups != 3 {
		t.Errorf("Log rotation = %d/%d, want 10/3", cfg.Log.MaxSizeMB, cfg.Log.MaxBackups)
	}
}

// TestLoadFromFile verifies an explicit config file overrides defaults.
func TestLoadFromFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	path := filepath.Join(t.TempDir(), "config.toml")
	contents := `
[database]
path = "/var/lib/kindred/kindred.db"

[sync]
interval = "30s"
max_attempts = 9

[dashboard]
enabled = true
port = 9000
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}
	t.Setenv("KINDRED_CONFIG", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Database.Path != "/var/lib/kindred/kindred.db" {
		t.Errorf("Database.Path = %q, want /var/lib/kindred/kindred.db", cfg.Database.Path)
	}
	if cfg.Sync.Interval != 30*time.Second {
		t.Errorf("Sync.Interval = %v, want 30s", cfg.Sync.Interval)
	}
	if cfg.Sync.MaxAttempts != 9 {
		t.Errorf("Sync.MaxAttempts = %d, want 9", cfg.Sync.MaxAttempts)
	}
	if !cfg.Dashboard.Enabled || cfg.Dashboard.Port != 9000 {
		t.Errorf("Dashboard = %+v, want enabled on port 9000", cfg.Dashboard)
	}
}

// TestLoadEnvOverride verifies KINDRED_ env vars override file values.
func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("KINDRED_CONFIG", "")
	t.Setenv("KINDRED_DATABASE_PATH", "/tmp/env-override.db")
	t.Setenv("KINDRED_DASHBOARD_PORT", "7777")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Database.Path != "/tmp/env-override.db" {
		t.Errorf("Database.Path = %q, want /tmp/env-override.db", cfg.Database.Path)
	}
	if cfg.Dashboard.Port != 7777 {
		t.Errorf("Dashboard.Port = %d, want 7777", cfg.Dashboard.Port)
	}
}
