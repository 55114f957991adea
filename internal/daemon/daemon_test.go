package daemon

import (
	"context"
	"errors"
	"io"
	"log"
	"path/filepath"
	"testing"
	"time"

	"github.com/kindred-care/kindred/internal/entity"
	"github.com/kindred-care/kindred/internal/store"
)

// testConfig returns a daemon config pointed at temp directories with
// a fast sync interval and discarded logging.
func testConfig(t *testing.T) *Config {
	t.Helper()

	cfg := DefaultConfig()
	cfg.DatabasePath = filepath.Join(t.TempDir(), "kindred.db")
	cfg.SpoolDir = filepath.Join(t.TempDir(), "spool")
	cfg.SyncInterval = 50 * time.Millisecond
	cfg.Logger = log.New(io.Discard, "", 0)
	return cfg
}

// TestNewValidation verifies required configuration is enforced.
func TestNewValidation(t *testing.T) {
	t.Run("missing database path", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.DatabasePath = ""
		if _, err := New(cfg); err == nil {
			t.Error("New() accepted empty database path")
		}
	})

	t.Run("missing spool dir", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.SpoolDir = ""
		if _, err := New(cfg); err == nil {
			t.Error("New() accepted empty spool directory")
		}
	})

	t.Run("defaults filled in", func(t *testing.T) {
		cfg := &Config{
			DatabasePath: filepath.Join(t.TempDir(), "kindred.db"),
			SpoolDir:     t.TempDir(),
		}
		d, err := New(cfg)
		if err != nil {
			t.Fatalf("New() failed: %v", err)
		}
		if d.config.SyncInterval != time.Minute {
			t.Errorf("SyncInterval = %v, want %v", d.config.SyncInterval, time.Minute)
		}
		if d.config.MaxAttempts != 5 {
			t.Errorf("MaxAttempts = %d, want 5", d.config.MaxAttempts)
		}
		if d.config.Clock == nil || d.config.Logger == nil || d.config.Gateway == nil {
			t.Error("New() left nil dependencies after defaulting")
		}
	})
}

// TestDaemonLifecycle verifies the daemon starts, picks up a spooled
// remote change, persists it, and shuts down cleanly.
func TestDaemonLifecycle(t *testing.T) {
	cfg := testConfig(t)

	d, err := New(cfg)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- d.Start(ctx)
	}()

	// Wait for the components to come up.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if d.Engine() != nil && d.Store() != nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if d.Engine() == nil {
		t.Fatal("daemon did not finish startup")
	}

	// Seed the parent account so the profile's foreign key holds.
	account := &entity.Account{
		ID:         "acct-1",
		FamilyName: "Rivera",
		OwnerEmail: "ana@example.com",
	}
	account.SetDefaults()
	if err := d.Store().UpsertAccount(account); err != nil {
		t.Fatalf("UpsertAccount() failed: %v", err)
	}

	profile := &entity.Profile{
		ID:          "prof-spool",
		AccountID:   "acct-1",
		Name:        "Grandma Rose",
		PhoneNumber: "+15551234567",
		UpdatedAt:   time.Now().UTC(),
	}
	profile.SetDefaults()
	if err := entity.WriteEnvelopeFile(cfg.SpoolDir, profile); err != nil {
		t.Fatalf("WriteEnvelopeFile() failed: %v", err)
	}

	// The watcher stages the envelope and the next periodic cycle
	// persists it.
	var got *entity.Profile
	for time.Now().Before(deadline) {
		got, err = d.Store().GetProfile(context.Background(), "prof-spool")
		if err == nil {
			break
		}
		if !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("GetProfile() failed: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}
	if got == nil {
		t.Fatal("spooled profile was never persisted")
	}
	if got.Name != "Grandma Rose" {
		t.Errorf("persisted name = %q, want %q", got.Name, "Grandma Rose")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start() returned error on shutdown: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not shut down")
	}
}
