// Package daemon wires the Kindred sync components together.
//
// The daemon:
// 1. Opens the local database and initializes the schema
// 2. Runs the sync engine with its periodic timer
// 3. Watches the spool directory for remote changes
// 4. Runs the consent state machine against inbound message events
// 5. Optionally serves the WebSocket dashboard
// 6. Handles graceful shutdown
package daemon

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/kindred-care/kindred/internal/broadcast"
	"github.com/kindred-care/kindred/internal/clock"
	"github.com/kindred-care/kindred/internal/consent"
	"github.com/kindred-care/kindred/internal/dashboard"
	"github.com/kindred-care/kindred/internal/engine"
	"github.com/kindred-care/kindred/internal/entity"
	"github.com/kindred-care/kindred/internal/remote"
	"github.com/kindred-care/kindred/internal/store"
)

// Config holds configuration for the daemon.
type Config struct {
	// DatabasePath is the path to the local sqlite database
	DatabasePath string

	// SpoolDir is the directory watched for remote change envelopes
	SpoolDir string

	// SyncInterval is how often the engine flushes staged changes
	SyncInterval time.Duration

	// MaxAttempts is the retry ceiling for transient persistence failures
	MaxAttempts int

	// DashboardPort enables the WebSocket dashboard when non-zero
	DashboardPort int

	// Gateway delivers outbound consent request messages
	Gateway consent.MessageGateway

	// Clock abstracts time for tests
	Clock clock.Clock

	// Logger for daemon activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		SyncInterval: time.Minute,
		MaxAttempts:  5,
		Clock:        clock.New(),
		Logger:       log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Daemon orchestrates the store, sync engine, consent machine,
// spool watcher, and dashboard.
type Daemon struct {
	config *Config

	store   *store.Store
	hub     *broadcast.Hub
	engine  *engine.Engine
	machine *consent.Machine
	watcher *remote.Watcher
	dash    *dashboard.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a daemon from configuration.
//
// Use Start() to open the database and begin syncing.
func New(config *Config) (*Daemon, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.DatabasePath == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}
	if config.SpoolDir == "" {
		return nil, fmt.Errorf("spool directory cannot be empty")
	}
	if config.SyncInterval <= 0 {
		config.SyncInterval = time.Minute
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 5
	}
	if config.Clock == nil {
		config.Clock = clock.New()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[daemon] ", log.LstdFlags)
	}
	if config.Gateway == nil {
		config.Gateway = consent.NewLoggingGateway(config.Logger)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		config: config,
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Start opens the database, wires the components, and begins syncing.
//
// This blocks until ctx is cancelled or startup fails.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting daemon")

	st, err := store.Open(d.config.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	d.store = st

	if err := st.InitSchemaContext(ctx); err != nil {
		st.Close()
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	d.hub = broadcast.New(d.config.Logger)

	engineCfg := engine.DefaultConfig()
	engineCfg.Interval = d.config.SyncInterval
	engineCfg.MaxAttempts = d.config.MaxAttempts
	engineCfg.Clock = d.config.Clock
	engineCfg.Logger = d.config.Logger
	d.engine = engine.New(st, d.hub, engineCfg)

	consentCfg := consent.DefaultConfig()
	consentCfg.Clock = d.config.Clock
	consentCfg.Logger = d.config.Logger
	d.machine = consent.New(st, d.config.Gateway, d.hub, consentCfg)

	watcher, err := remote.NewWatcher(d.config.SpoolDir, d.stageRemote, &remote.Config{
		Logger: d.config.Logger,
	})
	if err != nil {
		st.Close()
		return fmt.Errorf("failed to create spool watcher: %w", err)
	}
	d.watcher = watcher

	d.wg.Add(2)
	go func() {
		defer d.wg.Done()
		d.engine.Run(d.ctx)
	}()
	go func() {
		defer d.wg.Done()
		d.machine.Run(d.ctx)
	}()

	if err := d.watcher.Start(d.ctx); err != nil {
		d.cancel()
		d.wg.Wait()
		st.Close()
		return fmt.Errorf("failed to start spool watcher: %w", err)
	}

	if d.config.DashboardPort > 0 {
		if err := d.startDashboard(); err != nil {
			d.config.Logger.Printf("Warning: dashboard disabled: %v", err)
		}
	}

	d.config.Logger.Printf("Daemon running (db=%s spool=%s)", d.config.DatabasePath, d.config.SpoolDir)

	// Wait for shutdown
	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// startDashboard brings up the WebSocket server and the hub bridge.
func (d *Daemon) startDashboard() error {
	d.dash = dashboard.NewServer(&dashboard.Config{
		Port:     d.config.DashboardPort,
		Snapshot: d.snapshot,
		Logger:   d.config.Logger,
	})
	if err := d.dash.Start(); err != nil {
		d.dash = nil
		return err
	}

	handler := dashboard.NewHandler(d.dash, d.hub, d.config.Logger)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		handler.Run(d.ctx)
	}()

	d.config.Logger.Printf("Dashboard listening on %s", d.dash.Addr())
	return nil
}

// Stop gracefully shuts down the daemon.
//
// Staged changes are flushed before the engine stops so a quick
// restart does not lose buffered edits.
func (d *Daemon) Stop() error {
	d.config.Logger.Println("Stopping daemon")

	// Flush whatever is still buffered before tearing down
	flushCtx, flushCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := d.engine.SyncOnce(flushCtx); err != nil {
		d.config.Logger.Printf("Warning: final flush failed: %v", err)
	}
	flushCancel()

	d.cancel()

	if err := d.watcher.Stop(); err != nil {
		d.config.Logger.Printf("Error stopping spool watcher: %v", err)
	}
	if d.dash != nil {
		if err := d.dash.Stop(); err != nil {
			d.config.Logger.Printf("Error stopping dashboard: %v", err)
		}
	}

	d.wg.Wait()

	if err := d.store.Close(); err != nil {
		d.config.Logger.Printf("Error closing store: %v", err)
	}

	d.config.Logger.Println("Daemon stopped")
	return nil
}

// Engine exposes the sync engine for triggering and inspection.
func (d *Daemon) Engine() *engine.Engine {
	return d.engine
}

// Consent exposes the consent state machine.
func (d *Daemon) Consent() *consent.Machine {
	return d.machine
}

// Store exposes the underlying store.
func (d *Daemon) Store() *store.Store {
	return d.store
}

// NotifyForeground requests an immediate sync cycle, e.g. when the
// app returns to the foreground on a device.
func (d *Daemon) NotifyForeground() {
	d.config.Logger.Println("Foreground notification, requesting sync")
	d.engine.StartSync()
}

// NotifyBackground forces a flush of staged changes before the app
// is suspended.
func (d *Daemon) NotifyBackground() {
	d.config.Logger.Println("Background notification, forcing sync")
	d.engine.ForceSync()
}

// stageRemote feeds envelopes from the spool into the sync engine.
func (d *Daemon) stageRemote(ent entity.Entity) {
	d.engine.Stage(ent)
}

// snapshot assembles the dashboard /status payload.
func (d *Daemon) snapshot(ctx context.Context) (*dashboard.StatsData, error) {
	stats, err := d.store.GetStats(ctx)
	if err != nil {
		return nil, err
	}

	byConsent := make(map[string]int, len(stats.ByConsentState))
	for state, n := range stats.ByConsentState {
		byConsent[string(state)] = n
	}

	return &dashboard.StatsData{
		Profiles:     stats.Profiles,
		Tasks:        stats.Tasks,
		Messages:     stats.Messages,
		ByConsent:    byConsent,
		Pending:      d.engine.PendingCount(),
		LastSyncedAt: stats.LastSyncedAt,
	}, nil
}
