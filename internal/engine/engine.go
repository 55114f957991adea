// Package engine implements the multi-device sync engine: staged
// mutations are drained from a change buffer in ordered phases, conflicts
// against stored copies are resolved, and confirmed changes are published
// to the broadcast hub.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/kindred-care/kindred/internal/broadcast"
	"github.com/kindred-care/kindred/internal/clock"
	"github.com/kindred-care/kindred/internal/entity"
	"github.com/kindred-care/kindred/internal/store"
)

// Status describes the sync engine's lifecycle state.
type Status int

const (
	// StatusIdle means no cycle has run yet or the engine is between cycles.
	StatusIdle Status = iota
	// StatusSyncing means a cycle is in flight.
	StatusSyncing
	// StatusCompleted means the last cycle persisted every staged entity.
	StatusCompleted
	// StatusFailed means the last cycle left at least one entity pending
	// with an error.
	StatusFailed
)

// String returns a human-readable representation of the status.
func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusSyncing:
		return "syncing"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ErrSyncInProgress is returned by SyncOnce when a cycle is already
// running. Callers wanting a follow-up cycle should use ForceSync,
// which defers until the current cycle reaches idle.
var ErrSyncInProgress = errors.New("sync already in progress")

// phaseOrder is the strict per-cycle phase sequence. Later phases depend
// on invariants settled by earlier ones: account limits before profile
// writes, profiles before the tasks that reference them, tasks before
// the responses that reference tasks. Timeline events are derived state
// and settle last.
var phaseOrder = []entity.Kind{
	entity.KindAccount,
	entity.KindProfile,
	entity.KindTask,
	entity.KindMessage,
	entity.KindTimelineEvent,
}

// EntityStore is the persistence surface the engine requires.
// *store.Store implements it.
type EntityStore interface {
	// UpsertEntity durably persists one entity.
	UpsertEntity(ctx context.Context, ent entity.Entity) error

	// GetEntity fetches the stored copy for conflict resolution.
	// Returns store.ErrNotFound when nothing is persisted yet.
	GetEntity(ctx context.Context, kind entity.Kind, id string) (entity.Entity, error)

	// SetLastSyncedAt records the completion time of a successful cycle.
	SetLastSyncedAt(ctx context.Context, t time.Time) error
}

// Config holds engine configuration.
type Config struct {
	// Interval is the periodic sync interval (default: one minute).
	Interval time.Duration

	// MaxAttempts bounds retries for a failing staged entity. Past the
	// ceiling the entity stays pending with its diagnostic but is
	// skipped by later cycles until a fresh stage for the same ID
	// resets it (default: 5).
	MaxAttempts int

	// Clock drives scheduling; a fake clock makes cycles deterministic
	// in tests (default: system clock).
	Clock clock.Clock

	// Logger for engine activity (default: stderr logger).
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Interval:    time.Minute,
		MaxAttempts: 5,
		Clock:       clock.New(),
		Logger:      log.New(os.Stderr, "[engine] ", log.LstdFlags),
	}
}

// Engine orchestrates staged mutations through ordered batch-persist
// phases with per-entity failure isolation.
//
// All sync work runs inside Run's goroutine (or a direct SyncOnce call);
// Stage, StartSync, and ForceSync never block on persistence I/O.
// Results reach consumers only via the broadcast hub.
type Engine struct {
	store  EntityStore
	hub    *broadcast.Hub
	buffer *ChangeBuffer
	clock  clock.Clock
	logger *log.Logger

	interval    time.Duration
	maxAttempts int

	mu       sync.Mutex
	status   Status
	lastErr  error
	deferred bool // force-sync requested while a cycle was in flight

	trigger chan struct{}
}

// New creates a sync engine. The store and hub are required; config may
// be nil for defaults.
func New(st EntityStore, hub *broadcast.Hub, config *Config) *Engine {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Interval <= 0 {
		config.Interval = time.Minute
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 5
	}
	if config.Clock == nil {
		config.Clock = clock.New()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[engine] ", log.LstdFlags)
	}

	return &Engine{
		store:       st,
		hub:         hub,
		buffer:      NewChangeBuffer(),
		clock:       config.Clock,
		logger:      config.Logger,
		interval:    config.Interval,
		maxAttempts: config.MaxAttempts,
		trigger:     make(chan struct{}, 1),
	}
}

// Stage buffers a local or remote mutation for the next cycle.
// Staging the same ID twice before a drain coalesces to the latest value.
func (e *Engine) Stage(ent entity.Entity) {
	e.buffer.Stage(ent)
}

// Status returns the engine's current lifecycle state.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// LastError returns the error recorded by the most recent failed cycle,
// or nil.
func (e *Engine) LastError() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr
}

// PendingCount returns the number of staged mutations awaiting
// persistence.
func (e *Engine) PendingCount() int {
	return e.buffer.PendingCount()
}

// PendingDiagnostics returns per-entity diagnostics for staged entries
// that have failed at least once.
func (e *Engine) PendingDiagnostics() map[string]string {
	return e.buffer.PendingDiagnostics()
}

// StartSync requests a sync cycle. Ignored while a cycle is already in
// flight. Never blocks.
func (e *Engine) StartSync() {
	e.requestSync(false)
}

// ForceSync requests a sync cycle, deferring (not preempting) if one is
// already in flight: the forced cycle runs once the current cycle
// returns to idle. Multiple force requests during one cycle coalesce
// into a single deferred run. Never blocks.
func (e *Engine) ForceSync() {
	e.requestSync(true)
}

func (e *Engine) requestSync(force bool) {
	e.mu.Lock()
	if e.status == StatusSyncing {
		if force {
			e.deferred = true
		}
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()

	select {
	case e.trigger <- struct{}{}:
	default:
		// A trigger is already pending; the cycles coalesce.
	}
}

// Run executes the periodic sync loop until ctx is cancelled.
//
// Cycles are triggered by the periodic timer and by StartSync/ForceSync.
// After each cycle the timer is reset, so an event-triggered sync
// reschedules the next periodic one.
func (e *Engine) Run(ctx context.Context) {
	ticker := e.clock.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.Chan():
			e.runAndSettle(ctx)
			ticker.Reset(e.interval)

		case <-e.trigger:
			e.runAndSettle(ctx)
			ticker.Reset(e.interval)
		}
	}
}

// runAndSettle runs one cycle plus any force-sync deferred during it.
func (e *Engine) runAndSettle(ctx context.Context) {
	if err := e.SyncOnce(ctx); err != nil && !errors.Is(err, ErrSyncInProgress) {
		e.logger.Printf("Sync cycle error: %v", err)
	}

	e.mu.Lock()
	deferred := e.deferred
	e.deferred = false
	e.mu.Unlock()

	if deferred {
		if err := e.SyncOnce(ctx); err != nil && !errors.Is(err, ErrSyncInProgress) {
			e.logger.Printf("Deferred sync cycle error: %v", err)
		}
	}
}

// SyncOnce runs one full sync cycle synchronously: four ordered phases
// (accounts, profiles, tasks, responses) plus derived timeline events.
// Within a phase each staged entity is persisted independently; one
// failure never blocks siblings or the phase.
//
// Returns ErrSyncInProgress if a cycle is already running.
func (e *Engine) SyncOnce(ctx context.Context) error {
	e.mu.Lock()
	if e.status == StatusSyncing {
		e.mu.Unlock()
		return ErrSyncInProgress
	}
	e.status = StatusSyncing
	e.mu.Unlock()

	e.publishStatus(StatusSyncing, nil)

	start := time.Now()
	var processed, failed, skipped int
	var cycleErr error

	for _, kind := range phaseOrder {
		entries := e.buffer.DrainSnapshot(kind)
		for _, st := range entries {
			if st.Attempts >= e.maxAttempts {
				// Past the retry ceiling: keep the entity pending with
				// its diagnostic but stop burning attempts on it. A
				// fresh stage of the same ID resets the count.
				skipped++
				e.buffer.Restage(st)
				continue
			}
			processed++
			if err := e.persistStaged(ctx, st); err != nil {
				failed++
				cycleErr = err
			}
		}
	}

	var final Status
	if cycleErr == nil {
		final = StatusCompleted
		if err := e.store.SetLastSyncedAt(ctx, e.clock.Now()); err != nil {
			e.logger.Printf("Warning: failed to persist sync timestamp: %v", err)
		}
	} else {
		final = StatusFailed
	}

	e.mu.Lock()
	e.status = final
	e.lastErr = cycleErr
	e.mu.Unlock()

	e.publishStatus(final, cycleErr)

	e.logger.Printf("Sync cycle %s in %v: processed=%d failed=%d skipped=%d pending=%d",
		final, time.Since(start).Round(time.Millisecond), processed, failed, skipped, e.buffer.PendingCount())

	// Back to idle: the engine accepts the next trigger.
	e.mu.Lock()
	e.status = StatusIdle
	e.mu.Unlock()

	return cycleErr
}

// persistStaged persists one staged entity: validate, resolve against
// the stored copy, upsert the winner, publish, and drop from the buffer.
// On failure the entity stays staged with a diagnostic; the retry
// ceiling only caps further attempts, never evicts it.
func (e *Engine) persistStaged(ctx context.Context, st *Staged) error {
	ent := st.Entity

	if err := entity.Validate(ent); err != nil {
		verr := &ValidationError{Kind: ent.EntityKind(), ID: ent.EntityID(), Err: err}
		e.recordFailure(st, verr)
		return verr
	}

	winner, err := e.resolveAgainstStored(ctx, ent)
	if err != nil {
		e.recordFailure(st, err)
		return err
	}

	if err := e.store.UpsertEntity(ctx, winner); err != nil {
		err = fmt.Errorf("failed to persist %s %s: %w", ent.EntityKind(), ent.EntityID(), err)
		e.recordFailure(st, err)
		return err
	}

	e.hub.Publish(broadcast.Event{
		Topic:  broadcast.TopicForKind(winner.EntityKind()),
		Entity: winner,
	})
	return nil
}

// resolveAgainstStored fetches the stored copy (which may contain a
// remote write that raced the staged one) and resolves the conflict.
func (e *Engine) resolveAgainstStored(ctx context.Context, ent entity.Entity) (entity.Entity, error) {
	stored, err := e.store.GetEntity(ctx, ent.EntityKind(), ent.EntityID())
	if errors.Is(err, store.ErrNotFound) {
		return ent, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read stored %s %s: %w", ent.EntityKind(), ent.EntityID(), err)
	}
	return Resolve(ent, stored), nil
}

// recordFailure re-stages a failed entry with its diagnostic. An entry
// that reaches the retry ceiling stays buffered so it keeps showing in
// the pending count and diagnostics, but later cycles skip it.
func (e *Engine) recordFailure(st *Staged, err error) {
	st.Attempts++
	st.LastErr = err.Error()

	if st.Attempts >= e.maxAttempts {
		e.logger.Printf("Giving up on %s %s after %d attempts, leaving pending: %v",
			st.Entity.EntityKind(), st.Entity.EntityID(), st.Attempts, err)
	} else if IsTransient(err) {
		e.logger.Printf("Transient failure for %s %s (attempt %d): %v",
			st.Entity.EntityKind(), st.Entity.EntityID(), st.Attempts, err)
	} else {
		e.logger.Printf("Failure for %s %s (attempt %d): %v",
			st.Entity.EntityKind(), st.Entity.EntityID(), st.Attempts, err)
	}

	e.buffer.Restage(st)
}

// SyncSingle persists and broadcasts one entity immediately, bypassing
// full-phase batching. This is the fast path for latency-sensitive local
// edits. Any staged copy of the same entity is superseded.
func (e *Engine) SyncSingle(ctx context.Context, ent entity.Entity) error {
	if err := entity.Validate(ent); err != nil {
		return &ValidationError{Kind: ent.EntityKind(), ID: ent.EntityID(), Err: err}
	}

	// The staged copy is superseded as of this call; a mutation staged
	// from here on belongs to the next cycle and must survive.
	e.buffer.Remove(ent.EntityKind(), ent.EntityID())

	winner, err := e.resolveAgainstStored(ctx, ent)
	if err != nil {
		return err
	}

	if err := e.store.UpsertEntity(ctx, winner); err != nil {
		return fmt.Errorf("failed to persist %s %s: %w", ent.EntityKind(), ent.EntityID(), err)
	}

	e.hub.Publish(broadcast.Event{
		Topic:  broadcast.TopicForKind(winner.EntityKind()),
		Entity: winner,
	})
	return nil
}

// publishStatus emits a sync status event with the current pending count.
func (e *Engine) publishStatus(status Status, err error) {
	update := &broadcast.SyncUpdate{
		Status:  status.String(),
		Pending: e.buffer.PendingCount(),
	}
	if err != nil {
		update.Error = err.Error()
	}
	e.hub.Publish(broadcast.Event{
		Topic: broadcast.TopicSync,
		Sync:  update,
	})
}
