// Package remote delivers entity changes pushed by peer devices.
//
// The transport layer drops one JSON envelope per changed entity into a
// spool directory; the watcher picks the files up, decodes them, and
// stages the payloads into the sync engine's change buffer. On startup a
// full scan replays everything already spooled, which doubles as the
// restart resync required because broadcast events are not durable.
package remote

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/kindred-care/kindred/internal/entity"
)

// StageFunc receives each decoded entity. The sync engine's Stage method
// satisfies this.
type StageFunc func(entity.Entity)

// Config holds watcher configuration.
type Config struct {
	// DebounceInterval is how long to wait before processing file
	// changes, batching rapid rewrites of the same envelope together
	// (default: 100ms).
	DebounceInterval time.Duration

	// Logger for watcher activity (default: stderr logger).
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DebounceInterval: 100 * time.Millisecond,
		Logger:           log.New(os.Stderr, "[remote] ", log.LstdFlags),
	}
}

// Watcher watches the spool directory and stages pushed entities.
type Watcher struct {
	spoolDir string
	stage    StageFunc
	config   *Config

	watcher *fsnotify.Watcher

	queueMu sync.Mutex
	queue   map[string]time.Time // filepath -> queued-at

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewWatcher creates a spool watcher. The spool directory is created if
// missing.
func NewWatcher(spoolDir string, stage StageFunc, config *Config) (*Watcher, error) {
	if spoolDir == "" {
		return nil, fmt.Errorf("spoolDir cannot be empty")
	}
	if stage == nil {
		return nil, fmt.Errorf("stage callback cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = 100 * time.Millisecond
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[remote] ", log.LstdFlags)
	}

	if err := os.MkdirAll(spoolDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create spool directory: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &Watcher{
		spoolDir: spoolDir,
		stage:    stage,
		config:   config,
		watcher:  fw,
		queue:    make(map[string]time.Time),
	}, nil
}

// Start scans everything already spooled, then begins watching for new
// envelope files. Returns an error if the directory cannot be watched.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return fmt.Errorf("watcher already running")
	}

	if _, err := w.ScanAll(); err != nil {
		return fmt.Errorf("initial spool scan failed: %w", err)
	}

	if err := w.watcher.Add(w.spoolDir); err != nil {
		return fmt.Errorf("failed to watch spool directory %s: %w", w.spoolDir, err)
	}

	ctx, w.cancel = context.WithCancel(ctx)
	w.running = true

	w.wg.Add(2)
	go w.watchEvents(ctx)
	go w.processQueue(ctx)

	w.config.Logger.Printf("Watching spool: %s", w.spoolDir)
	return nil
}

// Stop stops watching and waits for in-flight processing to finish.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	w.mu.Unlock()

	w.cancel()
	if err := w.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	w.wg.Wait()
	return nil
}

// ScanAll reads every envelope currently in the spool and stages its
// payload. Invalid files are logged and skipped. Returns the number of
// entities staged.
func (w *Watcher) ScanAll() (int, error) {
	entries, err := os.ReadDir(w.spoolDir)
	if err != nil {
		return 0, fmt.Errorf("failed to read spool directory: %w", err)
	}

	staged := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(w.spoolDir, entry.Name())
		if err := w.processFile(path); err != nil {
			w.config.Logger.Printf("Warning: skipping spool file %s: %v", entry.Name(), err)
			continue
		}
		staged++
	}
	return staged, nil
}

// watchEvents monitors filesystem events and queues envelope changes.
func (w *Watcher) watchEvents(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if filepath.Ext(event.Name) != ".json" {
				continue
			}
			w.queueChange(event.Name)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

// queueChange adds a file to the change queue with debouncing.
func (w *Watcher) queueChange(path string) {
	w.queueMu.Lock()
	defer w.queueMu.Unlock()
	w.queue[path] = time.Now()
}

// processQueue drains files that have been queued for long enough.
func (w *Watcher) processQueue(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.DebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			w.processPending()
		}
	}
}

// processPending stages envelopes whose debounce window has elapsed.
func (w *Watcher) processPending() {
	w.queueMu.Lock()
	defer w.queueMu.Unlock()

	now := time.Now()
	for path, queuedAt := range w.queue {
		if now.Sub(queuedAt) < w.config.DebounceInterval {
			continue
		}
		if err := w.processFile(path); err != nil {
			w.config.Logger.Printf("Error processing spool file %s: %v", path, err)
		}
		delete(w.queue, path)
	}
}

// processFile decodes one envelope and stages its payload.
func (w *Watcher) processFile(path string) error {
	ent, err := entity.ReadEnvelopeFile(path)
	if err != nil {
		return err
	}

	w.stage(ent)
	w.config.Logger.Printf("Staged remote %s %s", ent.EntityKind(), ent.EntityID())
	return nil
}
