package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/kindred-care/kindred/internal/broadcast"
	"github.com/kindred-care/kindred/internal/config"
	"github.com/kindred-care/kindred/internal/engine"
	"github.com/kindred-care/kindred/internal/remote"
	"github.com/kindred-care/kindred/internal/store"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one sync cycle and exit",
	Long: `Perform a single sync cycle without starting the daemon.

This stages everything currently in the spool directory, flushes it to
the local database with conflict resolution, and records the sync time.
Useful for scripting and for recovering after the daemon was down.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}

		logger := log.New(os.Stderr, "[sync] ", log.LstdFlags)

		st, err := store.Open(cfg.Database.Path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening database: %v\n", err)
			os.Exit(1)
		}
		defer st.Close()

		if err := st.InitSchema(); err != nil {
			fmt.Fprintf(os.Stderr, "Error initializing schema: %v\n", err)
			os.Exit(1)
		}

		hub := broadcast.New(logger)

		ecfg := engine.DefaultConfig()
		ecfg.MaxAttempts = cfg.Sync.MaxAttempts
		ecfg.Logger = logger
		eng := engine.New(st, hub, ecfg)

		watcher, err := remote.NewWatcher(cfg.Spool.Dir, eng.Stage, &remote.Config{Logger: logger})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening spool: %v\n", err)
			os.Exit(1)
		}
		defer watcher.Stop()

		staged, err := watcher.ScanAll()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error scanning spool: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("Syncing %d spooled changes...\n", staged)
		start := time.Now()

		if err := eng.SyncOnce(context.Background()); err != nil {
			fmt.Fprintf(os.Stderr, "Error during sync: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("Sync complete in %v\n", time.Since(start).Round(time.Millisecond))
		if pending := eng.PendingCount(); pending > 0 {
			fmt.Printf("   Pending (will retry): %d\n", pending)
			for key, diag := range eng.PendingDiagnostics() {
				fmt.Printf("   - %s: %s\n", key, diag)
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
}
