package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/kindred-care/kindred/internal/config"
	"github.com/kindred-care/kindred/internal/daemon"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the sync daemon (foreground)",
	Long: `Run the Kindred sync daemon in foreground mode.

The daemon will:
  1. Open the local database and initialize the schema
  2. Watch the spool directory for changes pushed from other devices
  3. Flush buffered edits on a periodic timer
  4. Process inbound SMS replies through the consent state machine
  5. Optionally serve a WebSocket dashboard for live monitoring

Configuration is read from ~/.config/kindred/config.toml and KINDRED_*
environment variables. Flags override both.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}

		if port, _ := cmd.Flags().GetInt("dashboard-port"); port > 0 {
			cfg.Dashboard.Enabled = true
			cfg.Dashboard.Port = port
		}
		if db, _ := cmd.Flags().GetString("db"); db != "" {
			cfg.Database.Path = db
		}
		if spool, _ := cmd.Flags().GetString("spool"); spool != "" {
			cfg.Spool.Dir = spool
		}

		logger := log.New(daemonLogWriter(cfg.Log), "[daemon] ", log.LstdFlags)

		dcfg := daemon.DefaultConfig()
		dcfg.DatabasePath = cfg.Database.Path
		dcfg.SpoolDir = cfg.Spool.Dir
		dcfg.SyncInterval = cfg.Sync.Interval
		dcfg.MaxAttempts = cfg.Sync.MaxAttempts
		dcfg.Logger = logger
		if cfg.Dashboard.Enabled {
			dcfg.DashboardPort = cfg.Dashboard.Port
		}

		d, err := daemon.New(dcfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating daemon: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("Starting Kindred sync daemon...\n")
		fmt.Printf("   Database: %s\n", cfg.Database.Path)
		fmt.Printf("   Spool: %s\n", cfg.Spool.Dir)
		if cfg.Dashboard.Enabled {
			fmt.Printf("   Dashboard: ws://localhost:%d/ws\n", cfg.Dashboard.Port)
		}
		fmt.Printf("\nPress Ctrl+C to stop\n\n")

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		if err := d.Start(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Daemon stopped with error: %v\n", err)
			os.Exit(1)
		}
	},
}

// daemonLogWriter returns a rotating file writer when a log file is
// configured, stderr otherwise.
func daemonLogWriter(cfg config.LogConfig) io.Writer {
	if cfg.File == "" {
		return os.Stderr
	}
	return &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
	}
}

func init() {
	daemonCmd.Flags().String("db", "", "Path to the local database (overrides config)")
	daemonCmd.Flags().String("spool", "", "Spool directory for remote changes (overrides config)")
	daemonCmd.Flags().IntP("dashboard-port", "p", 0, "Enable the WebSocket dashboard on this port")

	rootCmd.AddCommand(daemonCmd)
}
