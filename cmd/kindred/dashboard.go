package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kindred-care/kindred/internal/config"
	"github.com/kindred-care/kindred/internal/dashboard"
	"github.com/kindred-care/kindred/internal/store"
)

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Start a standalone status dashboard",
	Long: `Start the WebSocket dashboard server without the sync daemon.

In this mode the server only answers /status snapshots from the local
database; live entity and sync events require the daemon (run
'kindred daemon --dashboard-port').

WebSocket messages include:
- entity_update: Profile, task, message, or timeline change persisted
- sync_status: Sync cycle started, completed, or failed
- consent_update: Consent state transition for a profile
- stats: Entity counts and last sync time

Connect with a WebSocket client:
  ws://localhost:8420/ws`,
	Run: func(cmd *cobra.Command, args []string) {
		port, _ := cmd.Flags().GetInt("port")

		cfg, err := config.Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}

		st, err := store.Open(cfg.Database.Path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening database: %v\n", err)
			os.Exit(1)
		}
		defer st.Close()

		server := dashboard.NewServer(&dashboard.Config{
			Port: port,
			Snapshot: func(ctx context.Context) (*dashboard.StatsData, error) {
				stats, err := st.GetStats(ctx)
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
					LastSyncedAt: stats.LastSyncedAt,
				}, nil
			},
			Logger: log.New(os.Stderr, "[dashboard] ", log.LstdFlags),
		})

		if err := server.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to start dashboard: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("Dashboard server started on http://localhost:%d\n", port)
		fmt.Printf("WebSocket endpoint: ws://localhost:%d/ws\n", port)
		fmt.Printf("Health check: http://localhost:%d/health\n", port)
		fmt.Println("\nPress Ctrl+C to stop...")

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		<-ctx.Done()

		fmt.Println("\nShutting down dashboard server...")
		if err := server.Stop(); err != nil {
			fmt.Fprintf(os.Stderr, "Error during shutdown: %v\n", err)
			os.Exit(1)
		}

		fmt.Println("Dashboard server stopped")
	},
}

func init() {
	dashboardCmd.Flags().IntP("port", "p", 8420, "Port to listen on")

	rootCmd.AddCommand(dashboardCmd)
}
