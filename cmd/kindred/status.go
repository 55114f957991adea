package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kindred-care/kindred/internal/config"
	"github.com/kindred-care/kindred/internal/store"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show local database status",
	Long: `Display the current state of the local Kindred database.

Shows:
  - Database location and size
  - Entity counts (profiles, tasks, messages, timeline events)
  - Profiles grouped by consent state
  - Time of the last completed sync`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}

		info, err := os.Stat(cfg.Database.Path)
		if os.IsNotExist(err) {
			fmt.Printf("\nDatabase not initialized at %s\n", cfg.Database.Path)
			fmt.Printf("Run 'kindred daemon' or 'kindred sync' to create it\n\n")
			return
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error checking database: %v\n", err)
			os.Exit(1)
		}

		st, err := store.Open(cfg.Database.Path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening database: %v\n", err)
			os.Exit(1)
		}
		defer st.Close()

		stats, err := st.GetStats(context.Background())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading stats: %v\n", err)
			os.Exit(1)
		}

		size := info.Size()
		sizeStr := fmt.Sprintf("%d bytes", size)
		if size > 1024*1024 {
			sizeStr = fmt.Sprintf("%.1f MB", float64(size)/(1024*1024))
		} else if size > 1024 {
			sizeStr = fmt.Sprintf("%.1f KB", float64(size)/1024)
		}

		fmt.Printf("\nKindred Database Status\n\n")
		fmt.Printf("Location: %s\n", cfg.Database.Path)
		fmt.Printf("Size: %s\n", sizeStr)
		fmt.Printf("Accounts: %d\n", stats.Accounts)
		fmt.Printf("Profiles: %d\n", stats.Profiles)
		fmt.Printf("Tasks: %d\n", stats.Tasks)
		fmt.Printf("Messages: %d\n", stats.Messages)
		fmt.Printf("Timeline events: %d\n", stats.TimelineEvents)
		if len(stats.ByConsentState) > 0 {
			fmt.Printf("Consent:\n")
			for state, n := range stats.ByConsentState {
				fmt.Printf("   %s: %d\n", state, n)
			}
		}
		if stats.LastSyncedAt.IsZero() {
			fmt.Printf("Last synced: never\n")
		} else {
			fmt.Printf("Last synced: %s\n", stats.LastSyncedAt.Format("2006-01-02 15:04:05"))
		}
		fmt.Println()
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
