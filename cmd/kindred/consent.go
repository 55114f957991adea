package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/kindred-care/kindred/internal/broadcast"
	"github.com/kindred-care/kindred/internal/config"
	"github.com/kindred-care/kindred/internal/consent"
	"github.com/kindred-care/kindred/internal/store"
)

var consentCmd = &cobra.Command{
	Use:   "consent",
	Short: "Manage SMS consent for care recipient profiles",
	Long: `Manage the SMS consent lifecycle for care recipient profiles.

Consent moves through a fixed set of states: pending, sent, confirmed,
declined, opted_out, and failed. Inbound replies drive most transitions;
these subcommands cover the operator-initiated ones.`,
}

var consentRequestCmd = &cobra.Command{
	Use:   "request <profile-id>",
	Short: "Send the initial consent request to a profile",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		withMachine(func(ctx context.Context, m *consent.Machine) error {
			return m.RequestConsent(ctx, args[0])
		})
		fmt.Printf("Consent request sent to profile %s\n", args[0])
	},
}

var consentResendCmd = &cobra.Command{
	Use:   "resend <profile-id>",
	Short: "Retry a consent request that failed to deliver",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		withMachine(func(ctx context.Context, m *consent.Machine) error {
			return m.Resend(ctx, args[0])
		})
		fmt.Printf("Consent request resent to profile %s\n", args[0])
	},
}

var consentResubscribeCmd = &cobra.Command{
	Use:   "resubscribe <profile-id>",
	Short: "Start a fresh consent flow for an opted-out profile",
	Long: `Start a fresh consent flow for a profile that opted out.

Opt-out is terminal for inbound replies. Only an explicit resubscription
request from a family member moves the profile back to pending, after
which a new consent request is sent.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		withMachine(func(ctx context.Context, m *consent.Machine) error {
			return m.RequestResubscription(ctx, args[0])
		})
		fmt.Printf("Resubscription request sent to profile %s\n", args[0])
	},
}

var consentHistoryCmd = &cobra.Command{
	Use:   "history <profile-id>",
	Short: "Show the consent transition log for a profile",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
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

		history, err := st.ConsentHistory(context.Background(), args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading consent history: %v\n", err)
			os.Exit(1)
		}

		if len(history) == 0 {
			fmt.Printf("No consent transitions recorded for profile %s\n", args[0])
			return
		}

		fmt.Printf("\nConsent history for profile %s\n\n", args[0])
		for _, tr := range history {
			line := fmt.Sprintf("%s  %s -> %s  (%s", tr.OccurredAt.Format("2006-01-02 15:04:05"), tr.FromState, tr.ToState, tr.Method)
			if tr.Keyword != "" {
				line += fmt.Sprintf(" %q", tr.Keyword)
			}
			fmt.Println(line + ")")
		}
		fmt.Println()
	},
}

// withMachine opens the store, runs fn against a consent machine, and
// exits on error.
func withMachine(fn func(context.Context, *consent.Machine) error) {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	logger := log.New(os.Stderr, "[consent] ", log.LstdFlags)

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
	machine := consent.New(st, consent.NewLoggingGateway(logger), hub, &consent.Config{Logger: logger})

	if err := fn(context.Background(), machine); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	consentCmd.AddCommand(consentRequestCmd)
	consentCmd.AddCommand(consentResendCmd)
	consentCmd.AddCommand(consentResubscribeCmd)
	consentCmd.AddCommand(consentHistoryCmd)
	rootCmd.AddCommand(consentCmd)
}
