// Command kindred runs the Kindred family-care sync daemon and its
// management subcommands.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "0.3.0"

var rootCmd = &cobra.Command{
	Use:   "kindred",
	Short: "Kindred family caregiving sync engine",
	Long: `Kindred keeps family caregiving data in sync across devices.

Each device keeps a local SQLite database of care recipients, scheduled
tasks, and inbound SMS responses. The daemon buffers local edits, merges
remote changes pushed into the spool directory, and resolves conflicts
so every device converges on the same state.`,
	Version: version,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
