// Package cli implements the Tandem command-line interface using Cobra.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "tandem",
	Short: "Tandem: shared streaks, achievements and challenges for two",
	Long: `Tandem keeps a couple's engagement state: streaks, achievements,
daily challenges, reminders and a shared points ledger.

State is recomputed from the partnership's current actions and issues
whenever they change, and once a day at local midnight.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Called from main.go.
func Execute(version string) {
	rootCmd.Version = version

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
