// Package cmd contains the CLI commands for threattriage.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Used for flags
	verbose bool
	output  string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "triagectl",
	Short: "ThreatTriage - IOC enrichment and triage toolkit",
	Long: `ThreatTriage enriches raw security alerts against reputation
sources, fuses the results into a risk score, classifies each alert
with the trained model, and routes notifications for the ones that
matter.

Examples:
  # Run a CSV batch through the local pipeline with mock sources
  triagectl process alerts.csv --debug

  # Train a new model version from the regenerated dataset
  triagectl train --command "python3 train.py"

  # Show the notification rules for every destination
  triagectl rules list`,
	Run: func(cmd *cobra.Command, args []string) {
		// Show help by default
		cmd.Help()
	},
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main().
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "table", "output format (table, json)")
}

// GetOutput returns the output format.
func GetOutput() string {
	return output
}

// PrintVerbose prints a message only if verbose mode is enabled.
func PrintVerbose(format string, args ...interface{}) {
	if verbose {
		fmt.Printf(format+"\n", args...)
	}
}

// PrintError prints an error message and exits if fatal is true.
func PrintError(msg string, fatal bool) {
	fmt.Fprintln(os.Stderr, "Error:", msg)
	if fatal {
		os.Exit(1)
	}
}
