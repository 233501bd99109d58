// Command orchestrator runs the AIOps incident-response orchestrator: it
// ingests infrastructure events, drives each one through the multi-agent
// recovery workflow, and records every incident in the local store.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "orchestrator",
	Short: "AIOps incident-response orchestrator",
	Long: `The orchestrator ingests infrastructure events, normalizes them into
incidents, and coordinates five specialized agents (triage, telemetry, risk,
remediation, communications) to analyze and recover from each one.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
