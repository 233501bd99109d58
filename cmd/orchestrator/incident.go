package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/nimishmehta8779/aiops-devops-agent/internal/config"
	sqlitestore "github.com/nimishmehta8779/aiops-devops-agent/internal/storage/sqlite"
	"github.com/nimishmehta8779/aiops-devops-agent/internal/types"
)

var incidentCmd = &cobra.Command{
	Use:   "incident <correlation-id>",
	Short: "Show a stored incident record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath, false)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		store, err := sqlitestore.New(cfg.IncidentDB)
		if err != nil {
			return fmt.Errorf("failed to open incident store: %w", err)
		}
		defer store.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		inc, err := store.Get(ctx, args[0])
		if err != nil {
			return err
		}
		if inc == nil {
			return fmt.Errorf("incident %s not found", args[0])
		}

		printIncident(inc)
		return nil
	},
}

func printIncident(inc *types.Incident) {
	bold := color.New(color.Bold).SprintFunc()
	stateColor := color.New(color.FgYellow).SprintFunc()
	switch inc.WorkflowState {
	case types.StateCompleted:
		stateColor = color.New(color.FgGreen).SprintFunc()
	case types.StateFailed:
		stateColor = color.New(color.FgRed).SprintFunc()
	}

	fmt.Fprintf(os.Stdout, "%s %s\n", bold(inc.CorrelationID), stateColor(string(inc.WorkflowState)))
	fmt.Fprintf(os.Stdout, "  resource:       %s (%s)\n", inc.ResourceID, inc.ResourceType)
	fmt.Fprintf(os.Stdout, "  region:         %s\n", inc.Region)
	fmt.Fprintf(os.Stdout, "  created:        %s\n", inc.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(os.Stdout, "  updated:        %s\n", inc.UpdatedAt.Format(time.RFC3339))
	if inc.Classification != "" {
		fmt.Fprintf(os.Stdout, "  classification: %s (severity %d, confidence %.2f)\n",
			inc.Classification, inc.Severity, inc.Confidence)
	}
	if inc.Fingerprint != "" {
		fmt.Fprintf(os.Stdout, "  fingerprint:    %s\n", inc.Fingerprint)
	}
	if inc.DuplicateOf != "" {
		fmt.Fprintf(os.Stdout, "  duplicate of:   %s\n", inc.DuplicateOf)
	}
	if inc.CooldownReason != "" {
		fmt.Fprintf(os.Stdout, "  cooldown:       %s\n", inc.CooldownReason)
	}
	if inc.ApprovalStatus != "" {
		fmt.Fprintf(os.Stdout, "  approval:       %s\n", inc.ApprovalStatus)
	}
	if inc.Reason != "" {
		fmt.Fprintf(os.Stdout, "  reason:         %s\n", inc.Reason)
	}
	if inc.Success != nil {
		fmt.Fprintf(os.Stdout, "  success:        %t (%.1fs)\n", *inc.Success, inc.RecoveryDurationSeconds)
	}

	for _, slot := range []struct {
		name string
		blob []byte
	}{
		{"triage", inc.TriageResults},
		{"telemetry", inc.TelemetryResults},
		{"risk", inc.RiskAssessment},
		{"remediation plan", inc.RemediationPlan},
		{"remediation results", inc.RemediationResults},
		{"communications", inc.CommunicationLog},
	} {
		if len(slot.blob) > 0 {
			fmt.Fprintf(os.Stdout, "  %-20s %s\n", slot.name+":", slot.blob)
		}
	}
}

func init() {
	rootCmd.AddCommand(incidentCmd)
}
