package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/nimishmehta8779/aiops-devops-agent/internal/agents"
	"github.com/nimishmehta8779/aiops-devops-agent/internal/config"
	"github.com/nimishmehta8779/aiops-devops-agent/internal/dedup"
	"github.com/nimishmehta8779/aiops-devops-agent/internal/executors"
	"github.com/nimishmehta8779/aiops-devops-agent/internal/ingest"
	"github.com/nimishmehta8779/aiops-devops-agent/internal/llm"
	"github.com/nimishmehta8779/aiops-devops-agent/internal/metrics"
	"github.com/nimishmehta8779/aiops-devops-agent/internal/normalizer"
	"github.com/nimishmehta8779/aiops-devops-agent/internal/notify"
	"github.com/nimishmehta8779/aiops-devops-agent/internal/observability"
	"github.com/nimishmehta8779/aiops-devops-agent/internal/patterns"
	sqlitestore "github.com/nimishmehta8779/aiops-devops-agent/internal/storage/sqlite"
	"github.com/nimishmehta8779/aiops-devops-agent/internal/workflow"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the event ingest server",
	Long: `Start the HTTP ingest server and process incidents until stopped.

The server will:
1. Accept event envelopes on POST /events (and /events/batch)
2. Normalize each event and create an incident
3. Run the fingerprint/cooldown gate
4. Coordinate the five agents through the recovery workflow
5. Serve Prometheus metrics on GET /metrics`,
	RunE: func(cmd *cobra.Command, args []string) error {
		strict, _ := cmd.Flags().GetBool("strict-config")
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		cfg, err := config.Load(configPath, strict)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		logger := slog.Default()

		store, err := sqlitestore.New(cfg.IncidentDB)
		if err != nil {
			return fmt.Errorf("failed to open incident store: %w", err)
		}
		defer store.Close()

		m := metrics.New()

		// The LLM client is optional: without an API key the classifier
		// and the planning/summary agents fall back to deterministic
		// heuristics.
		var invoker llm.Invoker
		if os.Getenv("ANTHROPIC_API_KEY") != "" && !dryRun {
			client, err := llm.New(cfg.LLM, logger)
			if err != nil {
				return fmt.Errorf("failed to create LLM client: %w", err)
			}
			invoker = client
		} else {
			logger.Warn("LLM client not configured, agents use deterministic fallbacks")
		}

		gate := dedup.NewGate(store, cfg.CooldownWindow(), logger)
		pool := observability.NewPool(nil)
		execSet := executors.DryRunSet(logger)
		transports := notify.LogTransports(logger)

		engine := workflow.New(workflow.Deps{
			Store:       store,
			Gate:        gate,
			Classifier:  llm.NewClassifier(invoker, logger),
			Coordinator: agents.NewCoordinator(logger),
			Triage:      agents.NewTriageAgent(store, gate, m, logger),
			Telemetry:   agents.NewTelemetryAgent(pool, store, m, cfg.CentralRegion, logger),
			Risk:        agents.NewRiskAgent(store, nil, cfg.Risk, m, logger),
			Remediation: agents.NewRemediationAgent(invoker, execSet, store, cfg.Remediation, m, logger),
			Comms:       agents.NewCommsAgent(invoker, transports, store, cfg.Notifications, m, logger),
			Broadcast:   transports.Broadcast,
			Metrics:     m,
			Config:      cfg,
			Logger:      logger,
		})

		server := ingest.NewServer(
			cfg.ListenAddr,
			normalizer.New(cfg.CentralRegion, logger),
			engine,
			store,
			patterns.New(store.Patterns(), logger),
			m,
			cfg.MaxConcurrentIncidents,
			logger,
		)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		green := color.New(color.FgGreen).SprintFunc()
		fmt.Fprintf(os.Stderr, "%s Orchestrator listening on %s (db: %s, region: %s)\n",
			green("✓"), cfg.ListenAddr, cfg.IncidentDB, cfg.CentralRegion)

		return server.Run(ctx)
	},
}

func init() {
	serveCmd.Flags().Bool("strict-config", false, "reject unknown keys in the config file")
	serveCmd.Flags().Bool("dry-run", false, "never call the LLM or mutate infrastructure")
	rootCmd.AddCommand(serveCmd)
}
