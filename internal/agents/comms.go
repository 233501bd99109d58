package agents

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nimishmehta8779/aiops-devops-agent/internal/config"
	"github.com/nimishmehta8779/aiops-devops-agent/internal/llm"
	"github.com/nimishmehta8779/aiops-devops-agent/internal/metrics"
	"github.com/nimishmehta8779/aiops-devops-agent/internal/notify"
	"github.com/nimishmehta8779/aiops-devops-agent/internal/storage"
	"github.com/nimishmehta8779/aiops-devops-agent/internal/types"
)

// CommsAnalysis is the communications agent's analysis payload.
type CommsAnalysis struct {
	Subject      string   `json:"subject"`
	Summary      string   `json:"summary"`
	Recipients   []string `json:"recipients"`
	LLMGenerated bool     `json:"llm_generated"`
	Skipped      bool     `json:"skipped,omitempty"`
}

// CommsExecution is the communications agent's execution payload.
type CommsExecution struct {
	EmailSent     bool   `json:"email_sent"`
	BroadcastSent bool   `json:"broadcast_sent"`
	Error         string `json:"error,omitempty"`
}

// CommsAgent renders an incident summary and delivers it. Email is the
// primary channel with broadcast as fallback; CRITICAL and HIGH incidents go
// out on both.
type CommsAgent struct {
	invoker    llm.Invoker
	transports *notify.Transports
	store      storage.Store
	cfg        config.NotificationConfig
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// NewCommsAgent creates the communications agent.
func NewCommsAgent(invoker llm.Invoker, transports *notify.Transports, store storage.Store, cfg config.NotificationConfig, m *metrics.Metrics, logger *slog.Logger) *CommsAgent {
	if logger == nil {
		logger = slog.Default()
	}
	return &CommsAgent{
		invoker:    invoker,
		transports: transports,
		store:      store,
		cfg:        cfg,
		metrics:    m,
		logger:     logger,
	}
}

func (a *CommsAgent) Type() types.AgentType         { return types.AgentCommunications }
func (a *CommsAgent) Priority() types.AgentPriority { return types.PriorityLow }

// Analyze renders the summary and selects recipients.
func (a *CommsAgent) Analyze(ctx context.Context, ictx *types.IncidentContext) (any, error) {
	// Duplicates were already announced on the original incident.
	if isDuplicateIncident(ictx) {
		return &CommsAnalysis{Skipped: true}, nil
	}

	classification := triageClassification(ictx)

	analysis := &CommsAnalysis{
		Subject:    fmt.Sprintf("[%s] Incident %s: %s on %s", classification, ictx.CorrelationID, ictx.EventName, ictx.ResourceKey()),
		Recipients: a.recipients(classification),
	}

	summary, generated := a.renderSummary(ctx, ictx, classification)
	analysis.Summary = summary
	analysis.LLMGenerated = generated
	return analysis, nil
}

// Execute delivers the notification and persists the communication log.
func (a *CommsAgent) Execute(ctx context.Context, ictx *types.IncidentContext, analysis any) (any, error) {
	ca, ok := analysis.(*CommsAnalysis)
	if !ok {
		return nil, fmt.Errorf("unexpected communications analysis type %T", analysis)
	}

	if ca.Skipped {
		return &CommsExecution{}, nil
	}

	classification := triageClassification(ictx)

	execution := &CommsExecution{}

	err := a.transports.Email.SendEmail(ctx, &notify.Message{
		Subject:    ca.Subject,
		Body:       ca.Summary,
		Recipients: ca.Recipients,
	})
	if err != nil {
		a.logger.Warn("email delivery failed, falling back to broadcast",
			"correlation_id", ictx.CorrelationID, "error", err)
		execution.Error = err.Error()
		if a.metrics != nil {
			a.metrics.NotificationsFailed.Inc()
		}
		if bErr := a.transports.Broadcast.Broadcast(ctx, ca.Subject, ca.Summary); bErr != nil {
			if a.metrics != nil {
				a.metrics.NotificationsFailed.Inc()
			}
			a.persistLog(ctx, ictx, ca, execution)
			return execution, fmt.Errorf("all notification channels failed: %w", bErr)
		}
		execution.BroadcastSent = true
	} else {
		execution.EmailSent = true
		if a.metrics != nil {
			a.metrics.NotificationsSent.Inc()
		}
	}

	// High-severity incidents broadcast in addition to email.
	if execution.EmailSent && (classification == types.ClassCritical || classification == types.ClassHigh) {
		if bErr := a.transports.Broadcast.Broadcast(ctx, ca.Subject, ca.Summary); bErr != nil {
			a.logger.Warn("broadcast delivery failed", "correlation_id", ictx.CorrelationID, "error", bErr)
			if a.metrics != nil {
				a.metrics.NotificationsFailed.Inc()
			}
		} else {
			execution.BroadcastSent = true
		}
	}

	if execution.BroadcastSent && a.metrics != nil {
		a.metrics.NotificationsSent.Inc()
	}

	a.persistLog(ctx, ictx, ca, execution)
	return execution, nil
}

func (a *CommsAgent) persistLog(ctx context.Context, ictx *types.IncidentContext, ca *CommsAnalysis, execution *CommsExecution) {
	logBlob := map[string]any{
		"subject":        ca.Subject,
		"recipients":     ca.Recipients,
		"email_sent":     execution.EmailSent,
		"broadcast_sent": execution.BroadcastSent,
	}
	if err := a.store.UpdateIncident(ctx, ictx.CorrelationID, map[string]any{
		"communication_log": mustMarshal(logBlob),
	}); err != nil {
		a.logger.Warn("failed to persist communication log",
			"correlation_id", ictx.CorrelationID, "error", err)
	}
}

// recipients is the default mailbox plus escalation addresses for CRITICAL.
func (a *CommsAgent) recipients(classification types.Classification) []string {
	recipients := []string{a.cfg.DefaultEmail}
	if classification == types.ClassCritical {
		recipients = append(recipients, a.cfg.EscalationEmails...)
	}
	return recipients
}

// renderSummary asks the model for a readable summary, falling back to the
// template on any failure. Returns the text and whether the model wrote it.
func (a *CommsAgent) renderSummary(ctx context.Context, ictx *types.IncidentContext, classification types.Classification) (string, bool) {
	if a.invoker == nil {
		return templateSummary(ictx, classification), false
	}

	text, err := a.invoker.Invoke(ctx, "summary", buildSummaryPrompt(ictx, classification), 1024)
	if err != nil || strings.TrimSpace(text) == "" {
		if err != nil {
			a.logger.Warn("summary synthesis failed, using template",
				"correlation_id", ictx.CorrelationID, "error", err)
		}
		return templateSummary(ictx, classification), false
	}
	return strings.TrimSpace(text), true
}

func templateSummary(ictx *types.IncidentContext, classification types.Classification) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Incident %s\n\n", ictx.CorrelationID)
	fmt.Fprintf(&b, "Classification: %s\n", classification)
	fmt.Fprintf(&b, "Event: %s\n", ictx.EventName)
	fmt.Fprintf(&b, "Resource: %s (%s)\n", ictx.ResourceID, ictx.ResourceType)
	fmt.Fprintf(&b, "Region: %s\n", ictx.Region)
	fmt.Fprintf(&b, "Actor: %s\n", ictx.Actor)
	if !ictx.EventTime.IsZero() {
		fmt.Fprintf(&b, "Event time: %s\n", ictx.EventTime.UTC().Format("2006-01-02 15:04:05 UTC"))
	}
	if ictx.RegionalContext != nil {
		fmt.Fprintf(&b, "Forwarded from: %s\n", ictx.RegionalContext.ForwardedFrom)
	}
	b.WriteString("\nThe automated recovery workflow is handling this incident. Check the incident record for agent results.\n")
	return b.String()
}

func buildSummaryPrompt(ictx *types.IncidentContext, classification types.Classification) string {
	return fmt.Sprintf(`Write a concise incident notification email body (plain text, no
markdown) for operations engineers.

Incident: %s
Classification: %s
Event: %s
Resource: %s (%s)
Region: %s
Actor: %s

Cover what happened, the likely impact, and that automated recovery is in
progress. Four sentences maximum.`,
		ictx.CorrelationID, classification, ictx.EventName, ictx.ResourceID,
		ictx.ResourceType, ictx.Region, ictx.Actor)
}
