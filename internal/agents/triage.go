package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/nimishmehta8779/aiops-devops-agent/internal/dedup"
	"github.com/nimishmehta8779/aiops-devops-agent/internal/metrics"
	"github.com/nimishmehta8779/aiops-devops-agent/internal/storage"
	"github.com/nimishmehta8779/aiops-devops-agent/internal/types"
)

// noisyEventSources are sources whose events historically produce a high
// false-positive rate. Presence on this list raises the noise score.
var noisyEventSources = map[string]bool{
	"autoscaling.amazonaws.com":    true,
	"monitoring.amazonaws.com":     true,
	"config.amazonaws.com":         true,
	"trustedadvisor.amazonaws.com": true,
}

// protectedResourceTypes get a +1 severity bump: losing one of these is
// worse than losing an auxiliary resource.
var protectedResourceTypes = map[string]bool{
	"ec2":      true,
	"rds":      true,
	"dynamodb": true,
	"lambda":   true,
}

// TriageAnalysis is the triage agent's analysis payload.
type TriageAnalysis struct {
	Fingerprint          string               `json:"fingerprint"`
	IsDuplicate          bool                 `json:"is_duplicate"`
	DuplicateOf          string               `json:"duplicate_of,omitempty"`
	SeverityScore        int                  `json:"severity_score"`
	Classification       types.Classification `json:"classification"`
	NoiseScore           float64              `json:"noise_score"`
	ShouldSuppress       bool                 `json:"should_suppress"`
	BusinessImpact       string               `json:"business_impact"`
	SimilarIncidentCount int                  `json:"similar_incident_count"`
}

// TriageExecution records what triage persisted.
type TriageExecution struct {
	Persisted bool `json:"persisted"`
}

// TriageAgent classifies incoming incidents: fingerprint, duplicate check,
// severity scoring, noise scoring, and business impact. It runs first at
// CRITICAL priority; every later agent depends on its classification.
type TriageAgent struct {
	store   storage.Store
	gate    *dedup.Gate
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewTriageAgent creates the triage agent.
func NewTriageAgent(store storage.Store, gate *dedup.Gate, m *metrics.Metrics, logger *slog.Logger) *TriageAgent {
	if logger == nil {
		logger = slog.Default()
	}
	return &TriageAgent{
		store:   store,
		gate:    gate,
		metrics: m,
		logger:  logger,
		now:     time.Now,
	}
}

func (a *TriageAgent) Type() types.AgentType         { return types.AgentTriage }
func (a *TriageAgent) Priority() types.AgentPriority { return types.PriorityCritical }

// Analyze computes the fingerprint, duplicate verdict, and all triage scores.
func (a *TriageAgent) Analyze(ctx context.Context, ictx *types.IncidentContext) (any, error) {
	fingerprint := dedup.FingerprintContext(ictx)

	duplicates, err := a.gate.RecentDuplicates(ctx, fingerprint)
	if err != nil {
		return nil, fmt.Errorf("duplicate scan failed: %w", err)
	}
	// The incident under triage may already be persisted with this
	// fingerprint; it is not its own duplicate.
	duplicates = excludeSelf(duplicates, ictx.CorrelationID)

	analysis := &TriageAnalysis{
		Fingerprint:          fingerprint,
		SimilarIncidentCount: len(duplicates),
	}
	if len(duplicates) > 0 {
		analysis.IsDuplicate = true
		analysis.DuplicateOf = duplicates[0].CorrelationID
	}

	analysis.SeverityScore = a.severityScore(ictx, duplicates)
	analysis.Classification = types.ClassifySeverity(analysis.SeverityScore)
	analysis.NoiseScore = a.noiseScore(ictx, duplicates)
	analysis.ShouldSuppress = analysis.NoiseScore > 0.7
	analysis.BusinessImpact = businessImpact(analysis.Classification, ictx.ResourceType)

	return analysis, nil
}

// Execute persists the triage verdict onto the incident record.
func (a *TriageAgent) Execute(ctx context.Context, ictx *types.IncidentContext, analysis any) (any, error) {
	ta, ok := analysis.(*TriageAnalysis)
	if !ok {
		return nil, fmt.Errorf("unexpected triage analysis type %T", analysis)
	}

	updates := map[string]any{
		"fingerprint":          ta.Fingerprint,
		"event_classification": string(ta.Classification),
		"severity":             ta.SeverityScore,
		"triage_results":       mustMarshal(ta),
	}
	if ta.IsDuplicate {
		updates["duplicate_of"] = ta.DuplicateOf
	}
	if err := a.store.UpdateIncident(ctx, ictx.CorrelationID, updates); err != nil {
		return nil, fmt.Errorf("failed to persist triage results: %w", err)
	}

	if a.metrics != nil {
		a.metrics.IncidentClassification.WithLabelValues(string(ta.Classification)).Inc()
		a.metrics.SeverityScore.Observe(float64(ta.SeverityScore))
		a.metrics.NoiseScore.Observe(ta.NoiseScore)
		if ta.IsDuplicate {
			a.metrics.DuplicateIncidents.Inc()
		}
	}

	return &TriageExecution{Persisted: true}, nil
}

// severityScore applies the verb table, the protected-resource bump, and the
// historical blend.
func (a *TriageAgent) severityScore(ictx *types.IncidentContext, history []*types.Incident) int {
	base := baseSeverity(ictx.EventName)

	if protectedResourceTypes[ictx.ResourceType] {
		base++
		if base > 10 {
			base = 10
		}
	}

	if len(history) > 0 {
		var sum int
		for _, inc := range history {
			sev := inc.Severity
			if sev == 0 {
				sev = types.Classification(inc.Classification).SeverityScore()
			}
			sum += sev
		}
		mean := float64(sum) / float64(len(history))
		base = int(math.Round((float64(base) + mean) / 2))
	}

	if base < 1 {
		base = 1
	}
	if base > 10 {
		base = 10
	}
	return base
}

// baseSeverity maps the event verb to a base score.
func baseSeverity(eventName string) int {
	name := strings.ToLower(eventName)
	switch {
	case containsAny(name, "delete", "terminate", "destroy"):
		return 10
	case containsAny(name, "stop", "disable", "detach"):
		return 8
	case containsAny(name, "modify", "update", "change"):
		return 6
	case containsAny(name, "create", "start", "enable"):
		return 3
	default:
		return 5
	}
}

// noiseScore estimates the probability this incident is noise rather than a
// real problem.
func (a *TriageAgent) noiseScore(ictx *types.IncidentContext, similar []*types.Incident) float64 {
	score := 0.0

	if len(similar) >= 5 {
		score += 0.3
	}
	if len(similar) > 0 {
		resolved := 0
		for _, inc := range similar {
			if inc.WorkflowState == types.StateCompleted {
				resolved++
			}
		}
		if float64(resolved)/float64(len(similar)) > 0.8 {
			score += 0.2
		}
	}
	if noisyEventSources[eventSource(ictx)] {
		score += 0.1
	}

	if score > 1 {
		score = 1
	}
	if score < 0 {
		score = 0
	}
	return score
}

func businessImpact(classification types.Classification, resourceType string) string {
	switch classification {
	case types.ClassCritical:
		return fmt.Sprintf("Critical impact: %s outage likely affects customer-facing services", resourceType)
	case types.ClassHigh:
		return fmt.Sprintf("High impact: degraded %s capacity, recovery should not wait", resourceType)
	case types.ClassMedium:
		return fmt.Sprintf("Moderate impact: %s change warrants review", resourceType)
	default:
		return "Low impact: routine operational activity"
	}
}

// eventSource extracts the eventSource field from the raw event details.
func eventSource(ictx *types.IncidentContext) string {
	var detail struct {
		EventSource string `json:"eventSource"`
	}
	if len(ictx.EventDetails) == 0 {
		return ""
	}
	if err := json.Unmarshal(ictx.EventDetails, &detail); err != nil {
		return ""
	}
	return detail.EventSource
}

func excludeSelf(incidents []*types.Incident, correlationID string) []*types.Incident {
	out := incidents[:0]
	for _, inc := range incidents {
		if inc.CorrelationID != correlationID {
			out = append(out, inc)
		}
	}
	return out
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
