package agents

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nimishmehta8779/aiops-devops-agent/internal/config"
	"github.com/nimishmehta8779/aiops-devops-agent/internal/metrics"
	"github.com/nimishmehta8779/aiops-devops-agent/internal/storage"
	"github.com/nimishmehta8779/aiops-devops-agent/internal/types"
)

// dataStoreResourceTypes widen the blast radius: losing data is worse than
// losing compute.
var dataStoreResourceTypes = map[string]bool{
	"dynamodb": true,
	"rds":      true,
	"s3":       true,
}

// PolicyChecker is the external policy-compliance collaborator. Absent data
// is treated as compliant (fail-open).
type PolicyChecker interface {
	// IsCompliant reports whether mutating the resource complies with
	// organizational policy. Returning (false, nil) is a definitive
	// non-compliance verdict; an error means the collaborator is
	// unavailable and the check fails open.
	IsCompliant(ctx context.Context, resourceType, resourceID string) (bool, error)
}

// RiskAnalysis is the risk agent's analysis payload.
type RiskAnalysis struct {
	RiskScore        float64           `json:"risk_score"`
	ChangeWindowOK   bool              `json:"change_window_ok"`
	PolicyCompliant  bool              `json:"policy_compliant"`
	BudgetExhausted  bool              `json:"budget_exhausted"`
	CriticalThisHour int               `json:"critical_this_hour"`
	BlastRadius      types.BlastRadius `json:"blast_radius"`
	ApprovalRequired bool              `json:"approval_required"`
	SafeToProceed    bool              `json:"safe_to_proceed"`
	AutoApproved     bool              `json:"auto_approved,omitempty"`
	Skipped          bool              `json:"skipped,omitempty"`
}

// RiskExecution records what risk persisted.
type RiskExecution struct {
	Persisted bool `json:"persisted"`
}

// RiskAgent evaluates whether automated remediation is safe right now:
// change windows, policy compliance, error budget, and blast radius.
type RiskAgent struct {
	store   storage.Store
	policy  PolicyChecker
	cfg     config.RiskConfig
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewRiskAgent creates the risk agent. A nil policy checker fails open.
func NewRiskAgent(store storage.Store, policy PolicyChecker, cfg config.RiskConfig, m *metrics.Metrics, logger *slog.Logger) *RiskAgent {
	if logger == nil {
		logger = slog.Default()
	}
	return &RiskAgent{
		store:   store,
		policy:  policy,
		cfg:     cfg,
		metrics: m,
		logger:  logger,
		now:     time.Now,
	}
}

func (a *RiskAgent) Type() types.AgentType         { return types.AgentRisk }
func (a *RiskAgent) Priority() types.AgentPriority { return types.PriorityHigh }

// Analyze runs the four risk checks and combines them into a score.
func (a *RiskAgent) Analyze(ctx context.Context, ictx *types.IncidentContext) (any, error) {
	// Duplicates never proceed to remediation; no risk call to make.
	if isDuplicateIncident(ictx) {
		return &RiskAnalysis{Skipped: true}, nil
	}

	now := a.now().UTC()

	analysis := &RiskAnalysis{
		ChangeWindowOK:  a.changeWindowOK(now),
		PolicyCompliant: a.policyCompliant(ctx, ictx),
		BlastRadius:     blastRadius(ictx.ResourceType),
	}

	count, err := a.criticalCountThisHour(ctx, now)
	if err != nil {
		// Error budget is advisory; an unreadable store does not block.
		a.logger.Warn("error budget check failed", "correlation_id", ictx.CorrelationID, "error", err)
	} else {
		analysis.CriticalThisHour = count
		analysis.BudgetExhausted = count > a.cfg.ErrorBudgetLimit
	}

	score := 0.0
	if !analysis.ChangeWindowOK {
		score += 0.3
	}
	if !analysis.PolicyCompliant {
		score += 0.4
	}
	if analysis.BudgetExhausted {
		score += 0.2
	}
	switch analysis.BlastRadius {
	case types.BlastLocalized:
		score += 0.1
	case types.BlastRegional:
		score += 0.2
	case types.BlastGlobal:
		score += 0.3
	}
	if score > 1 {
		score = 1
	}
	analysis.RiskScore = score

	analysis.ApprovalRequired = score > 0.5 || !analysis.ChangeWindowOK || !analysis.PolicyCompliant
	analysis.SafeToProceed = score < 0.5 && analysis.ChangeWindowOK && analysis.PolicyCompliant

	// Configured resource types bypass manual approval entirely; the flag
	// also tells remediation to execute plans it would otherwise hold.
	if a.cfg.AutoApproved(ictx.ResourceType) {
		analysis.ApprovalRequired = false
		analysis.AutoApproved = true
	}

	return analysis, nil
}

// Execute persists the risk assessment onto the incident record.
func (a *RiskAgent) Execute(ctx context.Context, ictx *types.IncidentContext, analysis any) (any, error) {
	ra, ok := analysis.(*RiskAnalysis)
	if !ok {
		return nil, fmt.Errorf("unexpected risk analysis type %T", analysis)
	}

	if ra.Skipped {
		return &RiskExecution{}, nil
	}

	updates := map[string]any{
		"risk_assessment": mustMarshal(ra),
	}
	if ra.ApprovalRequired {
		updates["approval_status"] = "required"
	}
	if err := a.store.UpdateIncident(ctx, ictx.CorrelationID, updates); err != nil {
		return nil, fmt.Errorf("failed to persist risk assessment: %w", err)
	}

	if a.metrics != nil {
		a.metrics.RiskScore.Observe(ra.RiskScore)
		if ra.ApprovalRequired {
			a.metrics.ApprovalRequired.Inc()
		}
		if ra.PolicyCompliant {
			a.metrics.PolicyCompliance.Inc()
		}
	}

	return &RiskExecution{Persisted: true}, nil
}

// changeWindowOK reports whether now falls outside all blocked windows.
func (a *RiskAgent) changeWindowOK(now time.Time) bool {
	for _, w := range a.cfg.BlockedWindows {
		if w.Contains(now) {
			return false
		}
	}
	return true
}

// policyCompliant queries the policy collaborator, failing open.
func (a *RiskAgent) policyCompliant(ctx context.Context, ictx *types.IncidentContext) bool {
	if a.policy == nil {
		return true
	}
	compliant, err := a.policy.IsCompliant(ctx, ictx.ResourceType, ictx.ResourceID)
	if err != nil {
		a.logger.Warn("policy check unavailable, failing open",
			"correlation_id", ictx.CorrelationID, "error", err)
		return true
	}
	return compliant
}

// criticalCountThisHour counts CRITICAL incidents since the top of the hour.
func (a *RiskAgent) criticalCountThisHour(ctx context.Context, now time.Time) (int, error) {
	hourStart := now.Truncate(time.Hour)
	return a.store.CountByClassificationSince(ctx, types.ClassCritical, hourStart)
}

// blastRadius is localized by default and regional for data stores. Nothing
// here ever raises it to global.
func blastRadius(resourceType string) types.BlastRadius {
	if dataStoreResourceTypes[resourceType] {
		return types.BlastRegional
	}
	return types.BlastLocalized
}
