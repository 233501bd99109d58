package agents

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nimishmehta8779/aiops-devops-agent/internal/config"
	"github.com/nimishmehta8779/aiops-devops-agent/internal/executors"
	"github.com/nimishmehta8779/aiops-devops-agent/internal/llm"
	"github.com/nimishmehta8779/aiops-devops-agent/internal/metrics"
	"github.com/nimishmehta8779/aiops-devops-agent/internal/storage"
	"github.com/nimishmehta8779/aiops-devops-agent/internal/types"
)

// mutationTimeout bounds each executor dispatch when the step does not carry
// its own timeout.
const mutationTimeout = 300 * time.Second

// RemediationPlan is the remediation agent's analysis payload.
type RemediationPlan struct {
	Runbook          types.Runbook   `json:"runbook"`
	RiskLevel        types.RiskLevel `json:"risk_level"`
	RequiresApproval bool            `json:"requires_approval"`
	RollbackPlan     []string        `json:"rollback_plan,omitempty"`
	LLMGenerated     bool            `json:"llm_generated"`
}

// StepResult is the outcome of one dispatched runbook step.
type StepResult struct {
	StepNumber int    `json:"step_number"`
	ActionType string `json:"action_type"`
	Status     string `json:"status"` // success | failed | skipped
	DispatchID string `json:"dispatch_id,omitempty"`
	Error      string `json:"error,omitempty"`
}

// RemediationExecution is the remediation agent's execution payload.
type RemediationExecution struct {
	Status        string       `json:"status"` // executed | pending_approval | skipped_duplicate
	StepsExecuted int          `json:"steps_executed"`
	StepResults   []StepResult `json:"step_results,omitempty"`
}

// RemediationAgent synthesizes a runbook with the LLM collaborator and, when
// approval is not required, dispatches its steps to the mutation executors
// in order, stopping on the first failure.
type RemediationAgent struct {
	invoker llm.Invoker
	execs   *executors.Set
	store   storage.Store
	cfg     config.RemediationConfig
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewRemediationAgent creates the remediation agent. A nil invoker always
// uses the deterministic fallback plan.
func NewRemediationAgent(invoker llm.Invoker, execs *executors.Set, store storage.Store, cfg config.RemediationConfig, m *metrics.Metrics, logger *slog.Logger) *RemediationAgent {
	if logger == nil {
		logger = slog.Default()
	}
	return &RemediationAgent{
		invoker: invoker,
		execs:   execs,
		store:   store,
		cfg:     cfg,
		metrics: m,
		logger:  logger,
	}
}

func (a *RemediationAgent) Type() types.AgentType         { return types.AgentRemediation }
func (a *RemediationAgent) Priority() types.AgentPriority { return types.PriorityMedium }

// Analyze synthesizes the runbook and decides the approval requirement.
func (a *RemediationAgent) Analyze(ctx context.Context, ictx *types.IncidentContext) (any, error) {
	classification := triageClassification(ictx)

	plan := a.synthesizeRunbook(ctx, ictx)
	plan.RiskLevel = riskLevel(classification, ictx.ResourceType, &plan.Runbook)
	plan.RequiresApproval = plan.RiskLevel == types.RiskHigh ||
		plan.RiskLevel == types.RiskMedium ||
		classification == types.ClassCritical

	return plan, nil
}

// Execute dispatches the runbook. Duplicates skip execution entirely;
// approval-required plans persist a pending state without mutating.
func (a *RemediationAgent) Execute(ctx context.Context, ictx *types.IncidentContext, analysis any) (any, error) {
	plan, ok := analysis.(*RemediationPlan)
	if !ok {
		return nil, fmt.Errorf("unexpected remediation analysis type %T", analysis)
	}

	// Duplicates leave their remediation slots empty alongside telemetry,
	// risk, and communications; the original incident owns the runbook.
	if isDuplicateIncident(ictx) {
		return &RemediationExecution{Status: "skipped_duplicate"}, nil
	}

	approvalRequired := plan.RequiresApproval || riskApprovalRequired(ictx)
	if approvalRequired && riskAutoApproved(ictx) {
		a.logger.Info("risk auto-approval clears the approval requirement",
			"correlation_id", ictx.CorrelationID, "resource_type", ictx.ResourceType)
		approvalRequired = false
	}
	if approvalRequired {
		execution := &RemediationExecution{Status: "pending_approval"}
		updates := map[string]any{
			"approval_status": "pending",
			"approval_request": fmt.Sprintf("Runbook with %d steps for %s requires approval (risk=%s)",
				len(plan.Runbook.Steps), ictx.ResourceKey(), plan.RiskLevel),
		}
		if err := a.persist(ctx, ictx, plan, execution, updates); err != nil {
			return nil, err
		}
		if a.metrics != nil {
			a.metrics.RemediationAttempts.WithLabelValues("pending_approval").Inc()
		}
		return execution, nil
	}

	execution := &RemediationExecution{Status: "executed"}
	for _, step := range plan.Runbook.Steps {
		stepResult := a.dispatchStep(ctx, ictx, step)
		execution.StepResults = append(execution.StepResults, stepResult)
		if stepResult.Status == "success" {
			execution.StepsExecuted++
			if a.metrics != nil {
				a.metrics.StepsExecuted.Inc()
			}
		}
		if stepResult.Status == "failed" {
			execution.Status = "failed"
			break
		}
	}

	if a.metrics != nil {
		a.metrics.RemediationAttempts.WithLabelValues(execution.Status).Inc()
	}
	if err := a.persist(ctx, ictx, plan, execution, nil); err != nil {
		return nil, err
	}
	if execution.Status == "failed" {
		return execution, fmt.Errorf("runbook execution stopped at step %d", execution.StepsExecuted+1)
	}
	return execution, nil
}

// dispatchStep routes one step to its mutation executor.
func (a *RemediationAgent) dispatchStep(ctx context.Context, ictx *types.IncidentContext, step types.RunbookStep) StepResult {
	result := StepResult{
		StepNumber: step.StepNumber,
		ActionType: string(step.ActionType),
	}

	timeout := mutationTimeout
	if step.TimeoutSeconds > 0 {
		timeout = time.Duration(step.TimeoutSeconds) * time.Second
	}
	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var (
		id  string
		err error
	)
	switch step.ActionType {
	case types.ActionImageBuild:
		id, err = a.execs.Builds.StartBuild(stepCtx, a.cfg.BuildProject, map[string]string{
			"CORRELATION_ID": ictx.CorrelationID,
			"RESOURCE_TYPE":  ictx.ResourceType,
		})
	case types.ActionCommandDispatch:
		id, err = a.execs.Commands.Dispatch(stepCtx, step.Command, ictx.ResourceID, nil)
	case types.ActionFunction:
		_, err = a.execs.Functions.Invoke(stepCtx, step.Command, mustMarshal(ictx))
		id = step.Command
	case types.ActionManual:
		result.Status = "skipped"
		return result
	default:
		err = fmt.Errorf("unknown action type %q", step.ActionType)
	}

	if err != nil {
		result.Status = "failed"
		result.Error = err.Error()
		a.logger.Error("runbook step failed",
			"correlation_id", ictx.CorrelationID, "step", step.StepNumber,
			"action", step.ActionType, "error", err)
		return result
	}

	result.Status = "success"
	result.DispatchID = id
	a.logger.Info("runbook step dispatched",
		"correlation_id", ictx.CorrelationID, "step", step.StepNumber,
		"action", step.ActionType, "dispatch_id", id)
	return result
}

func (a *RemediationAgent) persist(ctx context.Context, ictx *types.IncidentContext, plan *RemediationPlan, execution *RemediationExecution, extra map[string]any) error {
	updates := map[string]any{
		"remediation_plan":    mustMarshal(plan),
		"remediation_results": mustMarshal(execution),
	}
	for k, v := range extra {
		updates[k] = v
	}
	if err := a.store.UpdateIncident(ctx, ictx.CorrelationID, updates); err != nil {
		return fmt.Errorf("failed to persist remediation results: %w", err)
	}
	return nil
}

// synthesizeRunbook asks the model for a plan, falling back to a single
// restore-via-image-build step when the model is unavailable or its output
// does not parse.
func (a *RemediationAgent) synthesizeRunbook(ctx context.Context, ictx *types.IncidentContext) *RemediationPlan {
	if a.invoker == nil {
		return fallbackPlan()
	}

	text, err := a.invoker.Invoke(ctx, "runbook", buildRunbookPrompt(ictx), 2048)
	if err != nil {
		a.logger.Warn("runbook synthesis call failed, using fallback plan",
			"correlation_id", ictx.CorrelationID, "error", err)
		return fallbackPlan()
	}

	var plan RemediationPlan
	if err := llm.Parse(text, &plan); err != nil {
		a.logger.Warn("runbook parse failed, using fallback plan",
			"correlation_id", ictx.CorrelationID, "error", err)
		return fallbackPlan()
	}
	if len(plan.Runbook.Steps) == 0 {
		return fallbackPlan()
	}
	for i := range plan.Runbook.Steps {
		if !plan.Runbook.Steps[i].ActionType.IsValid() {
			plan.Runbook.Steps[i].ActionType = types.ActionManual
		}
	}
	plan.LLMGenerated = true
	return &plan
}

// fallbackPlan is the deterministic single-step restore plan.
func fallbackPlan() *RemediationPlan {
	return &RemediationPlan{
		Runbook: types.Runbook{
			Steps: []types.RunbookStep{{
				StepNumber:      1,
				ActionType:      types.ActionImageBuild,
				Description:     "Restore resource from the last known-good image",
				TimeoutSeconds:  600,
				SuccessCriteria: "build completes and resource reports healthy",
			}},
			EstimatedDurationSeconds: 600,
		},
		RollbackPlan: []string{"Stop the restore build", "Page the on-call engineer"},
	}
}

// riskLevel buckets the plan for the approval decision.
func riskLevel(classification types.Classification, resourceType string, runbook *types.Runbook) types.RiskLevel {
	if classification == types.ClassCritical ||
		len(runbook.Steps) > 5 ||
		runbook.EstimatedDurationSeconds > 600 {
		return types.RiskHigh
	}
	if dataStoreResourceTypes[resourceType] {
		return types.RiskMedium
	}
	return types.RiskLow
}

func buildRunbookPrompt(ictx *types.IncidentContext) string {
	details := string(ictx.EventDetails)
	if len(details) > 2000 {
		details = details[:2000]
	}
	return fmt.Sprintf(`You are an infrastructure remediation planner. Produce a recovery
runbook for this incident.

Event name: %s
Resource type: %s
Resource id: %s
Region: %s
Event details: %s

Respond with ONLY a JSON object:
{
  "runbook": {
    "steps": [
      {"step_number": 1, "action_type": "image-build|command-dispatch|function|manual",
       "description": "...", "timeout_seconds": 300, "command": "...", "success_criteria": "..."}
    ],
    "estimated_duration_seconds": 300,
    "prerequisites": []
  },
  "rollback_plan": ["..."]
}

Prefer the fewest steps that restore service. Use "manual" for anything that
needs a human.`,
		ictx.EventName, ictx.ResourceType, ictx.ResourceID, ictx.Region, details)
}

// triageClassification reads the classification from the accumulated triage
// result, defaulting to MEDIUM when triage did not run.
func triageClassification(ictx *types.IncidentContext) types.Classification {
	result, ok := ictx.PreviousAgentResults[types.AgentTriage]
	if !ok || result == nil {
		return types.ClassMedium
	}
	var ta TriageAnalysis
	if err := result.DecodeAnalysis(&ta); err != nil {
		return types.ClassMedium
	}
	return ta.Classification
}

// isDuplicateIncident reads the duplicate flag from the triage result.
func isDuplicateIncident(ictx *types.IncidentContext) bool {
	result, ok := ictx.PreviousAgentResults[types.AgentTriage]
	if !ok || result == nil {
		return false
	}
	var ta TriageAnalysis
	if err := result.DecodeAnalysis(&ta); err != nil {
		return false
	}
	return ta.IsDuplicate
}

// riskApprovalRequired reads the approval flag from the risk result.
func riskApprovalRequired(ictx *types.IncidentContext) bool {
	result, ok := ictx.PreviousAgentResults[types.AgentRisk]
	if !ok || result == nil {
		return false
	}
	var ra RiskAnalysis
	if err := result.DecodeAnalysis(&ra); err != nil {
		return false
	}
	return ra.ApprovalRequired
}

// riskAutoApproved reads the auto-approval override from the risk result.
// Plans the risk agent waved through execute regardless of their own risk
// level.
func riskAutoApproved(ictx *types.IncidentContext) bool {
	result, ok := ictx.PreviousAgentResults[types.AgentRisk]
	if !ok || result == nil {
		return false
	}
	var ra RiskAnalysis
	if err := result.DecodeAnalysis(&ra); err != nil {
		return false
	}
	return ra.AutoApproved
}
