// Package workflow drives each incident through the recovery state machine:
// DETECTING through ANALYZING, PLANNING, EXECUTING, and VERIFYING to a
// terminal state. The engine is the only component that sets terminal state.
package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"github.com/nimishmehta8779/aiops-devops-agent/internal/agents"
	"github.com/nimishmehta8779/aiops-devops-agent/internal/config"
	"github.com/nimishmehta8779/aiops-devops-agent/internal/dedup"
	"github.com/nimishmehta8779/aiops-devops-agent/internal/llm"
	"github.com/nimishmehta8779/aiops-devops-agent/internal/metrics"
	"github.com/nimishmehta8779/aiops-devops-agent/internal/notify"
	"github.com/nimishmehta8779/aiops-devops-agent/internal/storage"
	"github.com/nimishmehta8779/aiops-devops-agent/internal/types"
)

// Termination reasons recorded on the incident.
const (
	ReasonLowConfidence    = "low_confidence"
	ReasonNoRecoveryNeeded = "no_recovery_needed"
	ReasonDeadlineExceeded = "deadline_exceeded"
	ReasonAgentFailures    = "agent_failures"
	ReasonVerifyFailed     = "verification_failed"
)

// Verifier runs optional post-execute success checks. When no verifier is
// configured the workflow skips VERIFYING entirely.
type Verifier interface {
	Verify(ctx context.Context, ictx *types.IncidentContext) (bool, error)
}

// TimelineEntry records one state transition for the outcome.
type TimelineEntry struct {
	State types.WorkflowState `json:"state"`
	At    time.Time           `json:"at"`
}

// Outcome summarizes one incident's trip through the workflow.
type Outcome struct {
	CorrelationID  string                    `json:"correlation_id"`
	FinalState     types.WorkflowState       `json:"final_state"`
	Suppressed     bool                      `json:"suppressed,omitempty"`
	CooldownReason string                    `json:"cooldown_reason,omitempty"`
	RecoveryNeeded bool                      `json:"recovery_needed"`
	Reason         string                    `json:"reason,omitempty"`
	Confidence     float64                   `json:"confidence,omitempty"`
	Classification types.EventClassification `json:"classification,omitempty"`
	Coordination   *types.CoordinationResult `json:"coordination,omitempty"`
	Timeline       []TimelineEntry           `json:"timeline"`
	StageDurations map[string]float64        `json:"stage_durations,omitempty"`
}

// Engine owns incident processing end to end. One engine serves the whole
// process; each ProcessEvent call is self-contained and safe to run
// concurrently with others.
type Engine struct {
	store       storage.Store
	gate        *dedup.Gate
	classifier  *llm.Classifier
	coordinator *agents.Coordinator

	triage      agents.Agent
	telemetry   agents.Agent
	risk        agents.Agent
	remediation agents.Agent
	comms       agents.Agent

	verifier  Verifier
	broadcast notify.Broadcaster
	metrics   *metrics.Metrics
	cfg       *config.Config
	logger    *slog.Logger
	now       func() time.Time
}

// Deps bundles the engine's collaborators.
type Deps struct {
	Store       storage.Store
	Gate        *dedup.Gate
	Classifier  *llm.Classifier
	Coordinator *agents.Coordinator

	Triage      agents.Agent
	Telemetry   agents.Agent
	Risk        agents.Agent
	Remediation agents.Agent
	Comms       agents.Agent

	// Verifier is optional; nil skips the VERIFYING state.
	Verifier Verifier

	// Broadcast carries the minimal last-resort notification when the
	// communications agent itself fails.
	Broadcast notify.Broadcaster

	Metrics *metrics.Metrics
	Config  *config.Config
	Logger  *slog.Logger
}

// New creates a workflow engine.
func New(deps Deps) *Engine {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:       deps.Store,
		gate:        deps.Gate,
		classifier:  deps.Classifier,
		coordinator: deps.Coordinator,
		triage:      deps.Triage,
		telemetry:   deps.Telemetry,
		risk:        deps.Risk,
		remediation: deps.Remediation,
		comms:       deps.Comms,
		verifier:    deps.Verifier,
		broadcast:   deps.Broadcast,
		metrics:     deps.Metrics,
		cfg:         deps.Config,
		logger:      logger,
		now:         time.Now,
	}
}

// run tracks one incident's pass through the engine.
type run struct {
	ictx    *types.IncidentContext
	outcome *Outcome
	state   types.WorkflowState
	started time.Time

	// accumulated agent results across coordinator passes
	results    map[types.AgentType]*types.AgentResult
	total      int
	successful int
	failed     int
}

// ProcessEvent drives one normalized incident through the full workflow and
// returns its outcome. The per-incident deadline applies to everything
// inside; on expiry the current agent is abandoned and the incident fails.
func (e *Engine) ProcessEvent(ctx context.Context, ictx *types.IncidentContext) (*Outcome, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.IncidentDeadline())
	defer cancel()

	r := &run{
		ictx:    ictx,
		started: e.now().UTC(),
		state:   types.StateDetecting,
		results: make(map[types.AgentType]*types.AgentResult),
		outcome: &Outcome{CorrelationID: ictx.CorrelationID},
	}
	r.outcome.Timeline = append(r.outcome.Timeline, TimelineEntry{State: types.StateDetecting, At: r.started})

	if err := e.createIncident(ctx, r); err != nil {
		return nil, err
	}

	suppressed, err := e.applyCooldown(ctx, r)
	if err != nil {
		return nil, err
	}
	if suppressed {
		return r.outcome, nil
	}

	// Event-level classification seeds the confidence gate; completed
	// incidents on the same resource type give the model history to
	// judge against.
	history := e.gate.SimilarIncidents(ctx, ictx.ResourceType, "")
	verdict := e.classifier.Classify(ctx, ictx, history)
	r.outcome.Confidence = verdict.Confidence
	r.outcome.Classification = verdict.Classification
	if err := e.store.UpdateIncident(ctx, ictx.CorrelationID, map[string]any{
		"confidence": verdict.Confidence,
	}); err != nil {
		e.logger.Warn("failed to persist classification confidence",
			"correlation_id", ictx.CorrelationID, "error", err)
	}

	if err := e.transition(ctx, r, types.StateAnalyzing, nil); err != nil {
		return nil, err
	}

	e.runPass(ctx, r, []agents.Agent{e.triage, e.telemetry, e.risk})

	if ctx.Err() != nil {
		return r.outcome, e.finishDeadline(r)
	}

	// Confidence gate: a low-confidence FAILURE or TAMPERING verdict goes
	// to manual review instead of automated recovery. Confidence exactly
	// at the threshold passes.
	if verdict.Classification.RequiresRecovery() && verdict.Confidence < e.cfg.ConfidenceThreshold {
		e.runPass(ctx, r, []agents.Agent{e.comms})
		return r.outcome, e.finish(r, types.StateCompleted, false, ReasonLowConfidence)
	}

	if !verdict.Classification.RequiresRecovery() {
		e.runPass(ctx, r, []agents.Agent{e.comms})
		return r.outcome, e.finish(r, types.StateCompleted, false, ReasonNoRecoveryNeeded)
	}

	if err := e.transition(ctx, r, types.StatePlanning, nil); err != nil {
		return nil, err
	}

	e.runRemediation(ctx, r)

	if ctx.Err() != nil {
		return r.outcome, e.finishDeadline(r)
	}

	verified := e.runVerification(ctx, r)

	e.runPass(ctx, r, []agents.Agent{e.comms})

	if ctx.Err() != nil {
		return r.outcome, e.finishDeadline(r)
	}

	if !verified {
		return r.outcome, e.finish(r, types.StateFailed, true, ReasonVerifyFailed)
	}
	if r.successful < r.total {
		return r.outcome, e.finish(r, types.StateFailed, true, ReasonAgentFailures)
	}
	return r.outcome, e.finish(r, types.StateCompleted, true, "")
}

// createIncident persists the initial DETECTING record.
func (e *Engine) createIncident(ctx context.Context, r *run) error {
	now := e.now().UTC()
	eventTime := r.ictx.EventTime
	if eventTime.IsZero() {
		eventTime = now
	}
	inc := &types.Incident{
		CorrelationID:     r.ictx.CorrelationID,
		IncidentTimestamp: eventTime,
		ResourceType:      r.ictx.ResourceType,
		ResourceID:        r.ictx.ResourceID,
		ResourceKey:       r.ictx.ResourceKey(),
		Region:            r.ictx.Region,
		WorkflowState:     types.StateDetecting,
		EventDetails:      r.ictx.EventDetails,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := e.withRetry(ctx, "put incident", func() error {
		return e.store.Put(ctx, inc)
	}); err != nil {
		return fmt.Errorf("failed to create incident %s: %w", r.ictx.CorrelationID, err)
	}
	return nil
}

// applyCooldown runs the gate; a suppressed incident terminates here.
func (e *Engine) applyCooldown(ctx context.Context, r *run) (bool, error) {
	gateResult, err := e.gate.Check(ctx, &types.Incident{
		CorrelationID: r.ictx.CorrelationID,
		ResourceKey:   r.ictx.ResourceKey(),
		WorkflowState: types.StateDetecting,
	})
	if err != nil {
		return false, fmt.Errorf("cooldown gate failed for %s: %w", r.ictx.CorrelationID, err)
	}
	if !gateResult.Suppressed {
		return false, nil
	}

	r.state = types.StateCooldown
	r.outcome.Suppressed = true
	r.outcome.CooldownReason = gateResult.CooldownReason
	r.outcome.FinalState = types.StateCooldown
	r.outcome.Timeline = append(r.outcome.Timeline, TimelineEntry{State: types.StateCooldown, At: e.now().UTC()})
	e.emitIncidentMetrics(r, "false")
	return true, nil
}

// runPass executes one coordinator pass and folds its counts into the run.
func (e *Engine) runPass(ctx context.Context, r *run, pass []agents.Agent) {
	r.ictx.PreviousAgentResults = r.results
	coord := e.coordinator.Run(ctx, r.ictx, pass)
	for agentType, result := range coord.AgentResults {
		r.results[agentType] = result
	}
	r.total += coord.TotalAgents
	r.successful += coord.SuccessfulAgents
	r.failed += coord.FailedAgents
	e.mergeCoordination(r, coord)
}

// runRemediation runs the remediation agent with the PLANNING to EXECUTING
// transition between its analyze and execute phases.
func (e *Engine) runRemediation(ctx context.Context, r *run) {
	r.ictx.PreviousAgentResults = r.results
	result := agents.RunPhased(ctx, e.remediation, r.ictx, e.logger, func(any) error {
		return e.transition(ctx, r, types.StateExecuting, nil)
	})
	r.results[e.remediation.Type()] = result
	r.total++
	if result.Status == types.AgentStatusSuccess {
		r.successful++
	} else {
		r.failed++
	}
	if r.outcome.Coordination != nil {
		r.outcome.Coordination.ExecutionOrder = append(r.outcome.Coordination.ExecutionOrder, e.remediation.Type())
		r.outcome.Coordination.AgentResults[e.remediation.Type()] = result
	}
}

// runVerification enters VERIFYING only when a verifier is configured and
// the runbook actually executed. Returns false only on a definitive
// verification failure.
func (e *Engine) runVerification(ctx context.Context, r *run) bool {
	if e.verifier == nil || r.state != types.StateExecuting {
		return true
	}
	remResult := r.results[types.AgentRemediation]
	if remResult == nil || remResult.Status != types.AgentStatusSuccess {
		return true
	}
	var execution agents.RemediationExecution
	if len(remResult.Execution) == 0 || json.Unmarshal(remResult.Execution, &execution) != nil {
		return true
	}
	if execution.Status != "executed" {
		return true
	}

	if err := e.transition(ctx, r, types.StateVerifying, nil); err != nil {
		e.logger.Warn("failed to enter verification", "correlation_id", r.ictx.CorrelationID, "error", err)
		return true
	}
	ok, err := e.verifier.Verify(ctx, r.ictx)
	if err != nil {
		// An unavailable verifier is not a failed verification.
		e.logger.Warn("verification errored", "correlation_id", r.ictx.CorrelationID, "error", err)
		return true
	}
	return ok
}

// transition persists a state change, enforcing the state machine edges.
func (e *Engine) transition(ctx context.Context, r *run, to types.WorkflowState, updates map[string]any) error {
	if !r.state.CanTransitionTo(to) {
		return types.Permanent(fmt.Errorf("illegal transition %s -> %s for %s", r.state, to, r.ictx.CorrelationID))
	}
	if err := e.withRetry(ctx, "state transition", func() error {
		return e.store.UpdateState(ctx, r.ictx.CorrelationID, to, updates)
	}); err != nil {
		return fmt.Errorf("failed to transition %s to %s: %w", r.ictx.CorrelationID, to, err)
	}
	e.logger.Info("workflow state transition",
		"correlation_id", r.ictx.CorrelationID, "from", r.state, "to", to)
	r.state = to
	r.outcome.Timeline = append(r.outcome.Timeline, TimelineEntry{State: to, At: e.now().UTC()})
	return nil
}

// finish persists the terminal state and emits the engine metrics.
func (e *Engine) finish(r *run, to types.WorkflowState, recoveryNeeded bool, reason string) error {
	success := to == types.StateCompleted
	now := e.now().UTC()
	duration := now.Sub(r.started).Seconds()
	r.outcome.StageDurations = stageDurations(r.outcome.Timeline, now)

	updates := map[string]any{
		"recovery_needed":           recoveryNeeded,
		"success":                   success,
		"recovery_duration_seconds": duration,
	}
	if reason != "" {
		updates["reason"] = reason
	}
	if blob, err := json.Marshal(r.outcome.StageDurations); err == nil {
		updates["stage_durations"] = json.RawMessage(blob)
	}

	// Terminal persistence runs on a fresh context: the incident deadline
	// must not strand a finished incident in a non-terminal state.
	finishCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := e.transition(finishCtx, r, to, updates); err != nil {
		return err
	}

	r.outcome.FinalState = to
	r.outcome.RecoveryNeeded = recoveryNeeded
	r.outcome.Reason = reason
	e.emitIncidentMetrics(r, fmt.Sprintf("%t", success))
	e.notifyOnCommsFailure(finishCtx, r, to)

	e.logger.Info("incident finished",
		"correlation_id", r.ictx.CorrelationID, "final_state", to,
		"reason", reason, "duration_seconds", duration)
	return nil
}

// stageDurations derives per-state dwell times from the timeline. Each
// stage runs until the next transition; the last entry runs until now.
func stageDurations(timeline []TimelineEntry, now time.Time) map[string]float64 {
	out := make(map[string]float64, len(timeline))
	for i, entry := range timeline {
		end := now
		if i+1 < len(timeline) {
			end = timeline[i+1].At
		}
		out[strings.ToLower(string(entry.State))] += end.Sub(entry.At).Seconds()
	}
	return out
}

// finishDeadline handles per-incident deadline expiry.
func (e *Engine) finishDeadline(r *run) error {
	e.logger.Error("incident deadline exceeded", "correlation_id", r.ictx.CorrelationID)
	return e.finish(r, types.StateFailed, true, ReasonDeadlineExceeded)
}

func (e *Engine) mergeCoordination(r *run, coord *types.CoordinationResult) {
	if r.outcome.Coordination == nil {
		r.outcome.Coordination = coord
		return
	}
	existing := r.outcome.Coordination
	existing.ExecutionOrder = append(existing.ExecutionOrder, coord.ExecutionOrder...)
	for agentType, result := range coord.AgentResults {
		existing.AgentResults[agentType] = result
	}
	existing.TotalAgents = r.total
	existing.SuccessfulAgents = r.successful
	existing.FailedAgents = r.failed
}

func (e *Engine) emitIncidentMetrics(r *run, success string) {
	if e.metrics == nil {
		return
	}
	classification := "unclassified"
	if result := r.results[types.AgentTriage]; result != nil {
		var ta agents.TriageAnalysis
		if err := result.DecodeAnalysis(&ta); err == nil {
			classification = string(ta.Classification)
		}
	}
	e.metrics.IncidentCount.WithLabelValues(r.ictx.ResourceType, classification).Inc()
	if !r.outcome.Suppressed {
		e.metrics.RecoveryDuration.WithLabelValues(r.ictx.ResourceType, success).
			Observe(e.now().UTC().Sub(r.started).Seconds())
	}
}

// notifyOnCommsFailure sends the minimal broadcast when the communications
// agent itself failed.
func (e *Engine) notifyOnCommsFailure(ctx context.Context, r *run, finalState types.WorkflowState) {
	commsResult := r.results[types.AgentCommunications]
	if commsResult == nil || commsResult.Status != types.AgentStatusFailed || e.broadcast == nil {
		return
	}
	body := fmt.Sprintf(`{"correlation_id":%q,"final_state":%q,"error":%q}`,
		r.ictx.CorrelationID, finalState, commsResult.Error)
	if err := e.broadcast.Broadcast(ctx, "incident notification failure", body); err != nil {
		e.logger.Error("minimal broadcast failed", "correlation_id", r.ictx.CorrelationID, "error", err)
	}
}

// withRetry retries transient store failures with exponential backoff and
// jitter: 3 attempts, base 1s, factor 2.
func (e *Engine) withRetry(ctx context.Context, operation string, fn func() error) error {
	var lastErr error
	backoff := time.Second

	for attempt := 0; attempt < 3; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !types.IsRetryable(err) {
			return err
		}
		if attempt == 2 {
			break
		}

		sleep := backoff + time.Duration(rand.Int63n(int64(backoff/2)))
		e.logger.Warn("retrying after transient failure",
			"operation", operation, "attempt", attempt+1, "backoff", sleep, "error", err)
		select {
		case <-time.After(sleep):
			backoff *= 2
		case <-ctx.Done():
			return fmt.Errorf("%s canceled during backoff: %w", operation, ctx.Err())
		}
	}
	return fmt.Errorf("%s failed after 3 attempts: %w", operation, lastErr)
}
