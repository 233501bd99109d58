// Package agents implements the five specialized incident agents and the
// coordinator that runs them in priority order. Agents fail soft: errors
// become FAILED results, never workflow aborts.
package agents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nimishmehta8779/aiops-devops-agent/internal/types"
)

// Agent is the contract every specialized agent implements. Analyze may
// perform read-only I/O against collaborators but must not mutate
// infrastructure or the incident store; Execute may do both and persists its
// own result.
type Agent interface {
	Type() types.AgentType
	Priority() types.AgentPriority
	Analyze(ctx context.Context, ictx *types.IncidentContext) (any, error)
	Execute(ctx context.Context, ictx *types.IncidentContext, analysis any) (any, error)
}

// errCritical marks an agent error that demands the coordinator stop.
type errCritical struct {
	err error
}

func (e *errCritical) Error() string { return e.err.Error() }
func (e *errCritical) Unwrap() error { return e.err }

// Critical wraps err so the resulting agent failure carries
// critical_failure=true.
func Critical(err error) error {
	return &errCritical{err: err}
}

// Run wraps an agent's analyze and execute phases: it records timing,
// converts errors into a FAILED result, and returns the combined result.
// Panics inside an agent are also converted, not propagated.
func Run(ctx context.Context, agent Agent, ictx *types.IncidentContext, logger *slog.Logger) *types.AgentResult {
	return RunPhased(ctx, agent, ictx, logger, nil)
}

// RunPhased is Run with a hook between the analyze and execute phases. The
// workflow engine uses it to persist a state transition once the analysis is
// in hand. A hook error fails the result without running execute.
func RunPhased(ctx context.Context, agent Agent, ictx *types.IncidentContext, logger *slog.Logger, between func(analysis any) error) (result *types.AgentResult) {
	start := time.Now()
	result = &types.AgentResult{
		AgentType: agent.Type(),
		Status:    types.AgentStatusRunning,
	}

	defer func() {
		result.DurationSeconds = time.Since(start).Seconds()
		if r := recover(); r != nil {
			result.Status = types.AgentStatusFailed
			result.Error = fmt.Sprintf("panic: %v", r)
			logger.Error("agent panicked",
				"agent", agent.Type(), "correlation_id", ictx.CorrelationID, "panic", r)
		}
	}()

	logger.Info("agent starting",
		"agent", agent.Type(), "priority", agent.Priority().String(),
		"correlation_id", ictx.CorrelationID)

	analysis, err := agent.Analyze(ctx, ictx)
	if analysis != nil {
		result.Analysis = mustMarshal(analysis)
	}
	if err != nil {
		fail(result, err)
		logger.Warn("agent analyze failed",
			"agent", agent.Type(), "correlation_id", ictx.CorrelationID, "error", err)
		return result
	}

	if between != nil {
		if err := between(analysis); err != nil {
			fail(result, err)
			return result
		}
	}

	execution, err := agent.Execute(ctx, ictx, analysis)
	if execution != nil {
		result.Execution = mustMarshal(execution)
	}
	if err != nil {
		fail(result, err)
		logger.Warn("agent execute failed",
			"agent", agent.Type(), "correlation_id", ictx.CorrelationID, "error", err)
		return result
	}

	result.Status = types.AgentStatusSuccess
	logger.Info("agent finished",
		"agent", agent.Type(), "correlation_id", ictx.CorrelationID,
		"duration", time.Since(start).Round(time.Millisecond))
	return result
}

func fail(result *types.AgentResult, err error) {
	result.Status = types.AgentStatusFailed
	result.Error = err.Error()
	var crit *errCritical
	if errors.As(err, &crit) {
		result.CriticalFailure = true
	}
	if errors.Is(err, types.ErrDeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		result.Error = "deadline_exceeded"
	}
}

// mustMarshal encodes an agent payload. Agent payloads are plain structs and
// maps; a marshal failure is a programming error surfaced as a JSON error
// blob rather than a panic.
func mustMarshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(fmt.Sprintf(`{"marshal_error":%q}`, err.Error()))
	}
	return data
}
