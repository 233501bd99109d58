package agents

import (
	"context"
	"log/slog"
	"sort"

	"github.com/nimishmehta8779/aiops-devops-agent/internal/types"
)

// Coordinator runs a set of agents against one incident, sequentially in
// priority order. Each agent observes all earlier agents' results through
// the accumulated context.
type Coordinator struct {
	logger *slog.Logger
}

// NewCoordinator creates an agent coordinator.
func NewCoordinator(logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{logger: logger}
}

// Run executes the agents stable-sorted by priority ascending. A FAILED
// result with critical_failure=true stops the pass; any other failure lets
// subsequent agents run.
//
// Prior results from an earlier pass may be threaded through ictx's
// PreviousAgentResults; this pass extends that accumulation.
func (c *Coordinator) Run(ctx context.Context, ictx *types.IncidentContext, agentList []Agent) *types.CoordinationResult {
	ordered := make([]Agent, len(agentList))
	copy(ordered, agentList)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority() < ordered[j].Priority()
	})

	result := &types.CoordinationResult{
		CorrelationID: ictx.CorrelationID,
		AgentResults:  make(map[types.AgentType]*types.AgentResult, len(ordered)),
		TotalAgents:   len(ordered),
	}

	accumulated := make(map[types.AgentType]*types.AgentResult, len(ordered)+len(ictx.PreviousAgentResults))
	for agentType, prior := range ictx.PreviousAgentResults {
		accumulated[agentType] = prior
	}

	for _, agent := range ordered {
		enhanced := *ictx
		enhanced.PreviousAgentResults = accumulated

		agentResult := Run(ctx, agent, &enhanced, c.logger)

		result.ExecutionOrder = append(result.ExecutionOrder, agent.Type())
		result.AgentResults[agent.Type()] = agentResult
		accumulated[agent.Type()] = agentResult

		switch agentResult.Status {
		case types.AgentStatusSuccess:
			result.SuccessfulAgents++
		default:
			result.FailedAgents++
		}

		if agentResult.Status == types.AgentStatusFailed && agentResult.CriticalFailure {
			c.logger.Error("critical agent failure, stopping coordination",
				"agent", agent.Type(), "correlation_id", ictx.CorrelationID,
				"error", agentResult.Error)
			break
		}
	}

	c.logger.Info("agent coordination complete",
		"correlation_id", ictx.CorrelationID,
		"total", result.TotalAgents,
		"successful", result.SuccessfulAgents,
		"failed", result.FailedAgents)

	return result
}
