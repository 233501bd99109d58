package types

import (
	"encoding/json"
	"fmt"
)

// AgentType identifies one of the five specialized agents.
type AgentType string

const (
	AgentTriage         AgentType = "triage"
	AgentTelemetry      AgentType = "telemetry"
	AgentRemediation    AgentType = "remediation"
	AgentRisk           AgentType = "risk"
	AgentCommunications AgentType = "comms"
)

// IsValid checks if the agent type value is valid.
func (t AgentType) IsValid() bool {
	switch t {
	case AgentTriage, AgentTelemetry, AgentRemediation, AgentRisk, AgentCommunications:
		return true
	}
	return false
}

// AgentPriority orders agent execution within an incident. Lower runs first.
type AgentPriority int

const (
	PriorityCritical AgentPriority = 1
	PriorityHigh     AgentPriority = 2
	PriorityMedium   AgentPriority = 3
	PriorityLow      AgentPriority = 4
)

func (p AgentPriority) String() string {
	switch p {
	case PriorityCritical:
		return "CRITICAL"
	case PriorityHigh:
		return "HIGH"
	case PriorityMedium:
		return "MEDIUM"
	case PriorityLow:
		return "LOW"
	default:
		return fmt.Sprintf("AgentPriority(%d)", int(p))
	}
}

// AgentStatus is the execution status recorded in an agent result.
type AgentStatus string

const (
	AgentStatusPending AgentStatus = "pending"
	AgentStatusRunning AgentStatus = "running"
	AgentStatusSuccess AgentStatus = "success"
	AgentStatusFailed  AgentStatus = "failed"
	AgentStatusSkipped AgentStatus = "skipped"
)

// AgentResult is the outcome of one agent run. Agents never abort the
// workflow; failures are converted into a FAILED result and the coordinator
// decides how to proceed.
type AgentResult struct {
	AgentType       AgentType       `json:"agent_type"`
	Status          AgentStatus     `json:"status"`
	Analysis        json.RawMessage `json:"analysis,omitempty"`
	Execution       json.RawMessage `json:"execution,omitempty"`
	Error           string          `json:"error,omitempty"`
	DurationSeconds float64         `json:"duration_seconds"`

	// CriticalFailure demands the coordinator stop running further agents.
	CriticalFailure bool `json:"critical_failure,omitempty"`
}

// DecodeAnalysis unmarshals the analysis blob into out. Returns an error if
// the agent produced no analysis.
func (r *AgentResult) DecodeAnalysis(out any) error {
	if len(r.Analysis) == 0 {
		return fmt.Errorf("%s agent produced no analysis", r.AgentType)
	}
	if err := json.Unmarshal(r.Analysis, out); err != nil {
		return fmt.Errorf("failed to decode %s analysis: %w", r.AgentType, err)
	}
	return nil
}

// CoordinationResult summarizes a full coordinator pass over one incident.
type CoordinationResult struct {
	CorrelationID    string                     `json:"correlation_id"`
	ExecutionOrder   []AgentType                `json:"execution_order"`
	AgentResults     map[AgentType]*AgentResult `json:"agent_results"`
	TotalAgents      int                        `json:"total_agents"`
	SuccessfulAgents int                        `json:"successful_agents"`
	FailedAgents     int                        `json:"failed_agents"`
}

// AllSucceeded reports whether every requested agent returned SUCCESS.
func (r *CoordinationResult) AllSucceeded() bool {
	return r.TotalAgents > 0 && r.SuccessfulAgents == r.TotalAgents
}

// RunbookStep is one ordered step of a remediation runbook.
type RunbookStep struct {
	StepNumber      int        `json:"step_number"`
	ActionType      ActionType `json:"action_type"`
	Description     string     `json:"description"`
	TimeoutSeconds  int        `json:"timeout_seconds"`
	Command         string     `json:"command,omitempty"`
	SuccessCriteria string     `json:"success_criteria,omitempty"`
}

// ActionType dispatches a runbook step to a mutation executor.
type ActionType string

const (
	ActionImageBuild      ActionType = "image-build"
	ActionCommandDispatch ActionType = "command-dispatch"
	ActionFunction        ActionType = "function"
	ActionManual          ActionType = "manual"
)

// IsValid checks if the action type value is valid.
func (a ActionType) IsValid() bool {
	switch a {
	case ActionImageBuild, ActionCommandDispatch, ActionFunction, ActionManual:
		return true
	}
	return false
}

// Runbook is the ordered recovery plan produced by the remediation agent.
type Runbook struct {
	Steps                    []RunbookStep `json:"steps"`
	EstimatedDurationSeconds int           `json:"estimated_duration_seconds"`
	Prerequisites            []string      `json:"prerequisites,omitempty"`
}

// RiskLevel is the remediation agent's qualitative risk bucket.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// BlastRadius is the qualitative reach of an incident or change.
type BlastRadius string

const (
	BlastLocalized BlastRadius = "localized"
	BlastRegional  BlastRadius = "regional"
	BlastGlobal    BlastRadius = "global"
)
