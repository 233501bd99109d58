package types

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Incident is the root entity of the orchestrator. One incident is created
// per accepted infrastructure event and tracked through the workflow state
// machine until it reaches a terminal state.
type Incident struct {
	CorrelationID     string          `json:"correlation_id"`
	IncidentTimestamp time.Time       `json:"incident_timestamp"`
	ResourceType      string          `json:"resource_type"`
	ResourceID        string          `json:"resource_id"`
	ResourceKey       string          `json:"resource_key"` // "{type}#{id}"
	Region            string          `json:"region"`
	Fingerprint       string          `json:"fingerprint,omitempty"` // 64-hex, set during triage
	WorkflowState     WorkflowState   `json:"workflow_state"`
	Classification    string          `json:"event_classification,omitempty"`
	Confidence        float64         `json:"confidence,omitempty"`
	Severity          int             `json:"severity,omitempty"`
	EventDetails      json.RawMessage `json:"event_details,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`

	// Agent result slots, each written at most once.
	TriageResults      json.RawMessage `json:"triage_results,omitempty"`
	TelemetryResults   json.RawMessage `json:"telemetry_results,omitempty"`
	RiskAssessment     json.RawMessage `json:"risk_assessment,omitempty"`
	RemediationPlan    json.RawMessage `json:"remediation_plan,omitempty"`
	RemediationResults json.RawMessage `json:"remediation_results,omitempty"`
	CommunicationLog   json.RawMessage `json:"communication_log,omitempty"`

	DuplicateOf     string `json:"duplicate_of,omitempty"`
	CooldownReason  string `json:"cooldown_reason,omitempty"`
	ApprovalStatus  string `json:"approval_status,omitempty"`
	ApprovalRequest string `json:"approval_request,omitempty"`

	RecoveryNeeded          *bool           `json:"recovery_needed,omitempty"`
	Reason                  string          `json:"reason,omitempty"`
	Success                 *bool           `json:"success,omitempty"`
	RecoveryDurationSeconds float64         `json:"recovery_duration_seconds,omitempty"`
	StageDurations          json.RawMessage `json:"stage_durations,omitempty"` // state -> seconds
}

// Validate checks if the incident has valid field values.
func (i *Incident) Validate() error {
	if i.CorrelationID == "" {
		return fmt.Errorf("correlation_id is required")
	}
	if i.ResourceType == "" {
		return fmt.Errorf("resource_type is required")
	}
	if i.ResourceID == "" {
		return fmt.Errorf("resource_id is required")
	}
	if i.ResourceKey != ResourceKey(i.ResourceType, i.ResourceID) {
		return fmt.Errorf("resource_key %q does not match %q", i.ResourceKey, ResourceKey(i.ResourceType, i.ResourceID))
	}
	if !i.WorkflowState.IsValid() {
		return fmt.Errorf("invalid workflow state: %s", i.WorkflowState)
	}
	if i.Fingerprint != "" && len(i.Fingerprint) != 64 {
		return fmt.Errorf("fingerprint must be 64 hex characters (got %d)", len(i.Fingerprint))
	}
	if i.UpdatedAt.Before(i.CreatedAt) {
		return fmt.Errorf("updated_at precedes created_at")
	}
	return nil
}

// ResourceKey builds the composite secondary index key "{type}#{id}".
func ResourceKey(resourceType, resourceID string) string {
	return resourceType + "#" + resourceID
}

// NewCorrelationID generates a new incident correlation id.
func NewCorrelationID() string {
	return "incident-" + uuid.New().String()
}

// WorkflowState represents the current state of an incident in the
// recovery workflow.
type WorkflowState string

const (
	StateDetecting WorkflowState = "DETECTING"
	StateAnalyzing WorkflowState = "ANALYZING"
	StatePlanning  WorkflowState = "PLANNING"
	StateExecuting WorkflowState = "EXECUTING"
	StateVerifying WorkflowState = "VERIFYING"
	StateCompleted WorkflowState = "COMPLETED"
	StateFailed    WorkflowState = "FAILED"
	StateCooldown  WorkflowState = "COOLDOWN"
)

// IsValid checks if the workflow state value is valid.
func (s WorkflowState) IsValid() bool {
	switch s {
	case StateDetecting, StateAnalyzing, StatePlanning, StateExecuting,
		StateVerifying, StateCompleted, StateFailed, StateCooldown:
		return true
	}
	return false
}

// IsTerminal reports whether the state admits no further transitions.
func (s WorkflowState) IsTerminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCooldown:
		return true
	}
	return false
}

// ValidTransitions defines the legal edges of the workflow state machine.
//
// State Machine Diagram:
//
//	DETECTING → ANALYZING → PLANNING → EXECUTING → VERIFYING → COMPLETED
//	    ↓           ↓           ↓           ↓
//	COOLDOWN      FAILED      FAILED      FAILED
//
// ANALYZING may close out directly to COMPLETED (no-recovery and
// low-confidence outcomes), and EXECUTING may skip VERIFYING when no
// verifier is configured.
func (s WorkflowState) ValidTransitions() []WorkflowState {
	switch s {
	case StateDetecting:
		return []WorkflowState{StateAnalyzing, StateCooldown, StateFailed}
	case StateAnalyzing:
		return []WorkflowState{StatePlanning, StateCompleted, StateFailed}
	case StatePlanning:
		return []WorkflowState{StateExecuting, StateCompleted, StateFailed}
	case StateExecuting:
		return []WorkflowState{StateVerifying, StateCompleted, StateFailed}
	case StateVerifying:
		return []WorkflowState{StateCompleted, StateFailed}
	default:
		return nil // terminal states
	}
}

// CanTransitionTo checks if a transition from this state to the target is legal.
func (s WorkflowState) CanTransitionTo(target WorkflowState) bool {
	for _, valid := range s.ValidTransitions() {
		if valid == target {
			return true
		}
	}
	return false
}

// EventClassification is the LLM-level classification of the raw event,
// distinct from the triage classification bucket.
type EventClassification string

const (
	ClassificationFailure   EventClassification = "FAILURE"
	ClassificationTampering EventClassification = "TAMPERING"
	ClassificationAnomaly   EventClassification = "ANOMALY"
	ClassificationNormal    EventClassification = "NORMAL"
)

// RequiresRecovery reports whether this classification triggers the
// planning and execution stages.
func (c EventClassification) RequiresRecovery() bool {
	return c == ClassificationFailure || c == ClassificationTampering
}

// Classification is the categorical severity bucket produced by triage.
type Classification string

const (
	ClassCritical Classification = "CRITICAL"
	ClassHigh     Classification = "HIGH"
	ClassMedium   Classification = "MEDIUM"
	ClassLow      Classification = "LOW"
	ClassInfo     Classification = "INFO"
)

// ClassifySeverity maps a 1-10 severity score to its classification bucket.
func ClassifySeverity(score int) Classification {
	switch {
	case score >= 9:
		return ClassCritical
	case score >= 7:
		return ClassHigh
	case score >= 5:
		return ClassMedium
	case score >= 3:
		return ClassLow
	default:
		return ClassInfo
	}
}

// SeverityScore converts a classification back to a representative severity,
// used when blending historical incident severities into a new score.
func (c Classification) SeverityScore() int {
	switch c {
	case ClassCritical:
		return 10
	case ClassHigh:
		return 8
	case ClassMedium:
		return 5
	case ClassLow:
		return 3
	case ClassInfo:
		return 1
	}
	return 5
}

// IncidentContext is the canonical normalized event handed to the workflow
// engine and every agent. It is transient; the incident row in the store is
// the source of truth.
type IncidentContext struct {
	CorrelationID   string           `json:"correlation_id"`
	EventName       string           `json:"event_name"`
	ResourceType    string           `json:"resource_type"`
	ResourceID      string           `json:"resource_id"`
	Region          string           `json:"region"`
	RegionalContext *RegionalContext `json:"regional_context,omitempty"`
	Actor           string           `json:"actor"`
	EventDetails    json.RawMessage  `json:"event_details"`
	EventTime       time.Time        `json:"event_time"`

	// PreviousAgentResults accumulates completed agent results keyed by
	// agent type. The coordinator populates it before each agent run.
	PreviousAgentResults map[AgentType]*AgentResult `json:"previous_agent_results,omitempty"`
}

// ResourceKey returns the composite "{type}#{id}" key for this context.
func (c *IncidentContext) ResourceKey() string {
	return ResourceKey(c.ResourceType, c.ResourceID)
}

// RegionalContext annotates events forwarded from satellite regions.
type RegionalContext struct {
	ForwardedFrom string    `json:"forwarded_from"`
	Timestamp     time.Time `json:"timestamp"`
}
