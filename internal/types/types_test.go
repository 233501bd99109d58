package types

import (
	"strings"
	"testing"
	"time"
)

func TestWorkflowStateTransitions(t *testing.T) {
	tests := []struct {
		from    WorkflowState
		to      WorkflowState
		allowed bool
	}{
		{StateDetecting, StateAnalyzing, true},
		{StateDetecting, StateCooldown, true},
		{StateDetecting, StateFailed, true},
		{StateDetecting, StateExecuting, false},
		{StateAnalyzing, StatePlanning, true},
		{StateAnalyzing, StateCompleted, true},
		{StateAnalyzing, StateFailed, true},
		{StateAnalyzing, StateCooldown, false},
		{StatePlanning, StateExecuting, true},
		{StatePlanning, StateCompleted, true},
		{StateExecuting, StateVerifying, true},
		{StateExecuting, StateCompleted, true},
		{StateVerifying, StateCompleted, true},
		{StateVerifying, StateFailed, true},
		{StateVerifying, StateExecuting, false},
		{StateCompleted, StateFailed, false},
		{StateFailed, StateDetecting, false},
		{StateCooldown, StateAnalyzing, false},
	}

	for _, tt := range tests {
		if got := tt.from.CanTransitionTo(tt.to); got != tt.allowed {
			t.Errorf("%s -> %s: got %v, want %v", tt.from, tt.to, got, tt.allowed)
		}
	}
}

func TestWorkflowStateTerminal(t *testing.T) {
	for _, state := range []WorkflowState{StateCompleted, StateFailed, StateCooldown} {
		if !state.IsTerminal() {
			t.Errorf("%s should be terminal", state)
		}
		if transitions := state.ValidTransitions(); len(transitions) != 0 {
			t.Errorf("terminal state %s has transitions %v", state, transitions)
		}
	}
	for _, state := range []WorkflowState{StateDetecting, StateAnalyzing, StatePlanning, StateExecuting, StateVerifying} {
		if state.IsTerminal() {
			t.Errorf("%s should not be terminal", state)
		}
	}
}

func TestClassifySeverityBoundaries(t *testing.T) {
	tests := []struct {
		score int
		want  Classification
	}{
		{10, ClassCritical},
		{9, ClassCritical},
		{8, ClassHigh},
		{7, ClassHigh},
		{6, ClassMedium},
		{5, ClassMedium},
		{4, ClassLow},
		{3, ClassLow},
		{2, ClassInfo},
		{1, ClassInfo},
	}
	for _, tt := range tests {
		if got := ClassifySeverity(tt.score); got != tt.want {
			t.Errorf("ClassifySeverity(%d) = %s, want %s", tt.score, got, tt.want)
		}
	}
}

func TestEventClassificationRequiresRecovery(t *testing.T) {
	if !ClassificationFailure.RequiresRecovery() {
		t.Error("FAILURE should require recovery")
	}
	if !ClassificationTampering.RequiresRecovery() {
		t.Error("TAMPERING should require recovery")
	}
	if ClassificationAnomaly.RequiresRecovery() {
		t.Error("ANOMALY should not require recovery")
	}
	if ClassificationNormal.RequiresRecovery() {
		t.Error("NORMAL should not require recovery")
	}
}

func TestIncidentValidate(t *testing.T) {
	now := time.Now().UTC()
	valid := func() *Incident {
		return &Incident{
			CorrelationID: NewCorrelationID(),
			ResourceType:  "ec2",
			ResourceID:    "i-abc123",
			ResourceKey:   ResourceKey("ec2", "i-abc123"),
			WorkflowState: StateDetecting,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
	}

	if err := valid().Validate(); err != nil {
		t.Fatalf("valid incident failed validation: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Incident)
	}{
		{"missing correlation id", func(i *Incident) { i.CorrelationID = "" }},
		{"missing resource type", func(i *Incident) { i.ResourceType = "" }},
		{"mismatched resource key", func(i *Incident) { i.ResourceKey = "ec2#other" }},
		{"invalid state", func(i *Incident) { i.WorkflowState = "BOGUS" }},
		{"short fingerprint", func(i *Incident) { i.Fingerprint = "abc" }},
		{"updated before created", func(i *Incident) { i.UpdatedAt = i.CreatedAt.Add(-time.Second) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inc := valid()
			tt.mutate(inc)
			if err := inc.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestNewCorrelationID(t *testing.T) {
	id := NewCorrelationID()
	if !strings.HasPrefix(id, "incident-") {
		t.Errorf("correlation id %q missing prefix", id)
	}
	if id == NewCorrelationID() {
		t.Error("correlation ids should be unique")
	}
}
