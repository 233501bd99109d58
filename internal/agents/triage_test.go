package agents

import (
	"context"
	"testing"
	"time"

	"github.com/nimishmehta8779/aiops-devops-agent/internal/dedup"
	"github.com/nimishmehta8779/aiops-devops-agent/internal/types"
)

func TestBaseSeverityVerbs(t *testing.T) {
	tests := []struct {
		eventName string
		want      int
	}{
		{"TerminateInstances", 10},
		{"DeleteTable", 10},
		{"DestroyStack", 10},
		{"StopInstances", 8},
		{"DisableKey", 8},
		{"DetachVolume", 8},
		{"ModifyDBInstance", 6},
		{"UpdateFunctionConfiguration", 6},
		{"ChangeResourceRecordSets", 6},
		{"CreateBucket", 3},
		{"StartInstances", 3},
		{"EnableKeyRotation", 3},
		{"DescribeInstances", 5},
		{"EC2StateChange", 5},
	}
	for _, tt := range tests {
		if got := baseSeverity(tt.eventName); got != tt.want {
			t.Errorf("baseSeverity(%q) = %d, want %d", tt.eventName, got, tt.want)
		}
	}
}

func TestSeverityScoreProtectedBump(t *testing.T) {
	agent := &TriageAgent{now: time.Now}

	// ec2 is protected: Modify 6 + 1 = 7.
	ictx := newIncidentContext("incident-sev")
	ictx.EventName = "ModifyInstanceAttribute"
	if got := agent.severityScore(ictx, nil); got != 7 {
		t.Errorf("protected severity = %d, want 7", got)
	}

	// Unprotected resource gets no bump.
	ictx.ResourceType = "s3"
	if got := agent.severityScore(ictx, nil); got != 6 {
		t.Errorf("unprotected severity = %d, want 6", got)
	}

	// Terminate on a protected resource stays capped at 10.
	ictx.ResourceType = "ec2"
	ictx.EventName = "TerminateInstances"
	if got := agent.severityScore(ictx, nil); got != 10 {
		t.Errorf("capped severity = %d, want 10", got)
	}
}

func TestSeverityScoreHistoricalBlend(t *testing.T) {
	agent := &TriageAgent{now: time.Now}
	ictx := newIncidentContext("incident-blend")
	ictx.EventName = "TerminateInstances" // base 10 + protected = 10

	history := []*types.Incident{
		{Severity: 4},
		{Severity: 6},
	}
	// round((10 + 5) / 2) = 8.
	if got := agent.severityScore(ictx, history); got != 8 {
		t.Errorf("blended severity = %d, want 8", got)
	}
}

func TestNoiseScore(t *testing.T) {
	agent := &TriageAgent{now: time.Now}

	quiet := newIncidentContext("incident-quiet")
	if got := agent.noiseScore(quiet, nil); got != 0 {
		t.Errorf("quiet noise = %g, want 0", got)
	}

	// Five similar incidents, all resolved, from a noisy source:
	// 0.3 + 0.2 + 0.1 = 0.6.
	noisy := newIncidentContext("incident-noisy")
	noisy.EventDetails = []byte(`{"eventSource":"autoscaling.amazonaws.com"}`)
	similar := make([]*types.Incident, 5)
	for i := range similar {
		similar[i] = &types.Incident{WorkflowState: types.StateCompleted}
	}
	if got := agent.noiseScore(noisy, similar); got != 0.6 {
		t.Errorf("noisy score = %g, want 0.6", got)
	}

	// Low resolution rate drops the 0.2 component.
	similar[0].WorkflowState = types.StateFailed
	similar[1].WorkflowState = types.StateFailed
	if got := agent.noiseScore(noisy, similar); got != 0.4 {
		t.Errorf("unresolved score = %g, want 0.4", got)
	}
}

func TestTriageAnalyzeAndExecute(t *testing.T) {
	store := newTestStore(t)
	gate := dedup.NewGate(store, 5*time.Minute, discardLogger())
	agent := NewTriageAgent(store, gate, nil, discardLogger())
	ctx := context.Background()

	ictx := newIncidentContext("incident-triage")
	seedIncident(t, store, ictx)

	analysis, err := agent.Analyze(ctx, ictx)
	if err != nil {
		t.Fatalf("analyze failed: %v", err)
	}
	ta := analysis.(*TriageAnalysis)

	if ta.Fingerprint != dedup.FingerprintContext(ictx) {
		t.Errorf("fingerprint = %q", ta.Fingerprint)
	}
	if ta.IsDuplicate {
		t.Error("fresh incident flagged duplicate")
	}
	// TerminateInstances on protected ec2: severity 10, CRITICAL.
	if ta.SeverityScore != 10 {
		t.Errorf("severity = %d, want 10", ta.SeverityScore)
	}
	if ta.Classification != types.ClassCritical {
		t.Errorf("classification = %s, want CRITICAL", ta.Classification)
	}
	if ta.ShouldSuppress {
		t.Error("should_suppress on a clean incident")
	}

	if _, err := agent.Execute(ctx, ictx, analysis); err != nil {
		t.Fatalf("execute failed: %v", err)
	}

	got, err := store.Get(ctx, ictx.CorrelationID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Fingerprint != ta.Fingerprint {
		t.Errorf("persisted fingerprint = %q", got.Fingerprint)
	}
	if got.Classification != string(types.ClassCritical) {
		t.Errorf("persisted classification = %q", got.Classification)
	}
	if got.Severity != 10 {
		t.Errorf("persisted severity = %d", got.Severity)
	}
	if len(got.TriageResults) == 0 {
		t.Error("triage_results not persisted")
	}
}

func TestTriageDetectsDuplicate(t *testing.T) {
	store := newTestStore(t)
	gate := dedup.NewGate(store, 5*time.Minute, discardLogger())
	agent := NewTriageAgent(store, gate, nil, discardLogger())
	ctx := context.Background()

	// A prior incident an hour ago already carries this fingerprint.
	prior := newIncidentContext("incident-original")
	prior.EventTime = prior.EventTime.Add(-time.Hour)
	seedIncident(t, store, prior)
	fp := dedup.FingerprintContext(prior)
	if err := store.UpdateIncident(ctx, prior.CorrelationID, map[string]any{"fingerprint": fp}); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	replay := newIncidentContext("incident-replay")
	seedIncident(t, store, replay)

	analysis, err := agent.Analyze(ctx, replay)
	if err != nil {
		t.Fatalf("analyze failed: %v", err)
	}
	ta := analysis.(*TriageAnalysis)
	if !ta.IsDuplicate {
		t.Fatal("duplicate not detected")
	}
	if ta.DuplicateOf != "incident-original" {
		t.Errorf("duplicate_of = %q", ta.DuplicateOf)
	}

	if _, err := agent.Execute(ctx, replay, analysis); err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	got, _ := store.Get(ctx, replay.CorrelationID)
	if got.DuplicateOf != "incident-original" {
		t.Errorf("persisted duplicate_of = %q", got.DuplicateOf)
	}
}

func TestBusinessImpact(t *testing.T) {
	if got := businessImpact(types.ClassCritical, "ec2"); got == "" {
		t.Error("empty impact for CRITICAL")
	}
	low := businessImpact(types.ClassLow, "ec2")
	info := businessImpact(types.ClassInfo, "s3")
	if low != info {
		t.Errorf("LOW and INFO should share the routine-impact text: %q vs %q", low, info)
	}
}
