package agents

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/nimishmehta8779/aiops-devops-agent/internal/storage/sqlite"
	"github.com/nimishmehta8779/aiops-devops-agent/internal/types"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T) *sqlite.IncidentStore {
	t.Helper()
	store, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func newIncidentContext(correlationID string) *types.IncidentContext {
	return &types.IncidentContext{
		CorrelationID: correlationID,
		EventName:     "TerminateInstances",
		ResourceType:  "ec2",
		ResourceID:    "i-abc123",
		Region:        "us-east-1",
		Actor:         "arn:aws:iam::123456789012:user/alice",
		EventDetails:  json.RawMessage(`{"eventName":"TerminateInstances","eventSource":"ec2.amazonaws.com"}`),
		EventTime:     time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC),
	}
}

func seedIncident(t *testing.T, store *sqlite.IncidentStore, ictx *types.IncidentContext) {
	t.Helper()
	now := ictx.EventTime
	if now.IsZero() {
		now = time.Now().UTC()
	}
	inc := &types.Incident{
		CorrelationID:     ictx.CorrelationID,
		IncidentTimestamp: now,
		ResourceType:      ictx.ResourceType,
		ResourceID:        ictx.ResourceID,
		ResourceKey:       ictx.ResourceKey(),
		Region:            ictx.Region,
		WorkflowState:     types.StateDetecting,
		EventDetails:      ictx.EventDetails,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := store.Put(context.Background(), inc); err != nil {
		t.Fatalf("failed to seed incident %s: %v", ictx.CorrelationID, err)
	}
}

// withTriageResult threads a canned triage analysis into the context the way
// the coordinator would.
func withTriageResult(ictx *types.IncidentContext, ta *TriageAnalysis) *types.IncidentContext {
	data, _ := json.Marshal(ta)
	if ictx.PreviousAgentResults == nil {
		ictx.PreviousAgentResults = make(map[types.AgentType]*types.AgentResult)
	}
	ictx.PreviousAgentResults[types.AgentTriage] = &types.AgentResult{
		AgentType: types.AgentTriage,
		Status:    types.AgentStatusSuccess,
		Analysis:  data,
	}
	return ictx
}

func withRiskResult(ictx *types.IncidentContext, ra *RiskAnalysis) *types.IncidentContext {
	data, _ := json.Marshal(ra)
	if ictx.PreviousAgentResults == nil {
		ictx.PreviousAgentResults = make(map[types.AgentType]*types.AgentResult)
	}
	ictx.PreviousAgentResults[types.AgentRisk] = &types.AgentResult{
		AgentType: types.AgentRisk,
		Status:    types.AgentStatusSuccess,
		Analysis:  data,
	}
	return ictx
}
