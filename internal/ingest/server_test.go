package ingest

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nimishmehta8779/aiops-devops-agent/internal/agents"
	"github.com/nimishmehta8779/aiops-devops-agent/internal/config"
	"github.com/nimishmehta8779/aiops-devops-agent/internal/dedup"
	"github.com/nimishmehta8779/aiops-devops-agent/internal/executors"
	"github.com/nimishmehta8779/aiops-devops-agent/internal/llm"
	"github.com/nimishmehta8779/aiops-devops-agent/internal/normalizer"
	"github.com/nimishmehta8779/aiops-devops-agent/internal/notify"
	"github.com/nimishmehta8779/aiops-devops-agent/internal/observability"
	"github.com/nimishmehta8779/aiops-devops-agent/internal/patterns"
	"github.com/nimishmehta8779/aiops-devops-agent/internal/storage/sqlite"
	"github.com/nimishmehta8779/aiops-devops-agent/internal/types"
	"github.com/nimishmehta8779/aiops-devops-agent/internal/workflow"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	cfg := config.Default()
	cfg.Risk.BlockedWindows = nil
	gate := dedup.NewGate(store, cfg.CooldownWindow(), logger)
	transports := notify.LogTransports(logger)

	engine := workflow.New(workflow.Deps{
		Store:       store,
		Gate:        gate,
		Classifier:  llm.NewClassifier(nil, logger),
		Coordinator: agents.NewCoordinator(logger),
		Triage:      agents.NewTriageAgent(store, gate, nil, logger),
		Telemetry:   agents.NewTelemetryAgent(observability.NewPool(nil), store, nil, cfg.CentralRegion, logger),
		Risk:        agents.NewRiskAgent(store, nil, cfg.Risk, nil, logger),
		Remediation: agents.NewRemediationAgent(nil, executors.DryRunSet(logger), store, cfg.Remediation, nil, logger),
		Comms:       agents.NewCommsAgent(nil, transports, store, cfg.Notifications, nil, logger),
		Broadcast:   transports.Broadcast,
		Config:      cfg,
		Logger:      logger,
	})

	norm := normalizer.New(cfg.CentralRegion, logger)
	analyzer := patterns.New(store.Patterns(), logger)
	return NewServer(":0", norm, engine, store, analyzer, nil, cfg.MaxConcurrentIncidents, logger)
}

func postJSON(t *testing.T, handler http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

const terminateEnvelope = `{
	"detail-type": "AWS API Call via CloudTrail",
	"region": "us-east-1",
	"detail": {
		"eventName": "TerminateInstances",
		"eventSource": "ec2.amazonaws.com",
		"requestParameters": {"instancesSet":{"items":[{"instanceId":"i-0abc"}]}},
		"userIdentity": {"arn": "arn:aws:iam::123456789012:user/alice"}
	}
}`

func TestHandleEvent(t *testing.T) {
	s := newTestServer(t)
	router := s.Router()

	rec := postJSON(t, router, "/events", terminateEnvelope)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}

	var outcome workflow.Outcome
	if err := json.Unmarshal(rec.Body.Bytes(), &outcome); err != nil {
		t.Fatalf("response is not an outcome: %v", err)
	}
	if outcome.CorrelationID == "" {
		t.Error("missing correlation_id")
	}
	// Heuristic classification of TerminateInstances is a 0.7-confidence
	// FAILURE, so the incident completes via the low-confidence path.
	if outcome.FinalState != types.StateCompleted {
		t.Errorf("final state = %s", outcome.FinalState)
	}
	if outcome.Reason != workflow.ReasonLowConfidence {
		t.Errorf("reason = %q", outcome.Reason)
	}

	// The incident is retrievable afterwards.
	req := httptest.NewRequest(http.MethodGet, "/incidents/"+outcome.CorrelationID, nil)
	getRec := httptest.NewRecorder()
	router.ServeHTTP(getRec, req)
	if getRec.Code != http.StatusOK {
		t.Fatalf("get incident status = %d", getRec.Code)
	}
	var inc types.Incident
	if err := json.Unmarshal(getRec.Body.Bytes(), &inc); err != nil {
		t.Fatalf("incident decode failed: %v", err)
	}
	if inc.CorrelationID != outcome.CorrelationID {
		t.Errorf("correlation_id = %q", inc.CorrelationID)
	}
}

func TestHandleEventUnknownTypeIgnored(t *testing.T) {
	s := newTestServer(t)

	rec := postJSON(t, s.Router(), "/events", `{"detail-type":"Scheduled Event","detail":{}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp ignoredResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if resp.Status != "ignored" || resp.Reason != "unknown_event_type" {
		t.Errorf("response = %+v", resp)
	}
}

func TestHandleEventInvalidBody(t *testing.T) {
	s := newTestServer(t)
	rec := postJSON(t, s.Router(), "/events", `{not json`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestHandleEventBatch(t *testing.T) {
	s := newTestServer(t)

	batch := `{"events": [` + terminateEnvelope + `, {"detail-type":"Scheduled Event","detail":{}}]}`
	rec := postJSON(t, s.Router(), "/events/batch", batch)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}

	var resp batchResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(resp.Outcomes) != 1 {
		t.Errorf("outcomes = %d, want 1", len(resp.Outcomes))
	}
	if resp.Ignored != 1 {
		t.Errorf("ignored = %d, want 1", resp.Ignored)
	}
	if len(resp.Errors) != 0 {
		t.Errorf("errors = %v", resp.Errors)
	}
}

func TestHandlePatternObserve(t *testing.T) {
	s := newTestServer(t)
	router := s.Router()

	rec := postJSON(t, router, "/patterns/observe", `{"log_group":"/app/api","pattern":"timeout","count":3}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	var verdict patterns.Verdict
	if err := json.Unmarshal(rec.Body.Bytes(), &verdict); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if !verdict.Learning {
		t.Error("first observation should be learning")
	}

	rec = postJSON(t, router, "/patterns/observe", `{"pattern":"timeout","count":3}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing log_group status = %d, want 400", rec.Code)
	}
}

func TestHandleGetIncidentNotFound(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/incidents/incident-nope", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Errorf("body = %s", rec.Body)
	}
}
