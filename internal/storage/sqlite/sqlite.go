// Package sqlite implements the incident store on an embedded sqlite
// database. Timestamps are stored as fixed-width UTC strings so that string
// comparison matches chronological order.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/nimishmehta8779/aiops-devops-agent/internal/storage"
	"github.com/nimishmehta8779/aiops-devops-agent/internal/types"
)

// Compile-time interface checks.
var (
	_ storage.Store        = (*IncidentStore)(nil)
	_ storage.PatternStore = (*patternStore)(nil)
)

// timeLayout is fixed-width so lexicographic order equals time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// IncidentStore implements storage.Store using sqlite.
type IncidentStore struct {
	db *sql.DB
}

// New opens (or creates) the incident database at path. Pass ":memory:" for
// an ephemeral store in tests.
func New(path string) (*IncidentStore, error) {
	dsn := path
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
		// WAL mode for concurrent readers during incident processing.
		dsn = "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &IncidentStore{db: db}, nil
}

// Close closes the underlying database.
func (s *IncidentStore) Close() error {
	return s.db.Close()
}

// Put performs the initial incident write. Re-putting an existing
// correlation id is a no-op, making event delivery idempotent.
func (s *IncidentStore) Put(ctx context.Context, inc *types.Incident) error {
	if err := inc.Validate(); err != nil {
		return types.Permanent(err)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO incidents (
			correlation_id, incident_timestamp, resource_type, resource_id,
			resource_key, region, fingerprint, workflow_state,
			event_classification, confidence, severity, event_details,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(correlation_id) DO NOTHING`,
		inc.CorrelationID,
		formatTime(inc.IncidentTimestamp),
		inc.ResourceType,
		inc.ResourceID,
		inc.ResourceKey,
		inc.Region,
		inc.Fingerprint,
		string(inc.WorkflowState),
		inc.Classification,
		inc.Confidence,
		inc.Severity,
		string(inc.EventDetails),
		formatTime(inc.CreatedAt),
		formatTime(inc.UpdatedAt),
	)
	if err != nil {
		return types.Transient(fmt.Errorf("failed to insert incident: %w", err))
	}
	return nil
}

// Get returns the incident, or (nil, nil) when it does not exist.
func (s *IncidentStore) Get(ctx context.Context, correlationID string) (*types.Incident, error) {
	row := s.db.QueryRowContext(ctx, selectIncident+` WHERE correlation_id = ?`, correlationID)
	inc, err := scanIncident(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, types.Transient(fmt.Errorf("failed to get incident: %w", err))
	}
	return inc, nil
}

// updatableColumns is the whitelist of attributes that UpdateIncident and
// UpdateState accept. Anything else is a programming error.
var updatableColumns = map[string]bool{
	"fingerprint":               true,
	"event_classification":      true,
	"confidence":                true,
	"severity":                  true,
	"triage_results":            true,
	"telemetry_results":         true,
	"risk_assessment":           true,
	"remediation_plan":          true,
	"remediation_results":       true,
	"communication_log":         true,
	"duplicate_of":              true,
	"cooldown_reason":           true,
	"approval_status":           true,
	"approval_request":          true,
	"recovery_needed":           true,
	"reason":                    true,
	"success":                   true,
	"recovery_duration_seconds": true,
	"stage_durations":           true,
}

// UpdateState persists a workflow state transition plus any attribute
// updates. Last-write-wins; updated_at is bumped to now.
func (s *IncidentStore) UpdateState(ctx context.Context, correlationID string, state types.WorkflowState, updates map[string]any) error {
	if !state.IsValid() {
		return types.Permanent(fmt.Errorf("invalid workflow state: %s", state))
	}
	if updates == nil {
		updates = map[string]any{}
	}
	return s.update(ctx, correlationID, &state, updates)
}

// UpdateIncident persists attribute updates without a state change.
func (s *IncidentStore) UpdateIncident(ctx context.Context, correlationID string, updates map[string]any) error {
	return s.update(ctx, correlationID, nil, updates)
}

func (s *IncidentStore) update(ctx context.Context, correlationID string, state *types.WorkflowState, updates map[string]any) error {
	setClauses := []string{"updated_at = ?"}
	args := []any{formatTime(time.Now().UTC())}

	if state != nil {
		setClauses = append(setClauses, "workflow_state = ?")
		args = append(args, string(*state))
	}

	for col, val := range updates {
		if !updatableColumns[col] {
			return types.Permanent(fmt.Errorf("column %q is not updatable", col))
		}
		setClauses = append(setClauses, col+" = ?")
		args = append(args, normalizeValue(val))
	}

	args = append(args, correlationID)
	query := "UPDATE incidents SET " + strings.Join(setClauses, ", ") + " WHERE correlation_id = ?"

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return types.Transient(fmt.Errorf("failed to update incident: %w", err))
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return types.Permanent(fmt.Errorf("incident %s not found", correlationID))
	}
	return nil
}

// QueryRecentByResource serves the cooldown gate via the resource_key index.
func (s *IncidentStore) QueryRecentByResource(ctx context.Context, resourceKey string, since time.Time, limit int) ([]*types.Incident, error) {
	rows, err := s.db.QueryContext(ctx, selectIncident+`
		WHERE resource_key = ? AND incident_timestamp > ?
		ORDER BY incident_timestamp DESC LIMIT ?`,
		resourceKey, formatTime(since), clampLimit(limit))
	if err != nil {
		return nil, types.Transient(fmt.Errorf("failed to query by resource key: %w", err))
	}
	return collectIncidents(rows)
}

// QueryByResourceType serves the similar-incident context fetch. Empty
// classification matches any.
func (s *IncidentStore) QueryByResourceType(ctx context.Context, resourceType, classification string, state types.WorkflowState, limit int) ([]*types.Incident, error) {
	query := selectIncident + ` WHERE resource_type = ? AND workflow_state = ?`
	args := []any{resourceType, string(state)}
	if classification != "" {
		query += ` AND event_classification = ?`
		args = append(args, classification)
	}
	query += ` ORDER BY incident_timestamp DESC LIMIT ?`
	args = append(args, clampLimit(limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, types.Transient(fmt.Errorf("failed to query by resource type: %w", err))
	}
	return collectIncidents(rows)
}

// ScanByFingerprint serves triage deduplication.
func (s *IncidentStore) ScanByFingerprint(ctx context.Context, fingerprint string, since time.Time, limit int) ([]*types.Incident, error) {
	rows, err := s.db.QueryContext(ctx, selectIncident+`
		WHERE fingerprint = ? AND fingerprint != '' AND incident_timestamp > ?
		ORDER BY incident_timestamp DESC LIMIT ?`,
		fingerprint, formatTime(since), clampLimit(limit))
	if err != nil {
		return nil, types.Transient(fmt.Errorf("failed to scan by fingerprint: %w", err))
	}
	return collectIncidents(rows)
}

// CountByClassificationSince counts incidents by triage classification.
func (s *IncidentStore) CountByClassificationSince(ctx context.Context, classification types.Classification, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM incidents
		WHERE event_classification = ? AND created_at > ?`,
		string(classification), formatTime(since)).Scan(&n)
	if err != nil {
		return 0, types.Transient(fmt.Errorf("failed to count incidents: %w", err))
	}
	return n, nil
}

// Patterns exposes the pattern baseline table backed by the same database.
func (s *IncidentStore) Patterns() storage.PatternStore {
	return &patternStore{db: s.db}
}

type patternStore struct {
	db *sql.DB
}

// GetBaseline returns the stored baseline, or a zero baseline for keys that
// have never been seen.
func (p *patternStore) GetBaseline(ctx context.Context, key string) (*types.PatternBaseline, error) {
	var (
		b        types.PatternBaseline
		lastSeen string
	)
	err := p.db.QueryRowContext(ctx, `
		SELECT pattern_key, avg_count, last_seen, occurrence_count
		FROM patterns WHERE pattern_key = ?`, key).
		Scan(&b.Key, &b.AvgCount, &lastSeen, &b.OccurrenceCount)
	if err == sql.ErrNoRows {
		return &types.PatternBaseline{Key: key}, nil
	}
	if err != nil {
		return nil, types.Transient(fmt.Errorf("failed to get pattern baseline: %w", err))
	}
	b.LastSeen = parseTime(lastSeen)
	return &b, nil
}

// UpdateBaseline folds currentCount into the stored EMA. First sight of a
// key seeds the average with the raw count.
func (p *patternStore) UpdateBaseline(ctx context.Context, key string, currentCount float64, seenAt time.Time) error {
	baseline, err := p.GetBaseline(ctx, key)
	if err != nil {
		return err
	}

	avg := currentCount
	if baseline.OccurrenceCount > 0 {
		avg = baseline.Fold(currentCount)
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO patterns (pattern_key, avg_count, last_seen, occurrence_count)
		VALUES (?, ?, ?, 1)
		ON CONFLICT(pattern_key) DO UPDATE SET
			avg_count = excluded.avg_count,
			last_seen = excluded.last_seen,
			occurrence_count = occurrence_count + 1`,
		key, avg, formatTime(seenAt))
	if err != nil {
		return types.Transient(fmt.Errorf("failed to update pattern baseline: %w", err))
	}
	return nil
}

const selectIncident = `
	SELECT correlation_id, incident_timestamp, resource_type, resource_id,
	       resource_key, region, fingerprint, workflow_state,
	       event_classification, confidence, severity, event_details,
	       created_at, updated_at,
	       triage_results, telemetry_results, risk_assessment,
	       remediation_plan, remediation_results, communication_log,
	       duplicate_of, cooldown_reason, approval_status, approval_request,
	       recovery_needed, reason, success, recovery_duration_seconds,
	       stage_durations
	FROM incidents`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIncident(row rowScanner) (*types.Incident, error) {
	var (
		inc                              types.Incident
		incidentTS, createdAt, updatedAt string
		eventDetails                     string
		triage, telemetry, risk, plan    string
		remResults, commLog              string
		recoveryNeeded, success          sql.NullBool
		classification, stageDurations   string
	)
	err := row.Scan(
		&inc.CorrelationID, &incidentTS, &inc.ResourceType, &inc.ResourceID,
		&inc.ResourceKey, &inc.Region, &inc.Fingerprint, &inc.WorkflowState,
		&classification, &inc.Confidence, &inc.Severity, &eventDetails,
		&createdAt, &updatedAt,
		&triage, &telemetry, &risk, &plan, &remResults, &commLog,
		&inc.DuplicateOf, &inc.CooldownReason, &inc.ApprovalStatus, &inc.ApprovalRequest,
		&recoveryNeeded, &inc.Reason, &success, &inc.RecoveryDurationSeconds,
		&stageDurations,
	)
	if err != nil {
		return nil, err
	}

	inc.Classification = classification
	inc.IncidentTimestamp = parseTime(incidentTS)
	inc.CreatedAt = parseTime(createdAt)
	inc.UpdatedAt = parseTime(updatedAt)
	inc.EventDetails = rawOrNil(eventDetails)
	inc.TriageResults = rawOrNil(triage)
	inc.TelemetryResults = rawOrNil(telemetry)
	inc.RiskAssessment = rawOrNil(risk)
	inc.RemediationPlan = rawOrNil(plan)
	inc.RemediationResults = rawOrNil(remResults)
	inc.CommunicationLog = rawOrNil(commLog)
	inc.StageDurations = rawOrNil(stageDurations)
	if recoveryNeeded.Valid {
		inc.RecoveryNeeded = &recoveryNeeded.Bool
	}
	if success.Valid {
		inc.Success = &success.Bool
	}
	return &inc, nil
}

func collectIncidents(rows *sql.Rows) ([]*types.Incident, error) {
	defer rows.Close()
	var out []*types.Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, types.Transient(fmt.Errorf("failed to scan incident row: %w", err))
		}
		out = append(out, inc)
	}
	if err := rows.Err(); err != nil {
		return nil, types.Transient(fmt.Errorf("failed to iterate incident rows: %w", err))
	}
	return out, nil
}

// normalizeValue converts update values to their sqlite column encoding.
// Nested structures are JSON-encoded strings per the wire format.
func normalizeValue(v any) any {
	switch val := v.(type) {
	case json.RawMessage:
		return string(val)
	case []byte:
		return string(val)
	case time.Time:
		return formatTime(val)
	case types.WorkflowState:
		return string(val)
	case types.Classification:
		return string(val)
	default:
		return v
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		// Older rows may carry plain RFC3339.
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t
}

func rawOrNil(s string) json.RawMessage {
	if s == "" {
		return nil
	}
	return json.RawMessage(s)
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 100 {
		return 100
	}
	return limit
}
