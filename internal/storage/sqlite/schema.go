package sqlite

const schema = `
-- Incidents table: one row per incident, flat attribute map.
-- Nested structures (agent result blobs) are JSON-encoded strings.
CREATE TABLE IF NOT EXISTS incidents (
    correlation_id TEXT PRIMARY KEY,
    incident_timestamp TEXT NOT NULL,
    resource_type TEXT NOT NULL,
    resource_id TEXT NOT NULL,
    resource_key TEXT NOT NULL,
    region TEXT NOT NULL DEFAULT '',
    fingerprint TEXT NOT NULL DEFAULT '',
    workflow_state TEXT NOT NULL DEFAULT 'DETECTING',
    event_classification TEXT NOT NULL DEFAULT '',
    confidence REAL NOT NULL DEFAULT 0,
    severity INTEGER NOT NULL DEFAULT 0,
    event_details TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL,
    triage_results TEXT NOT NULL DEFAULT '',
    telemetry_results TEXT NOT NULL DEFAULT '',
    risk_assessment TEXT NOT NULL DEFAULT '',
    remediation_plan TEXT NOT NULL DEFAULT '',
    remediation_results TEXT NOT NULL DEFAULT '',
    communication_log TEXT NOT NULL DEFAULT '',
    duplicate_of TEXT NOT NULL DEFAULT '',
    cooldown_reason TEXT NOT NULL DEFAULT '',
    approval_status TEXT NOT NULL DEFAULT '',
    approval_request TEXT NOT NULL DEFAULT '',
    recovery_needed INTEGER,
    reason TEXT NOT NULL DEFAULT '',
    success INTEGER,
    recovery_duration_seconds REAL NOT NULL DEFAULT 0,
    stage_durations TEXT NOT NULL DEFAULT ''
);

-- Secondary indexes backing the cooldown gate and similar-incident queries.
CREATE INDEX IF NOT EXISTS idx_incidents_resource_key
    ON incidents(resource_key, incident_timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_incidents_resource_type
    ON incidents(resource_type, incident_timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_incidents_fingerprint
    ON incidents(fingerprint, incident_timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_incidents_classification
    ON incidents(event_classification, created_at);

-- Pattern baselines for the proactive log analyzer.
CREATE TABLE IF NOT EXISTS patterns (
    pattern_key TEXT PRIMARY KEY,
    avg_count REAL NOT NULL DEFAULT 0,
    last_seen TEXT NOT NULL DEFAULT '',
    occurrence_count INTEGER NOT NULL DEFAULT 0
);
`
