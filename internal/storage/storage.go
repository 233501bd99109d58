// Package storage defines the incident store contract. The store exclusively
// owns incident persistence; agents and the coordinator hold only transient
// in-memory context during execution.
package storage

import (
	"context"
	"time"

	"github.com/nimishmehta8779/aiops-devops-agent/internal/types"
)

// Store is the interface for incident storage backends. All operations are
// idempotent on correlation id; updates are last-write-wins on updated_at.
//
// Operations return errors wrapped in types.ErrTransient when a retry may
// succeed and types.ErrPermanent otherwise.
type Store interface {
	// Put performs the initial incident write at state DETECTING.
	// Re-putting an existing correlation id is a no-op.
	Put(ctx context.Context, incident *types.Incident) error

	// Get returns the incident, or (nil, nil) when it does not exist.
	Get(ctx context.Context, correlationID string) (*types.Incident, error)

	// UpdateState persists a workflow state transition together with any
	// additional attribute updates, bumping updated_at.
	UpdateState(ctx context.Context, correlationID string, state types.WorkflowState, updates map[string]any) error

	// UpdateIncident persists attribute updates without touching the
	// workflow state. Used by agents to record their own results.
	UpdateIncident(ctx context.Context, correlationID string, updates map[string]any) error

	// QueryRecentByResource returns up to limit incidents for the resource
	// key with incident_timestamp after since, most recent first.
	QueryRecentByResource(ctx context.Context, resourceKey string, since time.Time, limit int) ([]*types.Incident, error)

	// QueryByResourceType returns up to limit incidents of the resource
	// type matching classification and workflow state, most recent first.
	// Empty classification matches any.
	QueryByResourceType(ctx context.Context, resourceType, classification string, state types.WorkflowState, limit int) ([]*types.Incident, error)

	// ScanByFingerprint returns up to limit incidents with the fingerprint
	// and incident_timestamp after since, most recent first.
	ScanByFingerprint(ctx context.Context, fingerprint string, since time.Time, limit int) ([]*types.Incident, error)

	// CountByClassificationSince counts incidents whose triage
	// classification matches, created after since. Feeds the error budget.
	CountByClassificationSince(ctx context.Context, classification types.Classification, since time.Time) (int, error)

	// Patterns exposes the auxiliary pattern baseline store.
	Patterns() PatternStore

	Close() error
}

// PatternStore persists log pattern baselines for the proactive analyzer.
// Baselines are keyed by "log_group#pattern" and updated with an exponential
// moving average.
type PatternStore interface {
	// GetBaseline returns the stored baseline, or a zero baseline when the
	// key has never been seen.
	GetBaseline(ctx context.Context, key string) (*types.PatternBaseline, error)

	// UpdateBaseline folds currentCount into the EMA and bumps last_seen
	// and occurrence_count.
	UpdateBaseline(ctx context.Context, key string, currentCount float64, seenAt time.Time) error
}
