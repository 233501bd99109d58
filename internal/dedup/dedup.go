// Package dedup implements the fingerprint and cooldown gate. The gate runs
// once per incident, before any agent, and is authoritative: downstream
// agents never re-enter cooldown state.
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/nimishmehta8779/aiops-devops-agent/internal/storage"
	"github.com/nimishmehta8779/aiops-devops-agent/internal/types"
)

// cooldownStates are the workflow states of a prior incident that suppress a
// new incident on the same resource within the cooldown window.
var cooldownStates = map[types.WorkflowState]bool{
	types.StateExecuting: true,
	types.StateVerifying: true,
	types.StateCompleted: true,
}

// Fingerprint computes the content-addressed dedup key for a normalized
// event: the SHA-256 hex of "event_name:resource_type:resource_id:region".
// It depends only on those four fields, never on the raw event encoding.
func Fingerprint(eventName, resourceType, resourceID, region string) string {
	sum := sha256.Sum256([]byte(eventName + ":" + resourceType + ":" + resourceID + ":" + region))
	return hex.EncodeToString(sum[:])
}

// FingerprintContext computes the fingerprint for an incident context.
func FingerprintContext(ictx *types.IncidentContext) string {
	return Fingerprint(ictx.EventName, ictx.ResourceType, ictx.ResourceID, ictx.Region)
}

// Gate enforces per-resource cooldown and loads similar-incident context.
type Gate struct {
	store  storage.Store
	window time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// NewGate creates a cooldown gate with the given suppression window.
func NewGate(store storage.Store, window time.Duration, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		store:  store,
		window: window,
		logger: logger,
		now:    time.Now,
	}
}

// Result is the gate's verdict for one incident.
type Result struct {
	// Suppressed reports whether the incident was placed in COOLDOWN.
	Suppressed bool
	// PriorIncidentID is the incident that triggered suppression.
	PriorIncidentID string
	// CooldownReason is the persisted human-readable reason.
	CooldownReason string
}

// Check queries recent incidents for the resource key and suppresses the new
// incident when a prior one is active or completed within the window. On
// suppression the incident is persisted in state COOLDOWN and no agents run.
func (g *Gate) Check(ctx context.Context, inc *types.Incident) (*Result, error) {
	since := g.now().UTC().Add(-g.window)

	recent, err := g.store.QueryRecentByResource(ctx, inc.ResourceKey, since, 10)
	if err != nil {
		return nil, fmt.Errorf("cooldown query failed: %w", err)
	}

	for _, prior := range recent {
		if prior.CorrelationID == inc.CorrelationID {
			continue
		}
		if !cooldownStates[prior.WorkflowState] {
			continue
		}

		reason := fmt.Sprintf("Recent incident: %s", prior.CorrelationID)
		g.logger.Info("incident suppressed by cooldown",
			"correlation_id", inc.CorrelationID,
			"prior_incident", prior.CorrelationID,
			"prior_state", prior.WorkflowState,
			"resource_key", inc.ResourceKey)

		if err := g.store.UpdateState(ctx, inc.CorrelationID, types.StateCooldown, map[string]any{
			"cooldown_reason": reason,
		}); err != nil {
			return nil, fmt.Errorf("failed to persist cooldown state: %w", err)
		}

		return &Result{
			Suppressed:      true,
			PriorIncidentID: prior.CorrelationID,
			CooldownReason:  reason,
		}, nil
	}

	return &Result{}, nil
}

// SimilarIncidents fetches up to five completed incidents with the same
// resource type and classification, most recent first, for historical
// context. Errors degrade to an empty slice; history is advisory.
func (g *Gate) SimilarIncidents(ctx context.Context, resourceType, classification string) []*types.Incident {
	similar, err := g.store.QueryByResourceType(ctx, resourceType, classification, types.StateCompleted, 5)
	if err != nil {
		g.logger.Warn("similar-incident fetch failed", "resource_type", resourceType, "error", err)
		return nil
	}
	return similar
}

// RecentDuplicates returns incidents sharing the fingerprint within the last
// 24 hours, used by triage for duplicate detection.
func (g *Gate) RecentDuplicates(ctx context.Context, fingerprint string) ([]*types.Incident, error) {
	since := g.now().UTC().Add(-24 * time.Hour)
	return g.store.ScanByFingerprint(ctx, fingerprint, since, 10)
}
