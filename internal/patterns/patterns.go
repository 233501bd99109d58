// Package patterns implements the proactive log-pattern analyzer. It learns
// per-pattern occurrence baselines with an exponential moving average and
// flags observations that deviate far from the baseline.
package patterns

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nimishmehta8779/aiops-devops-agent/internal/storage"
)

// minOccurrences is how many observations a baseline needs before the
// analyzer trusts it enough to flag anomalies.
const minOccurrences = 10

// zScoreThreshold is the deviation, in derived standard deviations, above
// which an observation is anomalous.
const zScoreThreshold = 3.0

// Observation is one pattern count reported to the analyzer.
type Observation struct {
	LogGroup string    `json:"log_group"`
	Pattern  string    `json:"pattern"`
	Count    float64   `json:"count"`
	SeenAt   time.Time `json:"seen_at"`
}

// Key returns the baseline key "log_group#pattern".
func (o *Observation) Key() string {
	return o.LogGroup + "#" + o.Pattern
}

// Verdict is the analyzer's assessment of one observation.
type Verdict struct {
	Key             string  `json:"key"`
	Anomalous       bool    `json:"anomalous"`
	ZScore          float64 `json:"z_score"`
	BaselineAvg     float64 `json:"baseline_avg"`
	OccurrenceCount int     `json:"occurrence_count"`
	// Learning reports that the baseline is still warming up and the
	// observation was only folded in.
	Learning bool `json:"learning,omitempty"`
}

// Analyzer compares pattern observations against stored baselines and folds
// each observation back into its baseline.
type Analyzer struct {
	store  storage.PatternStore
	logger *slog.Logger
	now    func() time.Time
}

// New creates a pattern analyzer.
func New(store storage.PatternStore, logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{store: store, logger: logger, now: time.Now}
}

// Observe evaluates one observation and updates its baseline. The anomaly
// verdict is computed against the baseline as it stood before the fold.
func (a *Analyzer) Observe(ctx context.Context, obs *Observation) (*Verdict, error) {
	key := obs.Key()

	baseline, err := a.store.GetBaseline(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to load baseline for %s: %w", key, err)
	}

	verdict := &Verdict{
		Key:             key,
		BaselineAvg:     baseline.AvgCount,
		OccurrenceCount: baseline.OccurrenceCount,
	}

	if baseline.OccurrenceCount < minOccurrences {
		verdict.Learning = true
	} else if stdDev := baseline.StdDev(); stdDev > 0 {
		verdict.ZScore = (obs.Count - baseline.AvgCount) / stdDev
		verdict.Anomalous = verdict.ZScore > zScoreThreshold
	}

	seenAt := obs.SeenAt
	if seenAt.IsZero() {
		seenAt = a.now().UTC()
	}
	if err := a.store.UpdateBaseline(ctx, key, obs.Count, seenAt); err != nil {
		return nil, fmt.Errorf("failed to update baseline for %s: %w", key, err)
	}

	if verdict.Anomalous {
		a.logger.Warn("pattern anomaly detected",
			"key", key, "count", obs.Count, "baseline_avg", verdict.BaselineAvg,
			"z_score", verdict.ZScore)
	}
	return verdict, nil
}
