package patterns

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/nimishmehta8779/aiops-devops-agent/internal/storage/sqlite"
)

func newAnalyzer(t *testing.T) *Analyzer {
	t.Helper()
	store, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return New(store.Patterns(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func observation(count float64) *Observation {
	return &Observation{
		LogGroup: "/app/checkout",
		Pattern:  "connection reset by peer",
		Count:    count,
		SeenAt:   time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC),
	}
}

func TestObservationKey(t *testing.T) {
	if got := observation(1).Key(); got != "/app/checkout#connection reset by peer" {
		t.Errorf("key = %q", got)
	}
}

func TestObserveLearningPhase(t *testing.T) {
	a := newAnalyzer(t)
	ctx := context.Background()

	// The first observations only train the baseline, even with wild counts.
	for i := 0; i < minOccurrences; i++ {
		verdict, err := a.Observe(ctx, observation(1000))
		if err != nil {
			t.Fatalf("observe %d failed: %v", i, err)
		}
		if !verdict.Learning {
			t.Errorf("observation %d not in learning phase", i)
		}
		if verdict.Anomalous {
			t.Errorf("observation %d flagged during learning", i)
		}
	}
}

func TestObserveDetectsSpike(t *testing.T) {
	a := newAnalyzer(t)
	ctx := context.Background()

	// Train a stable baseline around 10.
	for i := 0; i < minOccurrences; i++ {
		if _, err := a.Observe(ctx, observation(10)); err != nil {
			t.Fatalf("training observe failed: %v", err)
		}
	}

	// Baseline avg=10, derived stddev=5. A count of 100 gives z=18.
	verdict, err := a.Observe(ctx, observation(100))
	if err != nil {
		t.Fatalf("observe failed: %v", err)
	}
	if verdict.Learning {
		t.Fatal("baseline should be trained")
	}
	if !verdict.Anomalous {
		t.Errorf("spike not flagged: z=%g avg=%g", verdict.ZScore, verdict.BaselineAvg)
	}
	if verdict.ZScore <= zScoreThreshold {
		t.Errorf("z-score = %g", verdict.ZScore)
	}
}

func TestObserveNormalCountNotFlagged(t *testing.T) {
	a := newAnalyzer(t)
	ctx := context.Background()

	for i := 0; i < minOccurrences; i++ {
		if _, err := a.Observe(ctx, observation(10)); err != nil {
			t.Fatalf("training observe failed: %v", err)
		}
	}

	// 12 is well within three derived standard deviations of 10.
	verdict, err := a.Observe(ctx, observation(12))
	if err != nil {
		t.Fatalf("observe failed: %v", err)
	}
	if verdict.Anomalous {
		t.Errorf("normal count flagged: z=%g", verdict.ZScore)
	}
}

func TestObserveDropIsNotAnomalous(t *testing.T) {
	a := newAnalyzer(t)
	ctx := context.Background()

	for i := 0; i < minOccurrences; i++ {
		if _, err := a.Observe(ctx, observation(100)); err != nil {
			t.Fatalf("training observe failed: %v", err)
		}
	}

	// The detector is one-sided: a sudden quiet period is not an anomaly.
	verdict, err := a.Observe(ctx, observation(0))
	if err != nil {
		t.Fatalf("observe failed: %v", err)
	}
	if verdict.Anomalous {
		t.Error("drop flagged as anomalous")
	}
	if verdict.ZScore >= 0 {
		t.Errorf("z-score = %g, want negative", verdict.ZScore)
	}
}

func TestObserveSeparateKeys(t *testing.T) {
	a := newAnalyzer(t)
	ctx := context.Background()

	other := &Observation{LogGroup: "/app/payments", Pattern: "timeout", Count: 5}
	for i := 0; i < minOccurrences; i++ {
		if _, err := a.Observe(ctx, observation(10)); err != nil {
			t.Fatalf("observe failed: %v", err)
		}
	}

	// A different key starts from scratch.
	verdict, err := a.Observe(ctx, other)
	if err != nil {
		t.Fatalf("observe failed: %v", err)
	}
	if !verdict.Learning {
		t.Error("new key should be learning")
	}
	if verdict.OccurrenceCount != 0 {
		t.Errorf("occurrence_count = %d, want 0", verdict.OccurrenceCount)
	}
}
