// Package observability defines the read-only telemetry collaborator
// interfaces. The telemetry agent consumes these; production deployments
// plug in a real metrics/logs/traces backend, and absent data fails open.
package observability

import (
	"context"
	"sync"
	"time"
)

// MetricStats is an aggregate over one metric in a query window.
type MetricStats struct {
	MetricName string
	Average    float64
	Maximum    float64
	Sum        float64
	// Samples is the number of datapoints behind the aggregates. Zero
	// means the backend had no data for the window.
	Samples int
}

// LogSummary is an aggregate over log events in a query window.
type LogSummary struct {
	ErrorCount   int
	SampleErrors []string
}

// TraceSummary is an aggregate over request traces in a query window.
type TraceSummary struct {
	FaultCount    int
	ThrottleCount int
	TotalTraces   int
}

// Source is the combined read-only observability interface for one region.
// All methods honor the context deadline and return zero-valued aggregates
// when the backend has no data.
type Source interface {
	// GetMetricStats aggregates one metric for the resource over the window.
	GetMetricStats(ctx context.Context, resourceType, resourceID, metricName string, start, end time.Time) (*MetricStats, error)

	// QueryLogs counts error-level log events for the resource over the window.
	QueryLogs(ctx context.Context, resourceType, resourceID string, start, end time.Time) (*LogSummary, error)

	// QueryTraces summarizes request traces touching the resource over the window.
	QueryTraces(ctx context.Context, resourceType, resourceID string, start, end time.Time) (*TraceSummary, error)
}

// Factory builds a Source bound to a region.
type Factory func(region string) Source

// Pool caches per-region sources. The telemetry agent switches regions when
// an incident arrives from a satellite region.
type Pool struct {
	mu      sync.Mutex
	factory Factory
	sources map[string]Source
}

// NewPool creates a region-keyed source pool. A nil factory yields NoData
// sources everywhere.
func NewPool(factory Factory) *Pool {
	if factory == nil {
		factory = func(string) Source { return NoData{} }
	}
	return &Pool{
		factory: factory,
		sources: make(map[string]Source),
	}
}

// ForRegion returns the cached source for the region, creating it on first use.
func (p *Pool) ForRegion(region string) Source {
	p.mu.Lock()
	defer p.mu.Unlock()
	if src, ok := p.sources[region]; ok {
		return src
	}
	src := p.factory(region)
	p.sources[region] = src
	return src
}

// NoData is a Source with no backend. Every query succeeds with empty
// aggregates, so the telemetry agent reports a healthy resource.
type NoData struct{}

var _ Source = NoData{}

func (NoData) GetMetricStats(_ context.Context, _, _, metricName string, _, _ time.Time) (*MetricStats, error) {
	return &MetricStats{MetricName: metricName}, nil
}

func (NoData) QueryLogs(_ context.Context, _, _ string, _, _ time.Time) (*LogSummary, error) {
	return &LogSummary{}, nil
}

func (NoData) QueryTraces(_ context.Context, _, _ string, _, _ time.Time) (*TraceSummary, error) {
	return &TraceSummary{}, nil
}
