package agents

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nimishmehta8779/aiops-devops-agent/internal/metrics"
	"github.com/nimishmehta8779/aiops-devops-agent/internal/observability"
	"github.com/nimishmehta8779/aiops-devops-agent/internal/storage"
	"github.com/nimishmehta8779/aiops-devops-agent/internal/types"
)

// telemetryWindow is how far back telemetry looks from the event time.
const telemetryWindow = 15 * time.Minute

// Anomaly detection thresholds.
const (
	cpuAnomalyThreshold    = 80.0
	errorCountThreshold    = 5.0
	logErrorCountThreshold = 10
)

// readTimeout bounds each observability read.
const readTimeout = 30 * time.Second

// TelemetryAnalysis is the telemetry agent's analysis payload.
type TelemetryAnalysis struct {
	Region          string   `json:"region"`
	WindowStart     string   `json:"window_start"`
	WindowEnd       string   `json:"window_end"`
	CPUAverage      float64  `json:"cpu_average"`
	ErrorAverage    float64  `json:"error_average"`
	LogErrorCount   int      `json:"log_error_count"`
	TraceFaults     int      `json:"trace_faults"`
	Anomalies       []string `json:"anomalies"`
	HealthScore     float64  `json:"health_score"`
	SampleErrors    []string `json:"sample_errors,omitempty"`
	DataUnavailable bool     `json:"data_unavailable,omitempty"`
	Skipped         bool     `json:"skipped,omitempty"`
}

// TelemetryExecution records what telemetry persisted.
type TelemetryExecution struct {
	Persisted bool `json:"persisted"`
}

// TelemetryAgent gathers metrics, logs, and traces for the 15 minutes before
// the event and derives a health score. It switches to the incident's region
// when that differs from its own.
type TelemetryAgent struct {
	pool    *observability.Pool
	store   storage.Store
	metrics *metrics.Metrics
	region  string
	logger  *slog.Logger
}

// NewTelemetryAgent creates the telemetry agent bound to a home region.
func NewTelemetryAgent(pool *observability.Pool, store storage.Store, m *metrics.Metrics, region string, logger *slog.Logger) *TelemetryAgent {
	if logger == nil {
		logger = slog.Default()
	}
	return &TelemetryAgent{
		pool:    pool,
		store:   store,
		metrics: m,
		region:  region,
		logger:  logger,
	}
}

func (a *TelemetryAgent) Type() types.AgentType         { return types.AgentTelemetry }
func (a *TelemetryAgent) Priority() types.AgentPriority { return types.PriorityHigh }

// Analyze reads observability data for the incident window. Backend errors
// degrade to a no-data analysis rather than failing the agent; absent data
// means absent anomalies.
func (a *TelemetryAgent) Analyze(ctx context.Context, ictx *types.IncidentContext) (any, error) {
	// Duplicates keep every slot after triage empty; the original incident
	// already carries the telemetry.
	if isDuplicateIncident(ictx) {
		return &TelemetryAnalysis{Skipped: true}, nil
	}

	region := a.region
	if ictx.Region != "" && ictx.Region != a.region {
		region = ictx.Region
		a.logger.Info("telemetry switching region",
			"correlation_id", ictx.CorrelationID, "from", a.region, "to", region)
	}
	source := a.pool.ForRegion(region)

	end := ictx.EventTime
	if end.IsZero() {
		end = time.Now().UTC()
	}
	start := end.Add(-telemetryWindow)

	analysis := &TelemetryAnalysis{
		Region:      region,
		WindowStart: start.UTC().Format(time.RFC3339),
		WindowEnd:   end.UTC().Format(time.RFC3339),
		Anomalies:   []string{},
	}

	cpu, err := readStats(ctx, source, ictx, "CPUUtilization", start, end)
	if err != nil {
		a.logger.Warn("metric read failed", "correlation_id", ictx.CorrelationID, "metric", "CPUUtilization", "error", err)
		analysis.DataUnavailable = true
	} else if cpu.Samples > 0 {
		analysis.CPUAverage = cpu.Average
		if cpu.Average > cpuAnomalyThreshold {
			analysis.Anomalies = append(analysis.Anomalies, fmt.Sprintf("cpu average %.1f%% exceeds %.0f%%", cpu.Average, cpuAnomalyThreshold))
		}
	}

	errs, err := readStats(ctx, source, ictx, "Errors", start, end)
	if err != nil {
		a.logger.Warn("metric read failed", "correlation_id", ictx.CorrelationID, "metric", "Errors", "error", err)
		analysis.DataUnavailable = true
	} else if errs.Samples > 0 {
		analysis.ErrorAverage = errs.Average
		if errs.Average > errorCountThreshold {
			analysis.Anomalies = append(analysis.Anomalies, fmt.Sprintf("error average %.1f exceeds %.0f", errs.Average, errorCountThreshold))
		}
	}

	logs, err := readLogs(ctx, source, ictx, start, end)
	if err != nil {
		a.logger.Warn("log query failed", "correlation_id", ictx.CorrelationID, "error", err)
		analysis.DataUnavailable = true
	} else {
		analysis.LogErrorCount = logs.ErrorCount
		analysis.SampleErrors = logs.SampleErrors
		if logs.ErrorCount > logErrorCountThreshold {
			analysis.Anomalies = append(analysis.Anomalies, fmt.Sprintf("log error count %d exceeds %d", logs.ErrorCount, logErrorCountThreshold))
		}
	}

	traces, err := readTraces(ctx, source, ictx, start, end)
	if err != nil {
		a.logger.Warn("trace query failed", "correlation_id", ictx.CorrelationID, "error", err)
		analysis.DataUnavailable = true
	} else {
		analysis.TraceFaults = traces.FaultCount
	}

	analysis.HealthScore = healthScore(len(analysis.Anomalies))
	return analysis, nil
}

// Execute persists the telemetry analysis onto the incident record.
func (a *TelemetryAgent) Execute(ctx context.Context, ictx *types.IncidentContext, analysis any) (any, error) {
	ta, ok := analysis.(*TelemetryAnalysis)
	if !ok {
		return nil, fmt.Errorf("unexpected telemetry analysis type %T", analysis)
	}

	if ta.Skipped {
		return &TelemetryExecution{}, nil
	}

	if err := a.store.UpdateIncident(ctx, ictx.CorrelationID, map[string]any{
		"telemetry_results": mustMarshal(ta),
	}); err != nil {
		return nil, fmt.Errorf("failed to persist telemetry results: %w", err)
	}

	if a.metrics != nil {
		a.metrics.AnomaliesDetected.Add(float64(len(ta.Anomalies)))
		a.metrics.HealthScore.Observe(ta.HealthScore)
	}

	return &TelemetryExecution{Persisted: true}, nil
}

// Each observability read carries its own timeout so one slow backend
// cannot consume the budget of the reads after it.

func readStats(ctx context.Context, source observability.Source, ictx *types.IncidentContext, metric string, start, end time.Time) (*observability.MetricStats, error) {
	ctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()
	return source.GetMetricStats(ctx, ictx.ResourceType, ictx.ResourceID, metric, start, end)
}

func readLogs(ctx context.Context, source observability.Source, ictx *types.IncidentContext, start, end time.Time) (*observability.LogSummary, error) {
	ctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()
	return source.QueryLogs(ctx, ictx.ResourceType, ictx.ResourceID, start, end)
}

func readTraces(ctx context.Context, source observability.Source, ictx *types.IncidentContext, start, end time.Time) (*observability.TraceSummary, error) {
	ctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()
	return source.QueryTraces(ctx, ictx.ResourceType, ictx.ResourceID, start, end)
}

// healthScore maps anomaly count to [0,1]: each anomaly costs 0.1.
func healthScore(anomalies int) float64 {
	score := 1.0 - 0.1*float64(anomalies)
	if score < 0 {
		return 0
	}
	return score
}
