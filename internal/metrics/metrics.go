// Package metrics registers and exposes the orchestrator's Prometheus
// metrics, grouped by the emitting component.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every instrument the orchestrator emits. One instance is
// shared process-wide.
type Metrics struct {
	registry *prometheus.Registry

	// triage
	IncidentClassification *prometheus.CounterVec
	SeverityScore          prometheus.Histogram
	NoiseScore             prometheus.Histogram
	DuplicateIncidents     prometheus.Counter

	// telemetry
	AnomaliesDetected prometheus.Counter
	HealthScore       prometheus.Histogram

	// risk
	RiskScore        prometheus.Histogram
	ApprovalRequired prometheus.Counter
	PolicyCompliance prometheus.Counter

	// remediation
	RemediationAttempts *prometheus.CounterVec
	StepsExecuted       prometheus.Counter

	// communications
	NotificationsSent   prometheus.Counter
	NotificationsFailed prometheus.Counter

	// engine
	IncidentCount    *prometheus.CounterVec
	RecoveryDuration *prometheus.HistogramVec
}

// New creates and registers all metrics on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto{reg}

	return &Metrics{
		registry: reg,

		IncidentClassification: factory.counterVec("aiops_triage_incident_classification_total",
			"Incidents classified, by triage classification bucket.",
			[]string{"classification"}),
		SeverityScore: factory.histogram("aiops_triage_severity_score",
			"Severity scores assigned by triage.",
			prometheus.LinearBuckets(1, 1, 10)),
		NoiseScore: factory.histogram("aiops_triage_noise_score",
			"Noise scores assigned by triage.",
			prometheus.LinearBuckets(0, 0.1, 11)),
		DuplicateIncidents: factory.counter("aiops_triage_duplicate_incidents_total",
			"Incidents detected as duplicates by fingerprint."),

		AnomaliesDetected: factory.counter("aiops_telemetry_anomalies_detected_total",
			"Telemetry anomalies detected across incidents."),
		HealthScore: factory.histogram("aiops_telemetry_health_score",
			"Resource health scores computed by telemetry.",
			prometheus.LinearBuckets(0, 0.1, 11)),

		RiskScore: factory.histogram("aiops_risk_score",
			"Risk scores computed by the risk agent.",
			prometheus.LinearBuckets(0, 0.1, 11)),
		ApprovalRequired: factory.counter("aiops_risk_approval_required_total",
			"Incidents requiring manual approval."),
		PolicyCompliance: factory.counter("aiops_risk_policy_compliant_total",
			"Policy compliance checks that passed."),

		RemediationAttempts: factory.counterVec("aiops_remediation_attempts_total",
			"Remediation executions, by outcome status.",
			[]string{"status"}),
		StepsExecuted: factory.counter("aiops_remediation_steps_executed_total",
			"Runbook steps dispatched to mutation executors."),

		NotificationsSent: factory.counter("aiops_communications_notifications_sent_total",
			"Notifications delivered."),
		NotificationsFailed: factory.counter("aiops_communications_notifications_failed_total",
			"Notification deliveries that failed."),

		IncidentCount: factory.counterVec("aiops_engine_incident_total",
			"Incidents processed, by resource type and classification.",
			[]string{"resource_type", "classification"}),
		RecoveryDuration: factory.histogramVec("aiops_engine_recovery_duration_seconds",
			"End-to-end incident recovery duration.",
			prometheus.ExponentialBuckets(1, 2, 12),
			[]string{"resource_type", "success"}),
	}
}

// Handler returns the HTTP handler serving the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for additional collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// promauto is a small helper that registers as it constructs.
type promauto struct {
	reg *prometheus.Registry
}

func (f promauto) counter(name, help string) prometheus.Counter {
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: help})
	f.reg.MustRegister(c)
	return c
}

func (f promauto) counterVec(name, help string, labels []string) *prometheus.CounterVec {
	c := prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help}, labels)
	f.reg.MustRegister(c)
	return c
}

func (f promauto) histogram(name, help string, buckets []float64) prometheus.Histogram {
	h := prometheus.NewHistogram(prometheus.HistogramOpts{Name: name, Help: help, Buckets: buckets})
	f.reg.MustRegister(h)
	return h
}

func (f promauto) histogramVec(name, help string, buckets []float64, labels []string) *prometheus.HistogramVec {
	h := prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: name, Help: help, Buckets: buckets}, labels)
	f.reg.MustRegister(h)
	return h
}
