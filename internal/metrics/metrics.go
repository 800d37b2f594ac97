package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "sentinel"

// Metrics holds the service's collectors on a private registry. There is no
// listener; the registry is exported to a node-exporter textfile.
type Metrics struct {
	Registry *prometheus.Registry

	// Authentication metrics
	AuthAttempts *prometheus.CounterVec
	KDFDuration  prometheus.Histogram

	// Rate limiter metrics
	RateLimitDenials   prometheus.Counter
	RateLimitEvictions prometheus.Counter

	// Session token metrics
	TokensIssued     prometheus.Counter
	TokenValidations *prometheus.CounterVec

	// Audit metrics
	AuditEvents        *prometheus.CounterVec
	AuditWriteFailures *prometheus.CounterVec

	// Maintenance metrics
	CleanupDeleted *prometheus.CounterVec
	CleanupRuns    *prometheus.CounterVec

	// Alert metrics
	AlertsSent *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	f := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		AuthAttempts: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "auth_attempts_total",
				Help:      "Login attempts by stage and outcome",
			},
			[]string{"stage", "outcome"},
		),
		KDFDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "kdf_duration_seconds",
				Help:      "Time spent deriving and comparing password hashes",
				Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~2.5s
			},
		),

		RateLimitDenials: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limit_denials_total",
				Help:      "Attempts rejected by the rate limiter",
			},
		),
		RateLimitEvictions: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limit_evictions_total",
				Help:      "Rate-limit keys evicted because the key table was full",
			},
		),

		TokensIssued: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "session_tokens_issued_total",
				Help:      "One-time session tokens issued",
			},
		),
		TokenValidations: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "session_token_validations_total",
				Help:      "Session token validations by result",
			},
			[]string{"result"},
		),

		AuditEvents: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "audit_events_total",
				Help:      "Audit events recorded by type",
			},
			[]string{"event_type"},
		),
		AuditWriteFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "audit_write_failures_total",
				Help:      "Audit writes that failed by sink",
			},
			[]string{"sink"}, // file, store
		),

		CleanupDeleted: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cleanup_deleted_rows_total",
				Help:      "Rows removed by retention cleanup by table",
			},
			[]string{"table"},
		),
		CleanupRuns: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cleanup_runs_total",
				Help:      "Retention cleanup runs by result",
			},
			[]string{"result"},
		),

		AlertsSent: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "alerts_total",
				Help:      "Lockout alerts by result",
			},
			[]string{"result"}, // sent, failed, throttled
		),
	}
}

// WriteTextfile atomically writes the registry in text exposition format
func (m *Metrics) WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.Registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
