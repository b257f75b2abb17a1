package observability

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "kbadmin"

// Record outcome label values of kbadmin_records_total.
const (
	OutcomeMatched           = "matched"
	OutcomeUnchanged         = "unchanged"
	OutcomeSkippedMissingKey = "skipped_missing_key"
	OutcomeSkippedNoMatch    = "skipped_no_match"
	OutcomeSkippedAmbiguous  = "skipped_ambiguous"
)

// KBMetrics contains the kbadmin metrics, registered on one registry.
type KBMetrics struct {
	registry *prometheus.Registry

	// Reconciliation runs
	RunsTotal       prometheus.Counter
	RunErrorsTotal  prometheus.Counter
	DryRunsTotal    prometheus.Counter
	RunDuration     prometheus.Histogram
	ActiveRuns      prometheus.Gauge
	LastRunUnixTime prometheus.Gauge

	// Record outcomes, one child of Records per outcome
	Records                *prometheus.CounterVec
	MatchedTotal           prometheus.Counter
	UnchangedTotal         prometheus.Counter
	SkippedMissingKeyTotal prometheus.Counter
	SkippedNoMatchTotal    prometheus.Counter
	SkippedAmbiguousTotal  prometheus.Counter

	// Writes
	DocumentsUpdatedTotal prometheus.Counter
	FieldsWrittenTotal    prometheus.Counter
	ApplyDuration         prometheus.Histogram

	// Explorer
	HTTPRequestsTotal *prometheus.CounterVec
	HTTPDuration      *prometheus.HistogramVec
}

// NewKBMetrics creates the kbadmin metrics on a fresh registry.
func NewKBMetrics() *KBMetrics {
	return NewKBMetricsOn(prometheus.NewRegistry())
}

// NewKBMetricsOn creates the kbadmin metrics and registers them on reg.
// It panics if reg already holds metrics with the same names.
func NewKBMetricsOn(reg *prometheus.Registry) *KBMetrics {
	records := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "records",
		Name:      "total",
		Help:      "Records seen by reconciliation, by outcome.",
	}, []string{"outcome"})

	m := &KBMetrics{
		registry: reg,

		RunsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "reconcile",
			Name:      "runs_total",
			Help:      "Total reconciliation runs.",
		}),
		RunErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "reconcile",
			Name:      "errors_total",
			Help:      "Total failed reconciliation runs.",
		}),
		DryRunsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "reconcile",
			Name:      "dry_runs_total",
			Help:      "Total dry-run reconciliations.",
		}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "reconcile",
			Name:      "duration_seconds",
			Help:      "Reconciliation run duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}),
		ActiveRuns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "reconcile",
			Name:      "active_runs",
			Help:      "Reconciliations in progress.",
		}),
		LastRunUnixTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "reconcile",
			Name:      "last_run_timestamp_seconds",
			Help:      "Completion time of the last run.",
		}),

		Records:                records,
		MatchedTotal:           records.WithLabelValues(OutcomeMatched),
		UnchangedTotal:         records.WithLabelValues(OutcomeUnchanged),
		SkippedMissingKeyTotal: records.WithLabelValues(OutcomeSkippedMissingKey),
		SkippedNoMatchTotal:    records.WithLabelValues(OutcomeSkippedNoMatch),
		SkippedAmbiguousTotal:  records.WithLabelValues(OutcomeSkippedAmbiguous),

		DocumentsUpdatedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "apply",
			Name:      "documents_updated_total",
			Help:      "Documents written by apply.",
		}),
		FieldsWrittenTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "apply",
			Name:      "fields_written_total",
			Help:      "Metadata fields written by apply.",
		}),
		ApplyDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "apply",
			Name:      "duration_seconds",
			Help:      "Plan apply duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}),

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Explorer HTTP requests.",
		}, []string{"method", "code"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Explorer request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
	}

	reg.MustRegister(
		m.RunsTotal, m.RunErrorsTotal, m.DryRunsTotal, m.RunDuration, m.ActiveRuns, m.LastRunUnixTime,
		m.Records,
		m.DocumentsUpdatedTotal, m.FieldsWrittenTotal, m.ApplyDuration,
		m.HTTPRequestsTotal, m.HTTPDuration,
	)
	return m
}

// Registry returns the registry the metrics are registered on.
func (m *KBMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *KBMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordPlan records the record outcomes of one plan.
func (m *KBMetrics) RecordPlan(matched, unchanged, missingKey, noMatch, ambiguous int) {
	m.MatchedTotal.Add(float64(matched))
	m.UnchangedTotal.Add(float64(unchanged))
	m.SkippedMissingKeyTotal.Add(float64(missingKey))
	m.SkippedNoMatchTotal.Add(float64(noMatch))
	m.SkippedAmbiguousTotal.Add(float64(ambiguous))
}

// RecordApply records a plan write.
func (m *KBMetrics) RecordApply(duration time.Duration, documents, fields int) {
	m.ApplyDuration.Observe(duration.Seconds())
	m.DocumentsUpdatedTotal.Add(float64(documents))
	m.FieldsWrittenTotal.Add(float64(fields))
}

// RecordRun records a finished reconciliation run.
func (m *KBMetrics) RecordRun(duration time.Duration, dryRun bool, err error) {
	m.RunsTotal.Inc()
	m.RunDuration.Observe(duration.Seconds())
	m.LastRunUnixTime.SetToCurrentTime()
	if dryRun {
		m.DryRunsTotal.Inc()
	}
	if err != nil {
		m.RunErrorsTotal.Inc()
	}
}

// RecordHTTP records one explorer request.
func (m *KBMetrics) RecordHTTP(method string, duration time.Duration, status int) {
	m.HTTPRequestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(method).Observe(duration.Seconds())
}

var (
	globalMetrics *KBMetrics
	metricsOnce   sync.Once
)

// Metrics returns the process-wide metrics instance. Its registry also
// carries the Go runtime and process collectors.
func Metrics() *KBMetrics {
	metricsOnce.Do(func() {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		globalMetrics = NewKBMetricsOn(reg)
	})
	return globalMetrics
}
