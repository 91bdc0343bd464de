package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "nyc_etl"

// Metrics holds the Prometheus counters, histograms, and gauges for the ETL pipeline.
type Metrics struct {
	PipelineRunning prometheus.Gauge
	RunDuration     prometheus.Histogram
	RunsTotal       *prometheus.CounterVec // labels: outcome={success,error}

	// Fetch metrics, labelled by source={incidents,weather}.
	PagesFetched *prometheus.CounterVec
	PagesFailed  *prometheus.CounterVec
	FetchRetries *prometheus.CounterVec
	FetchRounds  *prometheus.CounterVec
	RowsFetched  *prometheus.CounterVec

	// Merge and normalization.
	RowsAppended       prometheus.Counter
	RowsUpdated        prometheus.Counter
	ValidationWarnings prometheus.Counter
	RowsDropped        *prometheus.CounterVec // labels: reason={watermark,filter,duplicate}
	FuzzyMatches       *prometheus.CounterVec // labels: column

	// Sink.
	RowsLoaded *prometheus.CounterVec // labels: table
}

func newMetrics() *Metrics {
	return &Metrics{
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_running",
			Help:      "1 while a pipeline run is in progress.",
		}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of a complete extract, model and load run.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}),
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Pipeline runs by outcome.",
		}, []string{"outcome"}),
		PagesFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pages_fetched_total",
			Help:      "Source pages fetched successfully.",
		}, []string{"source"}),
		PagesFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pages_failed_total",
			Help:      "Source pages that failed after all attempts.",
		}, []string{"source"}),
		FetchRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_retries_total",
			Help:      "Page requests retried after a transient failure.",
		}, []string{"source"}),
		FetchRounds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_rounds_total",
			Help:      "Concurrent fetch rounds executed.",
		}, []string{"source"}),
		RowsFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_fetched_total",
			Help:      "Rows returned by the sources.",
		}, []string{"source"}),
		RowsAppended: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_appended_total",
			Help:      "New incidents appended by the merge.",
		}),
		RowsUpdated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_updated_total",
			Help:      "Existing incidents whose slowly-changing columns were updated.",
		}),
		ValidationWarnings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validation_warnings_total",
			Help:      "Post-merge schema mismatches.",
		}),
		RowsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_dropped_total",
			Help:      "Rows dropped before modeling, by reason.",
		}, []string{"reason"}),
		FuzzyMatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fuzzy_matches_total",
			Help:      "Values replaced by the fuzzy fallback, by column.",
		}, []string{"column"}),
		RowsLoaded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_loaded_total",
			Help:      "Rows written to the warehouse, by table.",
		}, []string{"table"}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.PipelineRunning, m.RunDuration, m.RunsTotal,
		m.PagesFetched, m.PagesFailed, m.FetchRetries, m.FetchRounds, m.RowsFetched,
		m.RowsAppended, m.RowsUpdated, m.ValidationWarnings, m.RowsDropped, m.FuzzyMatches,
		m.RowsLoaded,
	}
}

// NewMetrics creates and registers all pipeline metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates unregistered Metrics to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}
