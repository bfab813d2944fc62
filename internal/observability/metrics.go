package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "crime_etl"

// Metrics holds the Prometheus counters, histograms, and gauges for a batch run.
type Metrics struct {
	// Remote API metrics.
	PagesFetched *prometheus.CounterVec // labels: dataset
	RowsFetched  *prometheus.CounterVec // labels: dataset
	FetchErrors  *prometheus.CounterVec // labels: dataset
	APIDuration  prometheus.Histogram

	// Resource downloads by outcome={downloaded,cached}.
	ResourceFetches *prometheus.CounterVec // labels: dataset, outcome

	// Clean dataset metrics.
	CacheLoads        *prometheus.CounterVec   // labels: dataset, source={cache,rebuild}
	TransformDuration *prometheus.HistogramVec // labels: dataset
	RowsCleaned       *prometheus.CounterVec   // labels: dataset
	WatermarkAge      *prometheus.GaugeVec     // labels: dataset

	RecordsPublished *prometheus.CounterVec // labels: dataset
}

// NewMetrics creates all metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := newMetrics()
	reg.MustRegister(
		m.PagesFetched,
		m.RowsFetched,
		m.FetchErrors,
		m.APIDuration,
		m.ResourceFetches,
		m.CacheLoads,
		m.TransformDuration,
		m.RowsCleaned,
		m.WatermarkAge,
		m.RecordsPublished,
	)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, so tests can
// build as many as they like.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		PagesFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pages_fetched_total",
			Help:      "Result pages fetched from the Socrata API.",
		}, []string{"dataset"}),
		RowsFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_fetched_total",
			Help:      "Rows fetched from the Socrata API.",
		}, []string{"dataset"}),
		FetchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_errors_total",
			Help:      "Aborted paginated fetches.",
		}, []string{"dataset"}),
		APIDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "api_request_duration_seconds",
			Help:      "Socrata API request duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		ResourceFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resource_fetches_total",
			Help:      "Raw resource loads by outcome (downloaded or cached).",
		}, []string{"dataset", "outcome"}),
		CacheLoads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "clean_loads_total",
			Help:      "Clean dataset loads by source (cache or rebuild).",
		}, []string{"dataset", "source"}),
		TransformDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transform_duration_seconds",
			Help:      "Duration of a dataset transform.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
		}, []string{"dataset"}),
		RowsCleaned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_cleaned_total",
			Help:      "Rows produced by dataset transforms.",
		}, []string{"dataset"}),
		WatermarkAge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "watermark_age_seconds",
			Help:      "Age of the newest local record when an incremental fetch starts.",
		}, []string{"dataset"}),
		RecordsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_published_total",
			Help:      "Clean records published to Kafka.",
		}, []string{"dataset"}),
	}
}
