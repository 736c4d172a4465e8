package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "tchi"

// Metrics holds the Prometheus counters, histograms, and gauges for the
// processing pipeline and the query service.
type Metrics struct {
	// Pipeline metrics.
	Steps         *prometheus.CounterVec   // labels: step, outcome={completed,skipped,failed,cancelled}
	StepDuration  *prometheus.HistogramVec // labels: step
	Runs          *prometheus.CounterVec   // labels: outcome={completed,unchanged,failed}
	RunInProgress prometheus.Gauge
	RunHookErrors *prometheus.CounterVec // labels: hook

	// Query metrics.
	PointQueries   *prometheus.CounterVec // labels: outcome={ok,empty,invalid,error}
	HotspotQueries *prometheus.CounterVec // labels: outcome={ok,invalid,not_found,error}
	Tiles          *prometheus.CounterVec // labels: outcome={rendered,cached,blank}
	TileDuration   prometheus.Histogram
	CacheLookups   *prometheus.CounterVec // labels: cache={grid,hotspot,geocode}, result={hit,miss}

	// Geocoding metrics.
	GeocodeRequests    *prometheus.CounterVec // labels: outcome={success,error,empty}
	GeocodeAPIDuration prometheus.Histogram
	GeocodeEnabled     prometheus.Gauge
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics(true)
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates Metrics without registering them to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics(false)
}

func newMetrics(withHelp bool) *Metrics {
	help := func(s string) string {
		if withHelp {
			return s
		}
		return ""
	}
	return &Metrics{
		Steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_steps_total",
			Help:      help("Pipeline steps by step name and outcome."),
		}, []string{"step", "outcome"}),
		StepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_step_duration_seconds",
			Help:      help("Duration of executed pipeline steps."),
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"step"}),
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_runs_total",
			Help:      help("Processing runs by outcome."),
		}, []string{"outcome"}),
		RunInProgress: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_runs_in_progress",
			Help:      help("Number of processing runs currently executing."),
		}),
		RunHookErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_run_hook_errors_total",
			Help:      help("Failures of post-run hooks (events, metadata, archival)."),
		}, []string{"hook"}),
		PointQueries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "point_queries_total",
			Help:      help("Point time-series queries by outcome."),
		}, []string{"outcome"}),
		HotspotQueries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hotspot_queries_total",
			Help:      help("Hotspot queries by outcome."),
		}, []string{"outcome"}),
		Tiles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tiles_total",
			Help:      help("Map tiles served by outcome."),
		}, []string{"outcome"}),
		TileDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tile_render_duration_seconds",
			Help:      help("Duration of tile renders."),
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      help("Cache lookups by cache and result."),
		}, []string{"cache", "result"}),
		GeocodeRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_requests_total",
			Help:      help("Reverse geocoding requests by outcome."),
		}, []string{"outcome"}),
		GeocodeAPIDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "geocode_api_duration_seconds",
			Help:      help("Mapbox API request duration in seconds."),
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		GeocodeEnabled: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "geocode_enabled",
			Help:      help("1 when hotspot naming is enabled, 0 otherwise."),
		}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.Steps,
		m.StepDuration,
		m.Runs,
		m.RunInProgress,
		m.RunHookErrors,
		m.PointQueries,
		m.HotspotQueries,
		m.Tiles,
		m.TileDuration,
		m.CacheLookups,
		m.GeocodeRequests,
		m.GeocodeAPIDuration,
		m.GeocodeEnabled,
	}
}

// CacheObserver returns a callback recording hits and misses for the named cache.
func (m *Metrics) CacheObserver(cache string) func(hit bool) {
	return func(hit bool) {
		result := "miss"
		if hit {
			result = "hit"
		}
		m.CacheLookups.WithLabelValues(cache, result).Inc()
	}
}
