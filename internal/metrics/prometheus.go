package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "netmon"

// Collectors holds the Prometheus mirror of the pipeline counters.
type Collectors struct {
	Registry *prometheus.Registry

	Ticks         prometheus.Counter
	Segments      prometheus.Counter
	Windows       prometheus.Counter
	Flows         prometheus.Counter
	Alerts        prometheus.Counter
	Narratives    *prometheus.CounterVec
	Errors        *prometheus.CounterVec
	StageDuration *prometheus.HistogramVec
	LastWindow    prometheus.Gauge
}

// NewCollectors registers every collector on a fresh private registry,
// together with the Go runtime and process collectors.
func NewCollectors() *Collectors {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Collectors{
		Registry: reg,
		Ticks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Completed scheduler ticks",
		}),
		Segments: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segments_extracted_total",
			Help:      "Capture segments converted into feature files",
		}),
		Windows: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "windows_stored_total",
			Help:      "Windows persisted to the store",
		}),
		Flows: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flows_analyzed_total",
			Help:      "Flows read from feature files",
		}),
		Alerts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_created_total",
			Help:      "Alerts created",
		}),
		Narratives: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "narratives_total",
			Help:      "Narrative enrichment attempts by outcome",
		}, []string{"outcome"}),
		Errors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Pipeline errors by kind",
		}, []string{"kind"}),
		StageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Latency of pipeline stages",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		}, []string{"stage"}),
		LastWindow: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_window_timestamp_seconds",
			Help:      "Unix time of the last persisted window",
		}),
	}
}
