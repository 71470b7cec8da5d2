package grouping

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the service's Prometheus collectors.
type Metrics struct {
	Registry *prometheus.Registry

	runs            *prometheus.CounterVec
	runDuration     *prometheus.HistogramVec
	customersScored prometheus.Counter
	clusters        prometheus.Gauge
	silhouette      prometheus.Gauge
}

// NewMetrics registers the collectors on a fresh registry, so tests and
// multiple services in one process do not collide.
func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "custlysis_runs_total",
			Help: "Segmentation runs by operation and status.",
		}, []string{"operation", "status"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "custlysis_run_duration_seconds",
			Help:    "Duration of segmentation runs in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		}, []string{"operation"}),
		customersScored: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "custlysis_customers_scored_total",
			Help: "Customers assigned to a segment.",
		}),
		clusters: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "custlysis_model_clusters",
			Help: "Number of segments in the active model.",
		}),
		silhouette: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "custlysis_model_silhouette",
			Help: "Silhouette score of the active model.",
		}),
	}
	m.Registry.MustRegister(m.runs, m.runDuration, m.customersScored, m.clusters, m.silhouette)
	return m
}

func (m *Metrics) observe(operation string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.runs.WithLabelValues(operation, status).Inc()
	m.runDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
