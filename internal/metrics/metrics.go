// Package metrics exposes the Write Worker's operational counters as
// Prometheus metrics. Not named by spec.md, but a natural adjunct the
// pack's ambient stack supplies — autobrr-qui's internal/metrics.Manager
// (a struct wrapping a *prometheus.Registry plus sub-collectors, with a
// GetRegistry accessor) is the shape this package follows.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector wraps the gauges/counters/histograms the Write Worker reports
// through. A nil *Collector is valid everywhere it is accepted — store.Open
// works without metrics wired in.
type Collector struct {
	registry *prometheus.Registry

	queueDepth    prometheus.Gauge
	commitsTotal  prometheus.Counter
	commitLatency prometheus.Histogram
	mapFullTotal  prometheus.Counter
}

// NewCollector builds a Collector registered against a fresh registry.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "lmdbhost",
			Name:      "command_queue_depth",
			Help:      "Number of commands currently pending on the write worker's command channel.",
		}),
		commitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lmdbhost",
			Name:      "commits_total",
			Help:      "Total number of write transactions committed.",
		}),
		commitLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "lmdbhost",
			Name:      "commit_latency_seconds",
			Help:      "Latency of write transaction commits.",
			Buckets:   prometheus.DefBuckets,
		}),
		mapFullTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lmdbhost",
			Name:      "map_full_total",
			Help:      "Total number of commits that failed with MapFull.",
		}),
	}
	c.registry.MustRegister(c.queueDepth, c.commitsTotal, c.commitLatency, c.mapFullTotal)
	return c
}

// GetRegistry returns the Prometheus registry so a caller can expose it
// over its own /metrics endpoint.
func (c *Collector) GetRegistry() *prometheus.Registry { return c.registry }

func (c *Collector) SetQueueDepth(n int) {
	if c == nil {
		return
	}
	c.queueDepth.Set(float64(n))
}

func (c *Collector) ObserveCommit(d time.Duration) {
	if c == nil {
		return
	}
	c.commitLatency.Observe(d.Seconds())
}

func (c *Collector) IncCommits() {
	if c == nil {
		return
	}
	c.commitsTotal.Inc()
}

func (c *Collector) IncMapFull() {
	if c == nil {
		return
	}
	c.mapFullTotal.Inc()
}
