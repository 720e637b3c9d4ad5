package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics for volume loading. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	CacheHits       prometheus.Counter
	CacheMisses     prometheus.Counter
	DecodeFailures  *prometheus.CounterVec
	DecodeDurations *prometheus.HistogramVec
}

// New creates the metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		CacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "voxview_cache_hits_total",
			Help: "Volume requests served from the cache slot",
		}),
		CacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "voxview_cache_misses_total",
			Help: "Volume requests that required decoding",
		}),
		DecodeFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voxview_decode_failures_total",
			Help: "Failed decode attempts by decoder",
		}, []string{"decoder"}),
		DecodeDurations: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "voxview_decode_duration_seconds",
			Help:    "Time spent in each decode attempt",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
		}, []string{"decoder"}),
	}
}

// IncrementCacheHits records a cache hit
func (m *Metrics) IncrementCacheHits() {
	if m == nil {
		return
	}
	m.CacheHits.Inc()
}

// IncrementCacheMisses records a cache miss
func (m *Metrics) IncrementCacheMisses() {
	if m == nil {
		return
	}
	m.CacheMisses.Inc()
}

// ObserveDecode records the duration and outcome of one decode attempt.
func (m *Metrics) ObserveDecode(decoder string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.DecodeDurations.WithLabelValues(decoder).Observe(elapsed.Seconds())
	if err != nil {
		m.DecodeFailures.WithLabelValues(decoder).Inc()
	}
}
