package bitmap

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Allocation origins.
const (
	originLocal     = "local"
	originWorker    = "worker"
	originForWorker = "for_worker"
)

// Removal paths.
const (
	removeByID      = "id"
	removeByProcess = "process"
	removeByHandle  = "handle"
)

type metrics struct {
	live       prometheus.Gauge
	allocs     *prometheus.CounterVec
	failures   *prometheus.CounterVec
	removals   *prometheus.CounterVec
	allocBytes metric.Int64Histogram
}

func newMetrics(conf *Config) (*metrics, error) {
	m := &metrics{
		live: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: conf.MetricsNamespace,
			Name:      "live",
			Help:      "Number of bitmaps currently registered.",
		}),
		allocs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: conf.MetricsNamespace,
			Name:      "allocations_total",
			Help:      "Bitmaps registered, by origin.",
		}, []string{"origin"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: conf.MetricsNamespace,
			Name:      "allocation_failures_total",
			Help:      "Failed bitmap registrations, by origin and reason.",
		}, []string{"origin", "reason"}),
		removals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: conf.MetricsNamespace,
			Name:      "removals_total",
			Help:      "Bitmaps removed from the registry, by removal path.",
		}, []string{"path"}),
	}
	hist, err := conf.Meter.Int64Histogram("shared_bitmap.allocation.size",
		metric.WithUnit("By"),
		metric.WithDescription("Byte capacity of registered bitmaps."))
	if err != nil {
		return nil, err
	}
	m.allocBytes = hist

	if conf.Registerer != nil {
		for _, c := range []prometheus.Collector{m.live, m.allocs, m.failures, m.removals} {
			if err := conf.Registerer.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *metrics) allocated(origin string, capacity int) {
	m.allocs.WithLabelValues(origin).Inc()
	m.live.Inc()
	m.allocBytes.Record(context.Background(), int64(capacity),
		metric.WithAttributes(attribute.String("origin", origin)))
}

func (m *metrics) failed(origin string, reason error) {
	m.failures.WithLabelValues(origin, failureReason(reason)).Inc()
}

func (m *metrics) removed(path string, n int) {
	if n == 0 {
		return
	}
	m.removals.WithLabelValues(path).Add(float64(n))
	m.live.Sub(float64(n))
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrCapacity):
		return "capacity"
	case errors.Is(err, ErrDuplicateID):
		return "duplicate"
	default:
		return "allocation"
	}
}
