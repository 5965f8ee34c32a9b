package series

import "github.com/prometheus/client_golang/prometheus"

const namespace = "vesper"
const subsystem = "catalog"

// Metrics tracks the size of the series catalog.
type Metrics struct {
	SeriesCreated prometheus.Counter
	PoolBytes     prometheus.Gauge
}

// NewMetrics returns catalog metrics. Collectors must be registered by the
// caller.
func NewMetrics() *Metrics {
	return &Metrics{
		SeriesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "series_created_total",
			Help:      "Total number of series added to the catalog.",
		}),
		PoolBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "pool_bytes",
			Help:      "Bytes interned in the series string pool.",
		}),
	}
}

// PrometheusCollectors returns all collectors for registration.
func (m *Metrics) PrometheusCollectors() []prometheus.Collector {
	return []prometheus.Collector{m.SeriesCreated, m.PoolBytes}
}
