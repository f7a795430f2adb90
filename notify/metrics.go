package notify

import "github.com/prometheus/client_golang/prometheus"

// Metrics is a prometheus.Collector tracking notification-queue
// overflow, grounded on the teacher's pkg/statemetrics Describe/Collect
// pair over a single prometheus.Counter instead of a GaugeVec, since
// there is exactly one dimension to track here.
type Metrics struct {
	dropped prometheus.Counter
}

func NewMetrics() *Metrics {
	return &Metrics{
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Subsystem: "notify",
			Name:      "queue_overflow_dropped_total",
			Help:      "Notifications dropped because the delivery queue was at capacity.",
		}),
	}
}

func (m *Metrics) Inc() {
	if m == nil || m.dropped == nil {
		return
	}
	m.dropped.Inc()
}

func (m *Metrics) Describe(ch chan<- *prometheus.Desc) { m.dropped.Describe(ch) }
func (m *Metrics) Collect(ch chan<- prometheus.Metric)  { m.dropped.Collect(ch) }
