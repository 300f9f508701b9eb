package optracker

import "github.com/prometheus/client_golang/prometheus"

// Eviction reasons reported on optracker_history_evictions_total.
const (
	EvictTTL      = "ttl"
	EvictCapacity = "capacity"
	EvictShutdown = "shutdown"
)

// Metrics are the tracker's Prometheus collectors.
type Metrics struct {
	inFlight     prometheus.Gauge
	historySize  prometheus.Gauge
	slowRequests prometheus.Counter
	slowWarnings prometheus.Counter
	evictions    *prometheus.CounterVec
}

// NewMetrics builds the collectors and registers them with reg.
// A nil reg leaves them unregistered, which is what tests normally want.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "optracker_ops_in_flight",
			Help: "Number of ops currently in flight",
		}),
		historySize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "optracker_history_size",
			Help: "Number of retired ops retained in history",
		}),
		slowRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "optracker_slow_requests_total",
			Help: "Slow ops seen across all slow-request checks",
		}),
		slowWarnings: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "optracker_slow_warnings_total",
			Help: "Slow-request warning lines emitted",
		}),
		evictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "optracker_history_evictions_total",
			Help: "Ops dropped from history, by reason",
		}, []string{"reason"}),
	}
	if reg != nil {
		reg.MustRegister(m.inFlight, m.historySize, m.slowRequests, m.slowWarnings, m.evictions)
	}
	return m
}
