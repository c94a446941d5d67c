package eventloop

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the counters the event loop updates; the gift HTTP service
// shares the registry but owns its own counters, per spec §5's "shares no
// mutable state with the core".
type Metrics struct {
	Connections prometheus.Counter
	Matches     prometheus.Counter
	Disconnects *prometheus.CounterVec
}

// NewMetrics builds a fresh, unregistered set of counters.
func NewMetrics() *Metrics {
	return &Metrics{
		Connections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cableclub_connections_total",
			Help: "Total accepted TCP connections.",
		}),
		Matches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cableclub_matches_total",
			Help: "Total successful pairings.",
		}),
		Disconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cableclub_disconnects_total",
			Help: "Total disconnects, labeled by reason.",
		}, []string{"reason"}),
	}
}

// Register adds every counter to reg; called once by cmd/cableclub against
// the shared registry also used by internal/gifts.
func (m *Metrics) Register(reg *prometheus.Registry) {
	reg.MustRegister(m.Connections, m.Matches, m.Disconnects)
}
