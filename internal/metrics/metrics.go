// Package metrics exposes the server's Prometheus counters/gauges, a
// scrape surface for any poller, carried via github.com/prometheus/client_golang.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics groups the counters Hub and Connection update.
type Metrics struct {
	ConnectionsReady   prometheus.Gauge
	BroadcastsTotal    prometheus.Counter
	EventsLoggedTotal  prometheus.Counter
	FramingErrorsTotal prometheus.Counter
}

// New registers and returns the server's metrics against reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ConnectionsReady: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "teamradar",
			Name:      "connections_ready",
			Help:      "Number of connections currently in the Ready state.",
		}),
		BroadcastsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "teamradar",
			Name:      "broadcasts_total",
			Help:      "Number of frames fanned out to project-mates.",
		}),
		EventsLoggedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "teamradar",
			Name:      "events_logged_total",
			Help:      "Number of rows appended to the event log.",
		}),
		FramingErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "teamradar",
			Name:      "framing_errors_total",
			Help:      "Number of connections aborted by a framing error or transfer timeout.",
		}),
	}
	reg.MustRegister(m.ConnectionsReady, m.BroadcastsTotal, m.EventsLoggedTotal, m.FramingErrorsTotal)
	return m
}
