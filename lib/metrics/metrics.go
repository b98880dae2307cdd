// Package metrics exposes session health for Prometheus.
// A nil *Collector is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-i2p/meshlink/lib/peers"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "meshlink"

// Collector records lifecycle and peer table metrics for one client.
type Collector struct {
	transitions     *prometheus.CounterVec
	faults          *prometheus.CounterVec
	decisions       *prometheus.CounterVec
	peers           *prometheus.GaugeVec
	connectAttempts prometheus.Counter
	dropped         prometheus.Counter
	startTime       prometheus.Gauge
}

// New registers the collector's metrics with reg.
func New(reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)
	return &Collector{
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_transitions_total",
			Help:      "Total lifecycle state transitions",
		}, []string{"from", "to"}),
		faults: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "faults_total",
			Help:      "Total faults delivered on the error channel by kind",
		}, []string{"kind"}),
		decisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Total host decisions by decision point and answer",
		}, []string{"decision", "accepted"}),
		peers: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "peers",
			Help:      "Peers in the latest table snapshot by status",
		}, []string{"status"}),
		connectAttempts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connect_attempts_total",
			Help:      "Total coordination server connect attempts",
		}),
		dropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_dropped_total",
			Help:      "Total notifications dropped because the host was not keeping up",
		}),
		startTime: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_start_time_seconds",
			Help:      "Unix timestamp when the session became active",
		}),
	}
}

// Transition records a state change.
func (c *Collector) Transition(from, to string) {
	if c == nil {
		return
	}
	c.transitions.WithLabelValues(from, to).Inc()
}

// Fault records a fault of the named kind.
func (c *Collector) Fault(kind string) {
	if c == nil {
		return
	}
	c.faults.WithLabelValues(kind).Inc()
}

// Decision records the host's answer at a decision point.
func (c *Collector) Decision(name string, accepted bool) {
	if c == nil {
		return
	}
	c.decisions.WithLabelValues(name, strconv.FormatBool(accepted)).Inc()
}

// Peers records per-status peer counts.
func (c *Collector) Peers(counts map[peers.Status]int) {
	if c == nil {
		return
	}
	for status, n := range counts {
		c.peers.WithLabelValues(status.String()).Set(float64(n))
	}
}

// ConnectAttempt records one attempt to reach a coordination server.
func (c *Collector) ConnectAttempt() {
	if c == nil {
		return
	}
	c.connectAttempts.Inc()
}

// Dropped records a notification the host never received.
func (c *Collector) Dropped() {
	if c == nil {
		return
	}
	c.dropped.Inc()
}

// Started records the time the session became active.
func (c *Collector) Started(t time.Time) {
	if c == nil {
		return
	}
	c.startTime.Set(float64(t.Unix()))
}

// Handler returns an http.Handler that exposes the metrics in g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
