// Package metrics wires the pool's observable counters and gauges into
// Prometheus. A nil *Registry is valid and every method on it becomes a
// no-op, so pool code never needs a nil check before touching it.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds every metric the connection pool and dialer drive.
type Registry struct {
	connections     *prometheus.GaugeVec
	connectAttempts *prometheus.CounterVec
	notifyState     *prometheus.GaugeVec
	dialDuration    *prometheus.HistogramVec
}

// New registers the pool's metrics against reg. Pass a fresh
// prometheus.NewRegistry() in tests to avoid collisions with any global
// default registry.
func New(reg prometheus.Registerer) *Registry {
	r := &Registry{
		connections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pool_connections",
			Help: "Live connections per host and shard.",
		}, []string{"host", "shard"}),
		connectAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pool_connect_attempts_total",
			Help: "Connect attempts by outcome.",
		}, []string{"host", "outcome"}),
		notifyState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pool_notify_state",
			Help: "Pool notify_state, encoded 0=NEW 1=UP 2=DOWN 3=CRITICAL.",
		}, []string{"host"}),
		dialDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dial_duration_seconds",
			Help:    "Time spent in one connect attempt, from dial start to handshake completion.",
			Buckets: prometheus.DefBuckets,
		}, []string{"host"}),
	}
	reg.MustRegister(r.connections, r.connectAttempts, r.notifyState, r.dialDuration)
	return r
}

// ConnectionsGauge returns the live-connections gauge for one host/shard
// pair.
func (r *Registry) ConnectionsGauge(host string, shard int) Gauge {
	if r == nil {
		return noopGauge{}
	}
	return r.connections.WithLabelValues(host, strconv.Itoa(shard))
}

// ObserveConnectAttempt records one dial outcome.
func (r *Registry) ObserveConnectAttempt(host, outcome string) {
	if r == nil {
		return
	}
	r.connectAttempts.WithLabelValues(host, outcome).Inc()
}

// SetNotifyState records the pool's current notify_state as a small integer
// so it can be graphed and alerted on.
func (r *Registry) SetNotifyState(host string, state int) {
	if r == nil {
		return
	}
	r.notifyState.WithLabelValues(host).Set(float64(state))
}

// ObserveDialDuration records the wall-clock time one connect attempt took.
func (r *Registry) ObserveDialDuration(host string, seconds float64) {
	if r == nil {
		return
	}
	r.dialDuration.WithLabelValues(host).Observe(seconds)
}

// Gauge is the minimal surface the pool needs; satisfied by
// prometheus.Gauge.
type Gauge interface {
	Inc()
	Dec()
}

type noopGauge struct{}

func (noopGauge) Inc() {}
func (noopGauge) Dec() {}
