// Package metrics provides Prometheus metrics for protocol roles.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vadiminshakov/threepc/core/dto"
)

// Metrics holds all Prometheus metrics of a node. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	StateEntries     *prometheus.CounterVec
	MessagesSent     *prometheus.CounterVec
	MessagesReceived *prometheus.CounterVec
	Timeouts         *prometheus.CounterVec
	Crashes          *prometheus.CounterVec
	Outcomes         *prometheus.CounterVec
	Elections        prometheus.Counter
	LocalDecisions   *prometheus.CounterVec
}

// New creates metrics registered in a fresh registry under the given namespace.
func New(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		StateEntries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_entries_total",
			Help:      "Number of state transitions by role and state",
		}, []string{"role", "state"}),
		MessagesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Number of protocol messages broadcast by role and kind",
		}, []string{"role", "kind"}),
		MessagesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Number of protocol messages received by role and kind",
		}, []string{"role", "kind"}),
		Timeouts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "receive_timeouts_total",
			Help:      "Number of receive timeouts by role and state",
		}, []string{"role", "state"}),
		Crashes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "simulated_crashes_total",
			Help:      "Number of simulated coordinator crashes by checkpoint",
		}, []string{"state"}),
		Outcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outcomes_total",
			Help:      "Number of terminated role runs by role and final state",
		}, []string{"role", "state"}),
		Elections: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "elections_total",
			Help:      "Number of termination protocol elections started",
		}),
		LocalDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "local_decisions_total",
			Help:      "Number of local work results by decision",
		}, []string{"decision"}),
	}
}

// Registry returns the registry the metrics are registered in.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the metrics in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) StateEntered(role dto.Role, state dto.State) {
	if m == nil {
		return
	}
	m.StateEntries.WithLabelValues(string(role), string(state)).Inc()
}

func (m *Metrics) Sent(role dto.Role, msg dto.Message, recipients int) {
	if m == nil {
		return
	}
	m.MessagesSent.WithLabelValues(string(role), msg.Kind.String()).Add(float64(recipients))
}

func (m *Metrics) Received(role dto.Role, msg dto.Message) {
	if m == nil {
		return
	}
	m.MessagesReceived.WithLabelValues(string(role), msg.Kind.String()).Inc()
}

func (m *Metrics) Timeout(role dto.Role, state dto.State) {
	if m == nil {
		return
	}
	m.Timeouts.WithLabelValues(string(role), string(state)).Inc()
}

func (m *Metrics) Crashed(state dto.State) {
	if m == nil {
		return
	}
	m.Crashes.WithLabelValues(string(state)).Inc()
}

func (m *Metrics) Terminated(o dto.Outcome) {
	if m == nil {
		return
	}
	m.Outcomes.WithLabelValues(string(o.Role), string(o.State)).Inc()
}

func (m *Metrics) ElectionStarted() {
	if m == nil {
		return
	}
	m.Elections.Inc()
}

func (m *Metrics) Decided(d dto.Decision) {
	if m == nil {
		return
	}
	m.LocalDecisions.WithLabelValues(string(d)).Inc()
}
