/*
metrics.go - Prometheus collectors

PURPOSE:
  One Metrics value implements both workflow.Metrics and ledger.Metrics and
  owns the HTTP latency histogram used by the api middleware. Collectors are
  registered on the Registerer passed in, so tests use a fresh registry.

SERIES:
  leave_transitions_total{event,from,to}          committed transitions
  leave_transition_failures_total{event,kind}     refused transitions by error kind
  leave_ledger_days_deducted_total                days taken off balances
  leave_rollover_users_total                      users reset by the yearly rollover
  leave_http_request_duration_seconds{method,route,status}

SEE ALSO:
  - workflow/engine.go: Metrics interface
  - ledger/ledger.go: Metrics interface
*/
package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/apettas/adeies/ledger"
	"github.com/apettas/adeies/workflow"
)

const namespace = "leave"

var (
	_ workflow.Metrics = (*Metrics)(nil)
	_ ledger.Metrics   = (*Metrics)(nil)
)

type Metrics struct {
	gatherer prometheus.Gatherer

	transitions  *prometheus.CounterVec
	failures     *prometheus.CounterVec
	daysDeducted prometheus.Counter
	rollover     prometheus.Counter
	httpDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers the collectors. reg must also be a
// prometheus.Gatherer for Handler to serve it; *prometheus.Registry is both.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Committed leave request transitions.",
		}, []string{"event", "from", "to"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transition_failures_total",
			Help:      "Refused leave request transitions by error kind.",
		}, []string{"event", "kind"}),
		daysDeducted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "days_deducted_total",
			Help:      "Leave days deducted from balances.",
		}),
		rollover: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rollover_users_total",
			Help:      "Users whose balance was reset by the yearly rollover.",
		}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"method", "route", "status"}),
	}
	reg.MustRegister(m.transitions, m.failures, m.daysDeducted, m.rollover, m.httpDuration)
	if g, ok := reg.(prometheus.Gatherer); ok {
		m.gatherer = g
	}
	return m
}

func (m *Metrics) Transition(event, from, to string) {
	m.transitions.WithLabelValues(event, from, to).Inc()
}

func (m *Metrics) TransitionFailed(event, kind string) {
	m.failures.WithLabelValues(event, kind).Inc()
}

func (m *Metrics) DaysDeducted(days int) {
	if days > 0 {
		m.daysDeducted.Add(float64(days))
	}
}

func (m *Metrics) RolloverUsers(n int) {
	if n > 0 {
		m.rollover.Add(float64(n))
	}
}

// ObserveHTTP records one request. route is the matched pattern, not the raw
// path, to keep label cardinality bounded.
func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	m.httpDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
