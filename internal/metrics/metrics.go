// Package metrics exposes session and connection counters on a private
// Prometheus registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rbright/parley/internal/events"
	"github.com/rbright/parley/internal/fault"
	"github.com/rbright/parley/internal/fsm"
)

// Metrics holds every collector. It is both an event listener (Observe) and
// a connection observer (SignalingCompleted, ICERestarted).
type Metrics struct {
	registry *prometheus.Registry

	SessionsTotal     *prometheus.CounterVec
	StateEntriesTotal *prometheus.CounterVec
	ErrorsTotal       *prometheus.CounterVec
	ICERestartsTotal  prometheus.Counter
	SignalingDuration *prometheus.HistogramVec
	EvaluationScore   prometheus.Histogram
}

// New creates a Metrics instance with all collectors registered.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "parley"
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
		SessionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_total",
				Help:      "Sessions that reached a terminal state, by outcome",
			},
			[]string{"outcome"},
		),
		StateEntriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "state_entries_total",
				Help:      "State machine entries, by state",
			},
			[]string{"state"},
		),
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Error events, by code",
			},
			[]string{"code"},
		),
		ICERestartsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ice_restarts_total",
				Help:      "ICE restarts attempted after a connection failure",
			},
		),
		SignalingDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "signaling_duration_seconds",
				Help:      "Offer/answer exchange and data channel open latency",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 4, 8},
			},
			[]string{"result"},
		),
		EvaluationScore: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "evaluation_overall_score",
				Help:      "Overall score reported by the evaluation stage",
				Buckets:   []float64{1, 2, 3, 4, 5},
			},
		),
	}

	m.registry.MustRegister(
		m.SessionsTotal,
		m.StateEntriesTotal,
		m.ErrorsTotal,
		m.ICERestartsTotal,
		m.SignalingDuration,
		m.EvaluationScore,
	)
	return m
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Observe records one session event.
func (m *Metrics) Observe(ev events.Event) {
	switch data := ev.Data.(type) {
	case events.StateData:
		m.StateEntriesTotal.WithLabelValues(string(data.State)).Inc()
		switch data.State {
		case fsm.StateSessionCompleted:
			m.SessionsTotal.WithLabelValues("completed").Inc()
		case fsm.StateSessionError:
			m.SessionsTotal.WithLabelValues("error").Inc()
		case fsm.StateSessionStopped:
			m.SessionsTotal.WithLabelValues("stopped").Inc()
		}
	case events.ErrorData:
		m.ErrorsTotal.WithLabelValues(data.Code).Inc()
	case events.Evaluation:
		m.EvaluationScore.Observe(data.OverallScore)
	}
}

// SignalingCompleted records one dial attempt.
func (m *Metrics) SignalingCompleted(d time.Duration, err error) {
	m.SignalingDuration.WithLabelValues(signalingResult(err)).Observe(d.Seconds())
}

// ICERestarted counts one ICE restart.
func (m *Metrics) ICERestarted() {
	m.ICERestartsTotal.Inc()
}

func signalingResult(err error) string {
	if err == nil {
		return "ok"
	}
	if kind := fault.KindOf(err); kind != "" {
		return kind.Code()
	}
	return "canceled"
}
