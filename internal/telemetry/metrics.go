package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rendis/sfnsim/internal/engine"
	"github.com/rendis/sfnsim/pkg/schema"
)

const namespace = "sfnsim"

// Metrics collects execution metrics from transitions.
//
// Exposed series (namespace "sfnsim"):
//   - executions_running (gauge): executions started and not yet finished.
//   - executions_total (counter) by state_machine and status.
//   - execution_duration_seconds (histogram) by state_machine and status.
//   - transitions_total (counter) by state_machine and label.
//   - task_attempts_total (counter) by state_machine and state.
//   - state_failures_total (counter) by state_machine, state and error.
//
// Safe for concurrent use.
type Metrics struct {
	running           *prometheus.GaugeVec
	executions        *prometheus.CounterVec
	executionDuration *prometheus.HistogramVec
	transitions       *prometheus.CounterVec
	taskAttempts      *prometheus.CounterVec
	stateFailures     *prometheus.CounterVec
}

// NewMetrics registers the collectors with reg. A nil reg uses the default
// registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		running: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "executions_running",
			Help:      "Executions started and not yet finished",
		}, []string{"state_machine"}),
		executions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_total",
			Help:      "Finished executions by terminal status",
		}, []string{"state_machine", "status"}),
		executionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_duration_seconds",
			Help:      "Wall time from ExecutionStarted to the terminal transition",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		}, []string{"state_machine", "status"}),
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Recorded transitions by label",
		}, []string{"state_machine", "label"}),
		taskAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_attempts_total",
			Help:      "Task handler invocations, retries included",
		}, []string{"state_machine", "state"}),
		stateFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_failures_total",
			Help:      "States that failed, caught or not",
		}, []string{"state_machine", "state", "error"}),
	}
}

// Listener returns an engine listener that labels every series with
// stateMachine.
func (m *Metrics) Listener(stateMachine string) engine.Listener {
	return func(rec schema.TransitionRecord) {
		m.observe(stateMachine, rec)
	}
}

// Attach subscribes the metrics to every transition of e.
func (m *Metrics) Attach(e *engine.Engine) func() {
	return e.SubscribeAll(m.Listener(e.Name()))
}

func (m *Metrics) observe(sm string, rec schema.TransitionRecord) {
	m.transitions.WithLabelValues(sm, string(rec.Label)).Inc()

	if rec.Label == schema.ExecutionStarted {
		m.running.WithLabelValues(sm).Inc()
		return
	}
	if status, ok := terminalStatus(rec.Label); ok {
		m.running.WithLabelValues(sm).Dec()
		m.executions.WithLabelValues(sm, string(status)).Inc()
		m.executionDuration.WithLabelValues(sm, string(status)).Observe(float64(rec.ElapsedMillis) / 1000)
		return
	}
	if rec.Label == schema.LambdaFunctionScheduled {
		m.taskAttempts.WithLabelValues(sm, rec.StateName).Inc()
		return
	}
	if _, phase, ok := splitStateLabel(rec.Label); ok && phase == schema.PhaseFailed {
		errName := ""
		if rec.Error != nil {
			errName = rec.Error.Error
		}
		m.stateFailures.WithLabelValues(sm, rec.StateName, errName).Inc()
	}
}

// Handler serves the metrics gathered by g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
