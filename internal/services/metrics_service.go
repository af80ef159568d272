package services

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Reg-Kris/pyairtable-automation-service/internal/models"
)

// MetricsService tracks engine-level Prometheus metrics. All record methods
// are safe on a nil receiver so collaborators never need nil checks.
type MetricsService struct {
	runsTotal        *prometheus.CounterVec
	runDuration      *prometheus.HistogramVec
	stepsTotal       *prometheus.CounterVec
	evaluationsTotal *prometheus.CounterVec
	eventsTotal      *prometheus.CounterVec
	dryRunsTotal     prometheus.Counter
}

// NewMetricsService creates and registers the engine metrics on the given
// registerer. Call once per process; duplicate registration panics.
func NewMetricsService(registerer prometheus.Registerer) *MetricsService {
	m := &MetricsService{
		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "automation_runs_total",
				Help: "Total automation runs by trigger and terminal status",
			},
			[]string{"trigger", "status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "automation_run_duration_seconds",
				Help:    "Wall-clock duration of automation runs",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"trigger"},
		),
		stepsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "automation_run_steps_total",
				Help: "Total executed action steps by type and status",
			},
			[]string{"action_type", "status"},
		),
		evaluationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "automation_evaluations_total",
				Help: "Total condition evaluations by trigger and outcome",
			},
			[]string{"trigger", "outcome"},
		),
		eventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "automation_events_total",
				Help: "Total domain events processed by trigger and source",
			},
			[]string{"trigger", "source"},
		),
		dryRunsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "automation_dry_runs_total",
				Help: "Total dry-run requests served",
			},
		),
	}

	registerer.MustRegister(
		m.runsTotal,
		m.runDuration,
		m.stepsTotal,
		m.evaluationsTotal,
		m.eventsTotal,
		m.dryRunsTotal,
	)

	return m
}

// RecordRun records a run reaching a terminal status
func (m *MetricsService) RecordRun(trigger models.TriggerKey, status models.RunStatus, duration time.Duration) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(string(trigger), string(status)).Inc()
	m.runDuration.WithLabelValues(string(trigger)).Observe(duration.Seconds())
}

// RecordStep records one action step reaching a terminal status
func (m *MetricsService) RecordStep(actionType models.ActionType, status models.StepStatus) {
	if m == nil {
		return
	}
	m.stepsTotal.WithLabelValues(string(actionType), string(status)).Inc()
}

// RecordEvaluation records a condition evaluation outcome
func (m *MetricsService) RecordEvaluation(trigger models.TriggerKey, matched bool) {
	if m == nil {
		return
	}
	outcome := "no_match"
	if matched {
		outcome = "matched"
	}
	m.evaluationsTotal.WithLabelValues(string(trigger), outcome).Inc()
}

// RecordEvent records one processed domain event
func (m *MetricsService) RecordEvent(trigger models.TriggerKey, source string) {
	if m == nil {
		return
	}
	if source == "" {
		source = "unknown"
	}
	m.eventsTotal.WithLabelValues(string(trigger), source).Inc()
}

// RecordDryRun records one dry-run request
func (m *MetricsService) RecordDryRun() {
	if m == nil {
		return
	}
	m.dryRunsTotal.Inc()
}
