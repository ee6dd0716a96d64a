// Package telemetry records orchestrator learning signals as Prometheus
// metrics and structured log lines.
package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/daydemir/autopilot/internal/orchestrator"
	"github.com/daydemir/autopilot/internal/types"
)

// maxRecentHints bounds the in-memory hint buffer
const maxRecentHints = 100

// Prometheus implements orchestrator.Telemetry.
// Collectors are registered on the Registerer passed to New.
type Prometheus struct {
	logger *zap.Logger

	phaseOutcomes      *prometheus.CounterVec
	phaseErrors        *prometheus.CounterVec
	learningHints      *prometheus.CounterVec
	doctorCallsAvoided *prometheus.CounterVec
	attemptDuration    *prometheus.HistogramVec

	mu     sync.Mutex
	recent []orchestrator.LearningHint
}

// New registers the autopilot collectors on reg. A nil logger disables logging.
func New(reg prometheus.Registerer, logger *zap.Logger) *Prometheus {
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(reg)

	return &Prometheus{
		logger: logger.Named("telemetry"),

		phaseOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "autopilot_phase_outcomes_total",
			Help: "Phase attempt results by outcome",
		}, []string{"result"}),

		phaseErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "autopilot_phase_errors_total",
			Help: "Failed phase attempts by failure outcome",
		}, []string{"failure_outcome"}),

		learningHints: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "autopilot_learning_hints_total",
			Help: "Learning hints recorded by kind",
		}, []string{"kind"}),

		doctorCallsAvoided: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "autopilot_doctor_calls_avoided_total",
			Help: "Doctor calls avoided by deterministic hardening, by pattern",
		}, []string{"pattern_id"}),

		attemptDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "autopilot_attempt_duration_seconds",
			Help:    "Wall time of a single phase attempt",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}, []string{"result"}),
	}
}

func (p *Prometheus) RecordLearningHint(_ context.Context, hint orchestrator.LearningHint) {
	p.learningHints.WithLabelValues(hint.Kind).Inc()
	p.logger.Debug("learning hint",
		zap.String("phase_id", hint.PhaseID),
		zap.String("kind", hint.Kind),
		zap.String("detail", hint.Detail),
		zap.Int("attempt", hint.AttemptIndex))

	p.mu.Lock()
	defer p.mu.Unlock()
	p.recent = append(p.recent, hint)
	if len(p.recent) > maxRecentHints {
		p.recent = p.recent[len(p.recent)-maxRecentHints:]
	}
}

func (p *Prometheus) RecordPhaseError(_ context.Context, perr types.PhaseError) {
	p.phaseErrors.WithLabelValues(perr.FailureOutcome).Inc()
	p.logger.Info("phase error",
		zap.String("phase_id", perr.PhaseID),
		zap.Int("attempt", perr.AttemptIndex),
		zap.String("status", perr.Status),
		zap.String("failure_outcome", perr.FailureOutcome))
}

func (p *Prometheus) RecordTokenEfficiency(_ context.Context, eff orchestrator.TokenEfficiency) {
	p.doctorCallsAvoided.WithLabelValues(eff.PatternID).Add(float64(eff.DoctorCallsAvoided))
	p.logger.Info("doctor call avoided",
		zap.String("phase_id", eff.PhaseID),
		zap.String("pattern_id", eff.PatternID))
}

func (p *Prometheus) RecordPhaseOutcome(_ context.Context, phaseID string, result types.PhaseResult, reason string) {
	p.phaseOutcomes.WithLabelValues(result.String()).Inc()
	p.logger.Info("phase outcome",
		zap.String("phase_id", phaseID),
		zap.String("result", result.String()),
		zap.String("reason", reason))
}

// ObserveAttempt records how long one ExecuteAttempt call took
func (p *Prometheus) ObserveAttempt(result types.PhaseResult, d time.Duration) {
	p.attemptDuration.WithLabelValues(result.String()).Observe(d.Seconds())
}

// RecentHints returns the most recent learning hints, oldest first
func (p *Prometheus) RecentHints() []orchestrator.LearningHint {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]orchestrator.LearningHint(nil), p.recent...)
}

// WriteTextfile writes the current metrics from g in Prometheus text format
func WriteTextfile(path string, g prometheus.Gatherer) error {
	if err := prometheus.WriteToTextfile(path, g); err != nil {
		return fmt.Errorf("cannot write metrics file: %w", err)
	}
	return nil
}
