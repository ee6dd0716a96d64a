// Package executor drives phases through the orchestrator one attempt at a time.
package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/daydemir/autopilot/internal/display"
	"github.com/daydemir/autopilot/internal/orchestrator"
	"github.com/daydemir/autopilot/internal/state"
	"github.com/daydemir/autopilot/internal/types"
)

// ReasonReplanLimitExceeded is recorded when a phase asks for more replans than allowed
const ReasonReplanLimitExceeded = "REPLAN_LIMIT_EXCEEDED"

// Config holds executor configuration
type Config struct {
	WorkDir         string
	PhaseFile       string // revised phases are written back here; empty disables
	MaxAttempts     int
	MaxReplans      int
	RunBudgetTokens int
}

// DefaultConfig returns default executor configuration
func DefaultConfig(workDir string) *Config {
	return &Config{
		WorkDir:         workDir,
		MaxAttempts:     5,
		MaxReplans:      2,
		RunBudgetTokens: 500000,
	}
}

// Orchestrator runs one attempt of a phase
type Orchestrator interface {
	ExecuteAttempt(ctx context.Context, ec *orchestrator.ExecutionContext) orchestrator.ExecutionResult
}

// AttemptObserver is told how long each attempt took
type AttemptObserver interface {
	ObserveAttempt(result types.PhaseResult, d time.Duration)
}

// PhaseSummary is what happened to one phase during a run
type PhaseSummary struct {
	PhaseID  string
	Result   types.PhaseResult
	Reason   string
	Attempts int
	Replans  int
	Skipped  bool
	Duration time.Duration
}

// RunSummary is what happened during a run
type RunSummary struct {
	RunID     string
	Phases    []PhaseSummary
	Counters  orchestrator.RunCounters
	Completed int
	Skipped   int
	Duration  time.Duration
}

// StopError is returned when a phase ends the run without completing
type StopError struct {
	PhaseID string
	Result  types.PhaseResult
	Reason  string
}

func (e *StopError) Error() string {
	return fmt.Sprintf("phase %s %s: %s", e.PhaseID, e.Result, e.Reason)
}

// Executor runs phases in order until all complete or one stops the run
type Executor struct {
	config   *Config
	orch     Orchestrator
	repo     orchestrator.PhaseRepository
	display  *display.Display
	logger   *zap.Logger
	observer AttemptObserver
	newRunID func() string
	now      func() time.Time
}

// Option configures an Executor
type Option func(*Executor)

// WithDisplay sets the progress display
func WithDisplay(d *display.Display) Option {
	return func(e *Executor) { e.display = d }
}

// WithLogger sets the structured logger
func WithLogger(l *zap.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// WithObserver sets the attempt duration observer
func WithObserver(o AttemptObserver) Option {
	return func(e *Executor) { e.observer = o }
}

// New creates a new executor
func New(config *Config, orch Orchestrator, repo orchestrator.PhaseRepository, opts ...Option) *Executor {
	e := &Executor{
		config:   config,
		orch:     orch,
		repo:     repo,
		display:  display.NewWithWriter(io.Discard, true),
		logger:   zap.NewNop(),
		newRunID: uuid.NewString,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Loop runs every phase of pf in order. Completed phases are skipped and
// interrupted phases resume from their persisted attempt counters.
func (e *Executor) Loop(ctx context.Context, pf *types.PhaseFile) (*RunSummary, error) {
	start := e.now()
	summary := &RunSummary{
		RunID: e.newRunID(),
		Counters: orchestrator.RunCounters{
			BudgetTokens:       e.config.RunBudgetTokens,
			DoctorCallsByPhase: make(map[string]int),
			ReplanCountByPhase: make(map[string]int),
		},
	}
	log := e.logger.With(zap.String("run_id", summary.RunID))
	log.Info("run started", zap.Int("phases", len(pf.Phases)))
	e.display.RunHeader(summary.RunID, len(pf.Phases))

	finish := func() {
		summary.Duration = e.now().Sub(start)
		c := summary.Counters
		e.display.Counters(c.TotalFailures, c.DoctorCalls, c.ReplanCount, c.HTTP500Count, c.TokensUsed)
		e.display.Duration(summary.Duration)
	}

	for i := range pf.Phases {
		if err := ctx.Err(); err != nil {
			finish()
			return summary, err
		}

		phase := pf.Phases[i].Clone()
		rec, err := e.repo.Get(ctx, phase.ID)
		if err != nil && !errors.Is(err, state.ErrPhaseNotFound) {
			finish()
			return summary, fmt.Errorf("cannot read state for phase %s: %w", phase.ID, err)
		}

		if rec != nil && rec.Status == types.StatusComplete {
			e.display.PhaseSkipped(phase.ID)
			summary.Phases = append(summary.Phases, PhaseSummary{PhaseID: phase.ID, Result: types.PhaseComplete, Skipped: true})
			summary.Skipped++
			continue
		}
		if rec != nil && rec.Status == types.StatusFailed {
			stop := &StopError{PhaseID: phase.ID, Result: types.PhaseFailed, Reason: rec.FailureReason}
			e.display.RunStopped(phase.ID, types.PhaseFailed, rec.FailureReason+" (run 'autopilot reset "+phase.ID+"' to retry)", summary.Completed)
			finish()
			return summary, stop
		}

		resume := 0
		if rec != nil {
			resume = rec.RetryAttempt
		}
		e.display.PhaseStart(i+1, len(pf.Phases), phase, resume)

		ps := e.runPhase(ctx, pf, phase, rec, summary, log)
		summary.Phases = append(summary.Phases, ps)

		if ps.Result != types.PhaseComplete {
			e.display.RunStopped(ps.PhaseID, ps.Result, ps.Reason, summary.Completed)
			finish()
			if err := ctx.Err(); err != nil {
				return summary, err
			}
			return summary, &StopError{PhaseID: ps.PhaseID, Result: ps.Result, Reason: ps.Reason}
		}
		summary.Completed++
	}

	log.Info("run complete", zap.Int("completed", summary.Completed), zap.Int("skipped", summary.Skipped))
	e.display.RunComplete(summary.Completed, summary.Skipped)
	finish()
	return summary, nil
}

// runPhase calls the orchestrator until the phase completes or stops
func (e *Executor) runPhase(ctx context.Context, pf *types.PhaseFile, phase *types.PhaseSpec, rec *types.PhaseRecord, summary *RunSummary, log *zap.Logger) PhaseSummary {
	start := e.now()
	ps := PhaseSummary{PhaseID: phase.ID}
	log = log.With(zap.String("phase_id", phase.ID))

	attempt, escalation := 0, 0
	if rec != nil {
		attempt, escalation = rec.RetryAttempt, rec.EscalationLevel
	}

	var history []types.PhaseError
	var last *orchestrator.AttemptOutcome

	// Each replan may restart the attempt count, so bound the total calls
	maxCalls := e.config.MaxAttempts * (e.config.MaxReplans + 2)

	for calls := 0; ; calls++ {
		if err := ctx.Err(); err != nil {
			ps.Result, ps.Reason = types.PhaseFailed, err.Error()
			break
		}
		if calls >= maxCalls {
			ps.Result, ps.Reason = types.PhaseFailed, orchestrator.ReasonMaxAttemptsExhausted
			e.markFailed(ctx, phase.ID, ps.Reason, log)
			break
		}

		ec := &orchestrator.ExecutionContext{
			Phase:           phase,
			AttemptIndex:    attempt,
			MaxAttempts:     e.config.MaxAttempts,
			EscalationLevel: escalation,
			Counters:        summary.Counters,
			ErrorHistory:    history,
			LastAttempt:     last,
			Workspace:       e.config.WorkDir,
			RunID:           summary.RunID,
		}

		attemptStart := e.now()
		res := e.orch.ExecuteAttempt(ctx, ec)
		if e.observer != nil {
			e.observer.ObserveAttempt(res.Result, e.now().Sub(attemptStart))
		}
		ps.Attempts++

		summary.Counters = res.Counters
		history = res.ErrorHistory
		last = res.LastAttempt

		e.display.Attempt(attempt, e.config.MaxAttempts, res.Result, res.Status, res.Reason)
		log.Debug("attempt finished",
			zap.Int("attempt", attempt),
			zap.String("result", string(res.Result)),
			zap.String("reason", res.Reason),
			zap.Bool("should_continue", res.ShouldContinue))

		if res.Success || res.Result == types.PhaseComplete {
			ps.Result, ps.Reason = types.PhaseComplete, res.Reason
			break
		}

		if res.Result == types.PhaseReplanRequested {
			ps.Replans++
			if ps.Replans > e.config.MaxReplans {
				ps.Result, ps.Reason = types.PhaseFailed, ReasonReplanLimitExceeded
				e.markFailed(ctx, phase.ID, ps.Reason, log)
				break
			}
			if res.RevisedPhase != nil {
				phase = res.RevisedPhase.Clone()
				e.saveRevision(pf, phase, log)
			}
			attempt, escalation = e.resumePoint(ctx, phase.ID, attempt, escalation)
			continue
		}

		if res.ShouldContinue {
			attempt, escalation = e.resumePoint(ctx, phase.ID, attempt+1, escalation)
			continue
		}

		ps.Result, ps.Reason = res.Result, res.Reason
		break
	}

	ps.Duration = e.now().Sub(start)
	log.Info("phase finished",
		zap.String("result", string(ps.Result)),
		zap.String("reason", ps.Reason),
		zap.Int("attempts", ps.Attempts),
		zap.Duration("duration", ps.Duration))
	return ps
}

// resumePoint returns the next attempt index and escalation level. The
// persisted record wins when it is further along than the local count.
func (e *Executor) resumePoint(ctx context.Context, phaseID string, attempt, escalation int) (int, int) {
	rec, err := e.repo.Get(ctx, phaseID)
	if err != nil || rec == nil {
		return attempt, escalation
	}
	return max(attempt, rec.RetryAttempt), max(escalation, rec.EscalationLevel)
}

func (e *Executor) saveRevision(pf *types.PhaseFile, phase *types.PhaseSpec, log *zap.Logger) {
	if !state.ReplacePhase(pf, phase) || e.config.PhaseFile == "" {
		return
	}
	if err := state.SavePhaseFile(e.config.PhaseFile, pf); err != nil {
		log.Warn("cannot save revised phase", zap.Error(err))
		return
	}
	e.display.Resume("phase " + phase.ID + " revised")
}

func (e *Executor) markFailed(ctx context.Context, phaseID, reason string, log *zap.Logger) {
	if err := e.repo.MarkFailed(ctx, phaseID, reason); err != nil {
		log.Warn("cannot record phase failure", zap.Error(err))
	}
}
