// Package orchestrator routes each phase attempt through success, retry,
// repair, diagnosis, replanning or termination.
//
// ExecuteAttempt runs exactly one attempt and returns an ExecutionResult;
// the caller loops, threading the returned counters into the next
// ExecutionContext. Collaborators are injected once per orchestrator and
// every call into them is guarded: an error or panic from a collaborator
// degrades to the next step of the pipeline. Only the attempt itself and
// explicit terminal decisions end a phase.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"go.uber.org/zap"

	"github.com/daydemir/autopilot/internal/retry"
	"github.com/daydemir/autopilot/internal/state"
	"github.com/daydemir/autopilot/internal/types"
)

// PhaseOrchestrator is the per-run coordinator for phase attempts
type PhaseOrchestrator struct {
	runner AttemptRunner
	repo   PhaseRepository

	hardener    Hardener
	diagnostics Diagnostics
	doctor      Doctor
	stuck       StuckHandler
	replan      ReplanTrigger
	scope       ScopeGenerator
	rules       RulesCache
	anchor      IntentionAnchor
	wiring      IntentionWiring
	telemetry   Telemetry
	journal     DebugJournal

	escalator *TokenEscalator
	policy    retry.Policy
	classify  retry.OutcomeClassifier
	logger    *zap.Logger
}

// Option configures a PhaseOrchestrator
type Option func(*PhaseOrchestrator)

// WithRepository sets the phase state store
func WithRepository(repo PhaseRepository) Option {
	return func(o *PhaseOrchestrator) { o.repo = repo }
}

// WithHardener sets the deterministic repair collaborator
func WithHardener(h Hardener) Option {
	return func(o *PhaseOrchestrator) { o.hardener = h }
}

// WithDiagnostics sets the evidence collector
func WithDiagnostics(d Diagnostics) Option {
	return func(o *PhaseOrchestrator) { o.diagnostics = d }
}

// WithDoctor sets the diagnostic advisor
func WithDoctor(d Doctor) Option {
	return func(o *PhaseOrchestrator) { o.doctor = d }
}

// WithStuckHandler sets the budget escalation handler
func WithStuckHandler(s StuckHandler) Option {
	return func(o *PhaseOrchestrator) { o.stuck = s }
}

// WithReplanTrigger sets the mid-run replanner
func WithReplanTrigger(r ReplanTrigger) Option {
	return func(o *PhaseOrchestrator) { o.replan = r }
}

// WithScopeGenerator sets the manifest generator used when a phase declares no scope
func WithScopeGenerator(g ScopeGenerator) Option {
	return func(o *PhaseOrchestrator) { o.scope = g }
}

// WithRulesCache sets the rules cache refreshed before each attempt
func WithRulesCache(r RulesCache) Option {
	return func(o *PhaseOrchestrator) { o.rules = r }
}

// WithIntention sets the goal-anchoring collaborators.
// Stuck handling only runs when both are present.
func WithIntention(anchor IntentionAnchor, wiring IntentionWiring) Option {
	return func(o *PhaseOrchestrator) {
		o.anchor = anchor
		o.wiring = wiring
	}
}

// WithTelemetry sets the learning and outcome sink
func WithTelemetry(t Telemetry) Option {
	return func(o *PhaseOrchestrator) { o.telemetry = t }
}

// WithDebugJournal sets the exhausted-attempts journal
func WithDebugJournal(j DebugJournal) Option {
	return func(o *PhaseOrchestrator) { o.journal = j }
}

// WithTokenEscalator sets the budget curve for truncated attempts
func WithTokenEscalator(e *TokenEscalator) Option {
	return func(o *PhaseOrchestrator) { o.escalator = e }
}

// WithRetryPolicy replaces the default retry policy
func WithRetryPolicy(p retry.Policy) Option {
	return func(o *PhaseOrchestrator) { o.policy = p }
}

// WithOutcomeClassifier replaces the default status → failure outcome mapping
func WithOutcomeClassifier(c retry.OutcomeClassifier) Option {
	return func(o *PhaseOrchestrator) { o.classify = c }
}

// WithLogger sets the structured logger
func WithLogger(l *zap.Logger) Option {
	return func(o *PhaseOrchestrator) { o.logger = l }
}

// New creates an orchestrator around runner. Unset collaborators are skipped.
func New(runner AttemptRunner, opts ...Option) *PhaseOrchestrator {
	o := &PhaseOrchestrator{
		runner:    runner,
		policy:    retry.Decide,
		classify:  retry.OutcomeFor,
		escalator: DefaultTokenEscalator(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.repo == nil {
		o.repo = state.NopRepository{}
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.telemetry == nil {
		o.telemetry = nopTelemetry{}
	} else {
		o.telemetry = guardedTelemetry{next: o.telemetry, log: o.logger}
	}
	if o.policy == nil {
		o.policy = retry.Decide
	}
	if o.classify == nil {
		o.classify = retry.OutcomeFor
	}
	return o
}

// attempt carries the state of one ExecuteAttempt call
type attempt struct {
	o        *PhaseOrchestrator
	ec       *ExecutionContext
	phase    *types.PhaseSpec
	counters RunCounters
	history  []types.PhaseError
	outcome  *AttemptOutcome
	log      *zap.Logger
}

// ExecuteAttempt runs one attempt of ec.Phase and decides what comes next.
// It never returns an error and never panics: every fault becomes a result.
func (o *PhaseOrchestrator) ExecuteAttempt(ctx context.Context, ec *ExecutionContext) (res ExecutionResult) {
	a := &attempt{
		o:        o,
		ec:       ec,
		phase:    ec.Phase,
		counters: ec.Counters.Clone(),
		history:  append([]types.PhaseError(nil), ec.ErrorHistory...),
		outcome:  ec.LastAttempt,
	}
	if a.phase == nil {
		a.phase = &types.PhaseSpec{}
		ec.Phase = a.phase
	}
	a.log = o.logger.With(
		zap.String("run_id", ec.RunID),
		zap.String("phase_id", a.phase.ID),
		zap.Int("attempt", ec.AttemptIndex),
		zap.Int("max_attempts", ec.MaxAttempts),
	)

	defer func() {
		if r := recover(); r != nil {
			a.log.Error("orchestrator panic", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			res = a.result(false, StatusFailed, types.PhaseFailed, fmt.Sprintf("ORCHESTRATOR_PANIC: %v", r), false)
		}
	}()

	a.applyEscalatedBudget(ctx)
	a.anchorIteration(ctx)
	a.ensureScope(ctx)

	if ec.AttemptIndex >= ec.MaxAttempts {
		a.log.Warn("attempts exhausted before run")
		a.markFailed(ctx, ReasonMaxAttemptsExhausted)
		o.telemetry.RecordPhaseOutcome(ctx, a.phase.ID, types.PhaseFailed, ReasonMaxAttemptsExhausted)
		return a.result(false, StatusFailed, types.PhaseFailed, ReasonMaxAttemptsExhausted, false)
	}

	if o.rules != nil {
		a.guard("rules_refresh", func() error { return o.rules.RefreshIfStale(ctx) })
	}

	outcome, err := a.runAttempt(ctx)
	if err != nil {
		return a.handleException(ctx, err)
	}
	a.outcome = outcome
	a.counters.TokensUsed += outcome.TokensUsed
	a.counters.ContextCharsUsed += outcome.ContextCharsUsed
	a.counters.SOTCharsUsed += outcome.SOTCharsUsed

	if outcome.Success {
		return a.handleSuccess(ctx)
	}
	return a.handleFailure(ctx)
}

// applyEscalatedBudget applies a budget persisted after a truncated attempt
func (a *attempt) applyEscalatedBudget(ctx context.Context) {
	rec := a.record(ctx)
	if rec == nil || rec.TokenBudget <= a.phase.TokenBudget {
		return
	}
	a.log.Info("applying escalated token budget",
		zap.Int("from", a.phase.TokenBudget),
		zap.Int("to", rec.TokenBudget))
	a.phase.TokenBudget = rec.TokenBudget
}

func (a *attempt) anchorIteration(ctx context.Context) {
	if a.o.anchor == nil {
		return
	}
	a.guard("intention_anchor", func() error {
		return a.o.anchor.RecordIteration(ctx, a.phase.ID, a.ec.AttemptIndex)
	})
}

// ensureScope generates a scope for phases that declare none. Failure leaves the scope empty.
func (a *attempt) ensureScope(ctx context.Context) {
	if len(a.phase.Scope) > 0 || a.o.scope == nil {
		return
	}
	var scope []string
	var confidence float64
	ok := a.guard("scope_generation", func() error {
		var err error
		scope, confidence, err = a.o.scope.GenerateScope(ctx, a.phase)
		return err
	})
	if !ok {
		return
	}
	a.log.Info("generated phase scope",
		zap.Int("paths", len(scope)),
		zap.Float64("confidence", confidence))
	a.phase.Scope = scope
}

// runAttempt invokes the runner, converting a panic into a *PanicError
func (a *attempt) runAttempt(ctx context.Context) (outcome *AttemptOutcome, err error) {
	if a.o.runner == nil {
		return nil, fmt.Errorf("no attempt runner configured")
	}
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()

	outcome, err = a.o.runner.Run(ctx, a.phase, a.ec.AttemptIndex, a.phase.Scope)
	if err == nil && outcome == nil {
		err = fmt.Errorf("attempt runner returned no outcome")
	}
	return outcome, err
}

func (a *attempt) handleSuccess(ctx context.Context) ExecutionResult {
	a.log.Info("phase complete")
	a.guard("mark_complete", func() error { return a.o.repo.MarkComplete(ctx, a.phase.ID) })

	if a.ec.AttemptIndex > 0 {
		a.o.telemetry.RecordLearningHint(ctx, LearningHint{
			PhaseID:      a.phase.ID,
			Kind:         HintSuccessAfterRetry,
			Detail:       fmt.Sprintf("succeeded on attempt %d", a.ec.AttemptIndex+1),
			AttemptIndex: a.ec.AttemptIndex,
		})
	}
	a.o.telemetry.RecordPhaseOutcome(ctx, a.phase.ID, types.PhaseComplete, StatusComplete)

	return a.result(true, StatusComplete, types.PhaseComplete, StatusComplete, true)
}

// guard runs fn, logging and swallowing any error or panic. It reports whether fn succeeded.
func (a *attempt) guard(step string, fn func() error) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			a.log.Warn("collaborator panicked", zap.String("step", step), zap.Any("panic", r))
			ok = false
		}
	}()
	if err := fn(); err != nil {
		a.log.Warn("collaborator failed", zap.String("step", step), zap.Error(err))
		return false
	}
	return true
}

// record reads the persisted phase record, or nil when unavailable
func (a *attempt) record(ctx context.Context) *types.PhaseRecord {
	var rec *types.PhaseRecord
	a.guard("repository_get", func() error {
		var err error
		rec, err = a.o.repo.Get(ctx, a.phase.ID)
		if errors.Is(err, state.ErrPhaseNotFound) {
			return nil
		}
		return err
	})
	return rec
}

func (a *attempt) markFailed(ctx context.Context, reason string) {
	a.guard("mark_failed", func() error { return a.o.repo.MarkFailed(ctx, a.phase.ID, reason) })
}

func (a *attempt) updateAttempts(ctx context.Context, update types.AttemptUpdate) {
	a.guard("update_attempts", func() error { return a.o.repo.UpdateAttempts(ctx, a.phase.ID, update) })
}

func (a *attempt) result(success bool, status string, result types.PhaseResult, reason string, shouldContinue bool) ExecutionResult {
	return ExecutionResult{
		Success:        success,
		Status:         status,
		Result:         result,
		Reason:         reason,
		Counters:       a.counters.Clone(),
		ErrorHistory:   a.history,
		LastAttempt:    a.outcome,
		ShouldContinue: shouldContinue,
	}
}
