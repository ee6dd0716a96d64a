package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/daydemir/autopilot/internal/retry"
	"github.com/daydemir/autopilot/internal/types"
)

const (
	maxExcerptChars     = 2000
	maxDescriptionChars = 120
	maxCauseChars       = 300
)

// failure describes a failed attempt as it moves through the shared pipeline tail
type failure struct {
	status   string // persisted as last_failure_reason
	outcome  string // coarse failure outcome
	text     string // error evidence
	kind     string // error type for exceptions, empty otherwise
	terminal string // reason used when attempts run out
	cause    string // suspected cause for the debug journal
	fallback string // result status when the pipeline falls through
}

func (a *attempt) handleFailure(ctx context.Context) ExecutionResult {
	status := a.outcome.Status
	if status == "" {
		status = StatusFailed
	}
	outcome := a.o.classify(status)
	log := a.log.With(zap.String("status", status), zap.String("failure_outcome", outcome))
	log.Info("attempt failed")

	decision := a.o.policy(status, a.ec.AttemptContext())
	if decision.SkipsDiagnostics() {
		return a.deferToEscalation(ctx, status, outcome, *decision.NextRetryAttempt)
	}

	a.counters.TotalFailures++
	if status == retry.StatusPatchFailed {
		a.counters.PatchFailureCount++
	}
	text := a.evidence()
	a.recordFailure(ctx, status, outcome, text)

	if res, done := a.harden(ctx, status, text); done {
		return res
	}

	f := failure{
		status:   status,
		outcome:  outcome,
		text:     text,
		terminal: ReasonMaxAttemptsExhausted,
		cause:    fmt.Sprintf("%s after %d attempts: %s", outcome, a.ec.AttemptIndex+1, truncate(text, maxCauseChars)),
		fallback: StatusFailed,
	}
	return a.diagnoseAndAdvance(ctx, f, true)
}

// deferToEscalation handles failures the retry policy schedules directly.
// Truncated output is not an approach flaw: the escalated budget owns the fix.
// A schedule past the last attempt still ends through the exhausted path.
func (a *attempt) deferToEscalation(ctx context.Context, status, outcome string, next int) ExecutionResult {
	update := types.AttemptUpdate{
		RetryAttempt:      &next,
		LastFailureReason: &status,
	}
	if retry.Classify(status) == retry.ClassTokenBudget && a.o.escalator != nil {
		budget := a.o.escalator.Next(a.phase.TokenBudget)
		update.TokenBudget = &budget
		a.log.Info("escalating token budget", zap.Int("from", a.phase.TokenBudget), zap.Int("to", budget))
	}
	a.updateAttempts(ctx, update)

	if next >= a.ec.MaxAttempts {
		text := a.evidence()
		return a.exhausted(ctx, failure{
			status:   status,
			outcome:  outcome,
			text:     text,
			terminal: ReasonMaxAttemptsExhausted,
			cause:    fmt.Sprintf("%s after %d attempts: %s", outcome, a.ec.AttemptIndex+1, truncate(text, maxCauseChars)),
		})
	}

	a.log.Info("retrying without diagnostics", zap.String("status", status), zap.Int("next_attempt", next))
	return a.result(false, StatusFailed, types.PhaseFailed, status, true)
}

// recordFailure records the learning hint and phase error that later steps and future runs read
func (a *attempt) recordFailure(ctx context.Context, status, outcome, text string) {
	a.o.telemetry.RecordLearningHint(ctx, LearningHint{
		PhaseID:      a.phase.ID,
		Kind:         HintAttemptFailed,
		Detail:       fmt.Sprintf("%s (%s)", status, outcome),
		AttemptIndex: a.ec.AttemptIndex,
	})
	perr := types.PhaseError{
		PhaseID:        a.phase.ID,
		AttemptIndex:   a.ec.AttemptIndex,
		Status:         status,
		FailureOutcome: outcome,
		Message:        truncate(text, maxCauseChars),
		RecordedAt:     time.Now(),
	}
	a.history = append(a.history, perr)
	a.o.telemetry.RecordPhaseError(ctx, perr)
}

// harden asks the hardener for a deterministic fix. A fixed match ends the attempt.
func (a *attempt) harden(ctx context.Context, status, text string) (ExecutionResult, bool) {
	if a.o.hardener == nil {
		return ExecutionResult{}, false
	}

	var mitigation *MitigationResult
	a.guard("hardening", func() error {
		var err error
		mitigation, err = a.o.hardener.DetectAndMitigate(ctx, text, MitigationContext{
			Workspace:  a.ec.Workspace,
			PhaseID:    a.phase.ID,
			Status:     status,
			ScopePaths: a.phase.Scope,
		})
		return err
	})
	if mitigation == nil {
		return ExecutionResult{}, false
	}

	log := a.log.With(zap.String("pattern_id", mitigation.PatternID), zap.Strings("actions", mitigation.ActionsTaken))
	if !mitigation.Fixed {
		log.Info("hardening matched without a fix", zap.Strings("suggestions", mitigation.Suggestions))
		a.o.telemetry.RecordLearningHint(ctx, LearningHint{
			PhaseID:      a.phase.ID,
			Kind:         HintHardeningPartial,
			Detail:       hardeningDetail(mitigation),
			AttemptIndex: a.ec.AttemptIndex,
		})
		return ExecutionResult{}, false
	}

	log.Info("hardening mitigated failure")
	a.o.telemetry.RecordLearningHint(ctx, LearningHint{
		PhaseID:      a.phase.ID,
		Kind:         HintHardeningFixed,
		Detail:       hardeningDetail(mitigation),
		AttemptIndex: a.ec.AttemptIndex,
	})
	a.o.telemetry.RecordTokenEfficiency(ctx, TokenEfficiency{
		PhaseID:            a.phase.ID,
		PatternID:          mitigation.PatternID,
		DoctorCallsAvoided: 1,
	})

	reason := ReasonHardeningMitigated + ":" + mitigation.PatternID
	next := a.ec.AttemptIndex + 1
	a.updateAttempts(ctx, types.AttemptUpdate{RetryAttempt: &next, LastFailureReason: &reason})
	return a.result(false, StatusFailed, types.PhaseFailed, reason, true), true
}

func hardeningDetail(m *MitigationResult) string {
	parts := []string{m.PatternID}
	parts = append(parts, m.ActionsTaken...)
	parts = append(parts, m.Suggestions...)
	return strings.Join(parts, "; ")
}

// diagnoseAndAdvance is the pipeline tail shared by failures and exceptions:
// diagnostics, doctor, stuck handling (failures only), replanning, then the
// attempt increment and the terminal checks.
func (a *attempt) diagnoseAndAdvance(ctx context.Context, f failure, stuckHandling bool) ExecutionResult {
	if a.o.diagnostics != nil {
		a.guard("diagnostics", func() error {
			return a.o.diagnostics.RunForFailure(ctx, a.phase, f.outcome, truncate(f.text, maxExcerptChars))
		})
	}

	if res, done := a.consultDoctor(ctx, f); done {
		return res
	}

	if stuckHandling {
		if res, done := a.handleStuck(ctx, f.status); done {
			return res
		}
	}

	if res, done := a.maybeReplan(ctx); done {
		return res
	}

	next := a.ec.AttemptIndex + 1
	a.updateAttempts(ctx, types.AttemptUpdate{RetryAttempt: &next, LastFailureReason: &f.status})

	if retry.IsUnrecoverable(f.status) || (f.kind != "" && retry.IsUnrecoverable(f.text)) {
		reason := ReasonDeterministicFailure + ":" + f.status
		a.log.Warn("deterministic failure, not retrying", zap.String("reason", reason))
		a.markFailed(ctx, reason)
		a.o.telemetry.RecordPhaseOutcome(ctx, a.phase.ID, types.PhaseFailed, reason)
		return a.result(false, StatusFailed, types.PhaseFailed, reason, false)
	}

	if next >= a.ec.MaxAttempts {
		return a.exhausted(ctx, f)
	}

	return a.result(false, f.fallback, types.PhaseFailed, f.status, true)
}

// consultDoctor asks the doctor for a recommendation.
// "skip" (or a handler that says stop) ends the phase, "replan" bumps the revision epoch.
func (a *attempt) consultDoctor(ctx context.Context, f failure) (ExecutionResult, bool) {
	if a.o.doctor == nil {
		return ExecutionResult{}, false
	}

	req := DoctorRequest{
		Phase:              a.phase,
		ErrorCategory:      f.outcome,
		Attempts:           a.ec.AttemptIndex + 1,
		LastPatch:          a.lastPatch(),
		PatchErrors:        a.patchErrors(f),
		LogsExcerpt:        truncateTail(f.text, maxExcerptChars),
		RunID:              a.ec.RunID,
		DoctorCallsByPhase: copyCounts(a.counters.DoctorCallsByPhase),
		RunDoctorCalls:     a.counters.DoctorCalls,
	}

	var resp *DoctorResponse
	a.guard("doctor_invoke", func() error {
		var err error
		resp, err = a.o.doctor.Invoke(ctx, req)
		return err
	})
	if resp == nil {
		return ExecutionResult{}, false
	}
	a.counters.DoctorCalls++
	a.counters.DoctorCallsByPhase[a.phase.ID]++

	action, shouldContinue := resp.Action, true
	a.guard("doctor_handle_action", func() error {
		action, shouldContinue = a.o.doctor.HandleAction(ctx, a.phase, resp, a.ec.AttemptIndex)
		return nil
	})
	log := a.log.With(zap.String("doctor_action", action), zap.Bool("doctor_continue", shouldContinue))

	switch {
	case action == DoctorActionReplan:
		log.Info("doctor requested replan")
		a.bumpRevisionEpoch(ctx, ReasonDoctorReplan)
		a.o.telemetry.RecordPhaseOutcome(ctx, a.phase.ID, types.PhaseReplanRequested, ReasonDoctorReplan)
		return a.result(false, StatusReplanRequested, types.PhaseReplanRequested, ReasonDoctorReplan, false), true
	case action == DoctorActionSkip || !shouldContinue:
		reason := ReasonDoctorSkip + ":" + f.status
		log.Info("doctor stopped phase")
		a.markFailed(ctx, reason)
		a.o.telemetry.RecordPhaseOutcome(ctx, a.phase.ID, types.PhaseFailed, reason)
		return a.result(false, StatusFailed, types.PhaseFailed, reason, false), true
	default:
		log.Debug("doctor recommends continuing")
		return ExecutionResult{}, false
	}
}

// handleStuck delegates to the stuck handler when goal anchoring is wired.
// Errors and panics here are swallowed: this step must never end a phase by failing.
func (a *attempt) handleStuck(ctx context.Context, status string) (ExecutionResult, bool) {
	if a.o.stuck == nil || a.o.anchor == nil || a.o.wiring == nil {
		return ExecutionResult{}, false
	}

	var intention string
	a.guard("intention_wiring", func() error {
		var err error
		intention, err = a.o.wiring.IntentionContext(ctx, a.phase.ID)
		return err
	})

	var decision types.StuckDecision
	var message string
	ok := a.guard("stuck_handler", func() error {
		var err error
		decision, message, err = a.o.stuck.Handle(ctx, StuckRequest{
			PhaseID:          a.phase.ID,
			Phase:            a.phase,
			Status:           status,
			IntentionContext: intention,
			TokensUsed:       a.counters.TokensUsed,
			ContextCharsUsed: a.counters.ContextCharsUsed,
			SOTCharsUsed:     a.counters.SOTCharsUsed,
			RunBudgetTokens:  a.counters.BudgetTokens,
		})
		return err
	})
	if !ok {
		return ExecutionResult{}, false
	}

	log := a.log.With(zap.String("stuck_decision", decision.String()), zap.String("message", message))
	switch decision {
	case types.StuckReplan:
		log.Info("stuck handler requested replan")
		reason := ReasonStuckReplan + ": " + message
		a.o.telemetry.RecordPhaseOutcome(ctx, a.phase.ID, types.PhaseReplanRequested, reason)
		return a.result(false, StatusReplanRequested, types.PhaseReplanRequested, reason, false), true
	case types.StuckBlockedNeedsHuman:
		log.Warn("phase blocked, needs human")
		a.o.telemetry.RecordPhaseOutcome(ctx, a.phase.ID, types.PhaseBlocked, message)
		return a.result(false, StatusBlocked, types.PhaseBlocked, message, false), true
	case types.StuckStop:
		reason := ReasonStuckStop + ": " + message
		log.Warn("stuck handler stopped phase")
		a.markFailed(ctx, reason)
		a.o.telemetry.RecordPhaseOutcome(ctx, a.phase.ID, types.PhaseFailed, reason)
		return a.result(false, StatusFailed, types.PhaseFailed, reason, false), true
	case types.StuckEscalateModel, types.StuckReduceScope:
		log.Info("stuck handler adjusted phase")
	default:
		log.Debug("stuck handler made no decision")
	}
	return ExecutionResult{}, false
}

// maybeReplan asks the replan trigger whether the error history shows a structural flaw.
// A failed revision falls through: replanning failing is not a reason to fail the phase.
func (a *attempt) maybeReplan(ctx context.Context) (ExecutionResult, bool) {
	if a.o.replan == nil {
		return ExecutionResult{}, false
	}

	var triggered bool
	var flaw string
	a.guard("replan_trigger", func() error {
		triggered, flaw = a.o.replan.ShouldTriggerReplan(ctx, a.phase, a.history,
			a.counters.ReplanCountByPhase[a.phase.ID], a.counters.ReplanCount)
		return nil
	})
	if !triggered {
		return ExecutionResult{}, false
	}

	intent := a.phase.Description
	if a.o.anchor != nil {
		a.guard("original_intent", func() error {
			if anchored := a.o.anchor.OriginalIntent(a.phase.ID); anchored != "" {
				intent = anchored
			}
			return nil
		})
	}

	var revised *types.PhaseSpec
	a.guard("replan_revise", func() error {
		var err error
		revised, err = a.o.replan.ReviseApproach(ctx, a.phase, flaw, a.history, intent)
		return err
	})
	if revised == nil {
		a.log.Warn("replan triggered but revision failed", zap.String("flaw", flaw))
		return ExecutionResult{}, false
	}

	reason := ReasonReplan + ":" + flaw
	a.log.Info("replanning phase", zap.String("flaw", flaw))
	a.bumpRevisionEpoch(ctx, reason)
	a.counters.ReplanCount++
	a.counters.ReplanCountByPhase[a.phase.ID]++
	a.o.telemetry.RecordPhaseOutcome(ctx, a.phase.ID, types.PhaseReplanRequested, reason)

	res := a.result(false, StatusReplanRequested, types.PhaseReplanRequested, reason, false)
	res.RevisedPhase = revised
	return res, true
}

// bumpRevisionEpoch advances the revision epoch in one write that keeps
// retry_attempt and escalation_level at their current values
func (a *attempt) bumpRevisionEpoch(ctx context.Context, reason string) {
	retryAttempt := a.ec.AttemptIndex
	escalation := a.ec.EscalationLevel
	epoch := 1
	if rec := a.record(ctx); rec != nil {
		retryAttempt = rec.RetryAttempt
		escalation = rec.EscalationLevel
		epoch = rec.RevisionEpoch + 1
	}
	a.updateAttempts(ctx, types.AttemptUpdate{
		RetryAttempt:      &retryAttempt,
		RevisionEpoch:     &epoch,
		EscalationLevel:   &escalation,
		LastFailureReason: &reason,
	})
}

// exhausted is the shared attempts-exhausted terminal path
func (a *attempt) exhausted(ctx context.Context, f failure) ExecutionResult {
	a.log.Warn("max attempts exhausted", zap.String("reason", f.terminal))
	a.markFailed(ctx, f.terminal)

	if a.o.journal != nil {
		entry := types.JournalEntry{
			ErrorSignature: errorSignature(a.phase.ID, f),
			Symptom:        truncate(firstLine(f.text, f.status), maxCauseChars),
			RunID:          a.ec.RunID,
			PhaseID:        a.phase.ID,
			SuspectedCause: f.cause,
			Priority:       types.PriorityHigh,
			RecordedAt:     time.Now(),
		}
		a.guard("debug_journal", func() error { return a.o.journal.Append(ctx, entry) })
	}
	a.o.telemetry.RecordPhaseOutcome(ctx, a.phase.ID, types.PhaseFailed, f.terminal)

	return a.result(false, StatusFailed, types.PhaseFailed, f.terminal, false)
}

func errorSignature(phaseID string, f failure) string {
	if f.kind != "" {
		return fmt.Sprintf("%s:%s:%s", phaseID, f.status, f.kind)
	}
	return fmt.Sprintf("%s:%s:%s", phaseID, f.status, f.outcome)
}

// evidence joins the attempt's error and messages into one excerpt
func (a *attempt) evidence() string {
	if a.outcome == nil {
		return ""
	}
	parts := make([]string, 0, len(a.outcome.Messages)+1)
	if a.outcome.Error != "" {
		parts = append(parts, a.outcome.Error)
	}
	parts = append(parts, a.outcome.Messages...)
	return strings.Join(parts, "\n")
}

func (a *attempt) lastPatch() string {
	if a.outcome != nil && a.outcome.PatchContent != "" {
		return a.outcome.PatchContent
	}
	if a.ec.LastAttempt != nil {
		return a.ec.LastAttempt.PatchContent
	}
	return ""
}

func (a *attempt) patchErrors(f failure) []string {
	if f.kind != "" || a.outcome == nil || a.outcome.Error == "" {
		return nil
	}
	return []string{truncate(a.outcome.Error, maxCauseChars)}
}

// truncate cuts s to at most n bytes without splitting a rune
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:runeFloor(s, n)]
	}
	return s[:runeFloor(s, n-3)] + "..."
}

// truncateTail keeps the end of s, where build logs put the failure
func truncateTail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[runeCeil(s, len(s)-n+3):]
}

// runeFloor moves i back to the start of the rune containing it
func runeFloor(s string, i int) int {
	for i > 0 && i < len(s) && !utf8.RuneStart(s[i]) {
		i--
	}
	return i
}

// runeCeil moves i forward to the next rune start
func runeCeil(s string, i int) int {
	for i < len(s) && !utf8.RuneStart(s[i]) {
		i++
	}
	return i
}

func firstLine(s, fallback string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return fallback
	}
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
