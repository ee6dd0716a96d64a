package orchestrator

import (
	"context"

	"go.uber.org/zap"

	"github.com/daydemir/autopilot/internal/types"
)

// AttemptRunner executes one attempt of a phase
type AttemptRunner interface {
	Run(ctx context.Context, phase *types.PhaseSpec, attemptIndex int, allowedPaths []string) (*AttemptOutcome, error)
}

// AttemptOutcome is what an AttemptRunner reports for a completed attempt.
// A runner returns an error only when the attempt could not be carried out at all.
type AttemptOutcome struct {
	Status       string
	Success      bool
	PatchContent string
	Error        string
	Messages     []string

	// Usage accumulated into the run-level counters
	TokensUsed       int
	ContextCharsUsed int
	SOTCharsUsed     int
}

// MitigationContext tells a Hardener where it may act
type MitigationContext struct {
	Workspace  string
	PhaseID    string
	Status     string
	ScopePaths []string
}

// MitigationResult describes a deterministic repair attempt
type MitigationResult struct {
	PatternID    string
	Success      bool
	Fixed        bool
	ActionsTaken []string
	Suggestions  []string
}

// Hardener applies deterministic pattern-based repairs.
// A nil result means no known pattern matched.
type Hardener interface {
	DetectAndMitigate(ctx context.Context, errorText string, mc MitigationContext) (*MitigationResult, error)
}

// Diagnostics gathers evidence about a failure. It is best-effort.
type Diagnostics interface {
	RunForFailure(ctx context.Context, phase *types.PhaseSpec, failureOutcome string, evidence string) error
}

// Doctor actions the orchestrator distinguishes
const (
	DoctorActionSkip     = "skip"
	DoctorActionReplan   = "replan"
	DoctorActionContinue = "continue"
)

// DoctorRequest carries the failure evidence handed to the doctor
type DoctorRequest struct {
	Phase              *types.PhaseSpec
	ErrorCategory      string
	Attempts           int
	LastPatch          string
	PatchErrors        []string
	LogsExcerpt        string
	RunID              string
	DoctorCallsByPhase map[string]int
	RunDoctorCalls     int
}

// DoctorResponse is the doctor's recommendation
type DoctorResponse struct {
	Action     string
	Rationale  string
	Confidence float64
}

// Doctor recommends a course of action from failure evidence.
// A nil response means the doctor declined to diagnose.
type Doctor interface {
	Invoke(ctx context.Context, req DoctorRequest) (*DoctorResponse, error)
	HandleAction(ctx context.Context, phase *types.PhaseSpec, resp *DoctorResponse, attemptIndex int) (action string, shouldContinue bool)
}

// ReplanTrigger detects structural flaws in a phase's approach and revises it
type ReplanTrigger interface {
	ShouldTriggerReplan(ctx context.Context, phase *types.PhaseSpec, history []types.PhaseError, replanCount, runReplanCount int) (bool, string)
	ReviseApproach(ctx context.Context, phase *types.PhaseSpec, flawType string, history []types.PhaseError, originalIntent string) (*types.PhaseSpec, error)
}

// StuckRequest carries the budgets the stuck handler weighs
type StuckRequest struct {
	PhaseID          string
	Phase            *types.PhaseSpec
	Status           string
	IntentionContext string
	TokensUsed       int
	ContextCharsUsed int
	SOTCharsUsed     int
	RunBudgetTokens  int
}

// StuckHandler decides how to escalate a phase that keeps failing.
// For ESCALATE_MODEL and REDUCE_SCOPE it mutates req.Phase in place.
type StuckHandler interface {
	Handle(ctx context.Context, req StuckRequest) (types.StuckDecision, string, error)
}

// PhaseRepository persists per-phase state. Implementations must make each write atomic.
type PhaseRepository interface {
	MarkComplete(ctx context.Context, phaseID string) error
	MarkFailed(ctx context.Context, phaseID, reason string) error
	UpdateAttempts(ctx context.Context, phaseID string, update types.AttemptUpdate) error
	Get(ctx context.Context, phaseID string) (*types.PhaseRecord, error)
}

// ScopeGenerator proposes allowed paths for a phase that declares none
type ScopeGenerator interface {
	GenerateScope(ctx context.Context, phase *types.PhaseSpec) (scope []string, confidence float64, err error)
}

// RulesCache holds project rules that are refreshed between attempts
type RulesCache interface {
	RefreshIfStale(ctx context.Context) error
}

// IntentionAnchor keeps a phase anchored to its original goal across attempts and replans
type IntentionAnchor interface {
	RecordIteration(ctx context.Context, phaseID string, attemptIndex int) error
	OriginalIntent(phaseID string) string
}

// IntentionWiring supplies the intention context handed to the stuck handler
type IntentionWiring interface {
	IntentionContext(ctx context.Context, phaseID string) (string, error)
}

// DebugJournal is an append-only log of exhausted-attempt failures
type DebugJournal interface {
	Append(ctx context.Context, entry types.JournalEntry) error
}

// Learning hint kinds
const (
	HintSuccessAfterRetry = "success_after_retry"
	HintAttemptFailed     = "attempt_failed"
	HintHardeningPartial  = "hardening_partial"
	HintHardeningFixed    = "hardening_fixed"
)

// LearningHint is a lesson recorded for later attempts and future runs
type LearningHint struct {
	PhaseID      string
	Kind         string
	Detail       string
	AttemptIndex int
}

// TokenEfficiency records work avoided by cheaper steps
type TokenEfficiency struct {
	PhaseID            string
	PatternID          string
	DoctorCallsAvoided int
}

// Telemetry receives the orchestrator's learning and outcome signals
type Telemetry interface {
	RecordLearningHint(ctx context.Context, hint LearningHint)
	RecordPhaseError(ctx context.Context, perr types.PhaseError)
	RecordTokenEfficiency(ctx context.Context, eff TokenEfficiency)
	RecordPhaseOutcome(ctx context.Context, phaseID string, result types.PhaseResult, reason string)
}

type nopTelemetry struct{}

func (nopTelemetry) RecordLearningHint(context.Context, LearningHint)                      {}
func (nopTelemetry) RecordPhaseError(context.Context, types.PhaseError)                    {}
func (nopTelemetry) RecordTokenEfficiency(context.Context, TokenEfficiency)                {}
func (nopTelemetry) RecordPhaseOutcome(context.Context, string, types.PhaseResult, string) {}

// guardedTelemetry keeps a panicking sink from ending the attempt
type guardedTelemetry struct {
	next Telemetry
	log  *zap.Logger
}

func (t guardedTelemetry) safely(step string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			t.log.Warn("telemetry panicked", zap.String("step", step), zap.Any("panic", r))
		}
	}()
	fn()
}

func (t guardedTelemetry) RecordLearningHint(ctx context.Context, hint LearningHint) {
	t.safely("learning_hint", func() { t.next.RecordLearningHint(ctx, hint) })
}

func (t guardedTelemetry) RecordPhaseError(ctx context.Context, perr types.PhaseError) {
	t.safely("phase_error", func() { t.next.RecordPhaseError(ctx, perr) })
}

func (t guardedTelemetry) RecordTokenEfficiency(ctx context.Context, eff TokenEfficiency) {
	t.safely("token_efficiency", func() { t.next.RecordTokenEfficiency(ctx, eff) })
}

func (t guardedTelemetry) RecordPhaseOutcome(ctx context.Context, phaseID string, result types.PhaseResult, reason string) {
	t.safely("phase_outcome", func() { t.next.RecordPhaseOutcome(ctx, phaseID, result, reason) })
}
