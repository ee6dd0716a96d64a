package orchestrator

import (
	"github.com/daydemir/autopilot/internal/retry"
	"github.com/daydemir/autopilot/internal/types"
)

// RunCounters are run-level counters. They are monotonic within a run and
// survive replans; the caller threads each result's snapshot into the next call.
type RunCounters struct {
	TotalFailures     int
	HTTP500Count      int
	PatchFailureCount int
	DoctorCalls       int
	ReplanCount       int
	TokensUsed        int
	ContextCharsUsed  int
	SOTCharsUsed      int
	BudgetTokens      int

	DoctorCallsByPhase map[string]int
	ReplanCountByPhase map[string]int
}

// Clone returns a deep copy of the counters
func (c RunCounters) Clone() RunCounters {
	out := c
	out.DoctorCallsByPhase = copyCounts(c.DoctorCallsByPhase)
	out.ReplanCountByPhase = copyCounts(c.ReplanCountByPhase)
	return out
}

func copyCounts(m map[string]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// ExecutionContext is built by the caller for every ExecuteAttempt call
type ExecutionContext struct {
	Phase           *types.PhaseSpec
	AttemptIndex    int
	MaxAttempts     int
	EscalationLevel int

	Counters     RunCounters
	ErrorHistory []types.PhaseError
	LastAttempt  *AttemptOutcome

	Workspace string
	RunID     string
}

// AttemptContext returns the immutable counters view used by the retry policy
func (ec *ExecutionContext) AttemptContext() retry.AttemptContext {
	return retry.AttemptContext{
		AttemptIndex:    ec.AttemptIndex,
		MaxAttempts:     ec.MaxAttempts,
		EscalationLevel: ec.EscalationLevel,
	}
}

// ExecutionResult tells the caller what happened and whether to attempt again
type ExecutionResult struct {
	Success bool
	Status  string
	Result  types.PhaseResult
	Reason  string

	Counters     RunCounters
	ErrorHistory []types.PhaseError
	LastAttempt  *AttemptOutcome

	// RevisedPhase is set when a replan produced a new phase definition
	RevisedPhase *types.PhaseSpec

	ShouldContinue bool
}

// Terminal reports whether the phase must not be attempted again without intervention
func (r *ExecutionResult) Terminal() bool {
	return !r.ShouldContinue && r.Result == types.PhaseFailed
}

// Result status strings
const (
	StatusComplete        = "COMPLETE"
	StatusFailed          = "FAILED"
	StatusReplanRequested = "REPLAN_REQUESTED"
	StatusBlocked         = "BLOCKED"
)

// Terminal and retry reasons
const (
	ReasonMaxAttemptsExhausted = "MAX_ATTEMPTS_EXHAUSTED"
	ReasonHardeningMitigated   = "HARDENING_MITIGATED"
	ReasonDoctorSkip           = "DOCTOR_SKIP"
	ReasonDoctorReplan         = "DOCTOR_REPLAN"
	ReasonReplan               = "REPLAN"
	ReasonStuckStop            = "STUCK_STOP"
	ReasonStuckReplan          = "STUCK_REPLAN"
	ReasonDeterministicFailure = "DETERMINISTIC_FAILURE"
)
