// Package retry decides what happens after a failed attempt.
//
// Every status-string comparison that drives control flow lives here:
// Classify maps an attempt status onto a FailureClass, Decide turns that
// class into a RetryDecision, and OutcomeFor maps a status onto the coarse
// failure outcome handed to diagnostics.
package retry

import "strings"

// Attempt statuses reported by attempt runners
const (
	StatusPatchFailed     = "PATCH_FAILED"
	StatusTokenEscalation = "TOKEN_ESCALATION"
	StatusCIFailed        = "CI_FAILED"
	StatusAuditorRejected = "AUDITOR_REJECTED"
	StatusBuildFailed     = "BUILD_FAILED"
	StatusException       = "EXCEPTION_OCCURRED"
)

// Coarse failure outcomes handed to diagnostics and the doctor
const (
	OutcomeAuditorReject   = "auditor_reject"
	OutcomePatchApplyError = "patch_apply_error"
	OutcomeCIFail          = "ci_fail"
	OutcomeBuildFail       = "build_fail"
	OutcomeTokenBudget     = "token_budget"
	OutcomeInfraError      = "infra_error"
)

// FailureClass is the control-flow category of a failed attempt status
type FailureClass int

const (
	// ClassGeneric failures are retried through the full diagnostic pipeline
	ClassGeneric FailureClass = iota
	// ClassPatchFailed failures count toward the run's patch failure budget
	ClassPatchFailed
	// ClassTokenBudget failures come from output truncation and are fixed by a larger budget
	ClassTokenBudget
	// ClassUnrecoverable failures reproduce deterministically, retrying cannot help
	ClassUnrecoverable
)

// String returns the class name for logs
func (c FailureClass) String() string {
	switch c {
	case ClassGeneric:
		return "generic"
	case ClassPatchFailed:
		return "patch_failed"
	case ClassTokenBudget:
		return "token_budget"
	case ClassUnrecoverable:
		return "unrecoverable"
	default:
		return "unknown"
	}
}

// unrecoverablePatterns match CI statuses where the test suite never ran
var unrecoverablePatterns = []string{
	"ci collection/import error",
	"collection errors detected",
}

// Classify maps an attempt status onto its FailureClass.
// Matching is case-insensitive; unrecoverable patterns take precedence.
func Classify(status string) FailureClass {
	lower := strings.ToLower(status)

	for _, pattern := range unrecoverablePatterns {
		if strings.Contains(lower, pattern) {
			return ClassUnrecoverable
		}
	}

	switch {
	case status == StatusTokenEscalation, strings.Contains(lower, "truncat"):
		return ClassTokenBudget
	case status == StatusPatchFailed:
		return ClassPatchFailed
	default:
		return ClassGeneric
	}
}

// IsUnrecoverable reports whether retrying the status can never change the outcome
func IsUnrecoverable(status string) bool {
	return Classify(status) == ClassUnrecoverable
}

// IsHTTP500 reports whether an error message describes a server-side 500
func IsHTTP500(message string) bool {
	lower := strings.ToLower(message)
	return strings.Contains(lower, "500") || strings.Contains(lower, "internal server error")
}

// AttemptContext is the immutable view of attempt counters a policy decides on
type AttemptContext struct {
	AttemptIndex    int
	MaxAttempts     int
	EscalationLevel int
}

// RetryDecision tells the orchestrator whether to run diagnostics before retrying.
// NextRetryAttempt is set when the policy already knows which attempt comes next.
type RetryDecision struct {
	ShouldRunDiagnostics bool
	NextRetryAttempt     *int
}

// SkipsDiagnostics reports whether the decision bypasses hardening, the doctor and replanning
func (d RetryDecision) SkipsDiagnostics() bool {
	return !d.ShouldRunDiagnostics && d.NextRetryAttempt != nil
}

// Policy maps an attempt status onto a RetryDecision
type Policy func(status string, ac AttemptContext) RetryDecision

// Decide is the default Policy.
// Token budget failures are not approach flaws: the escalated budget already
// owns the fix, so diagnostics are skipped and the next attempt is scheduled directly.
func Decide(status string, ac AttemptContext) RetryDecision {
	if Classify(status) == ClassTokenBudget {
		next := ac.AttemptIndex + 1
		return RetryDecision{ShouldRunDiagnostics: false, NextRetryAttempt: &next}
	}
	return RetryDecision{ShouldRunDiagnostics: true}
}

// OutcomeClassifier maps an attempt status onto a coarse failure outcome
type OutcomeClassifier func(status string) string

// OutcomeFor is the default OutcomeClassifier
func OutcomeFor(status string) string {
	switch Classify(status) {
	case ClassPatchFailed:
		return OutcomePatchApplyError
	case ClassTokenBudget:
		return OutcomeTokenBudget
	case ClassUnrecoverable:
		return OutcomeCIFail
	}

	switch status {
	case StatusCIFailed:
		return OutcomeCIFail
	case StatusBuildFailed:
		return OutcomeBuildFail
	case StatusException:
		return OutcomeInfraError
	default:
		return OutcomeAuditorReject
	}
}
