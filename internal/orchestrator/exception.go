package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/daydemir/autopilot/internal/retry"
)

// PanicError wraps a panic recovered from an attempt runner
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("attempt runner panicked: %v", e.Value)
}

// Kind names the error class in journal entries
func (e *PanicError) Kind() string {
	return "panic"
}

// errorKind names the innermost error type, or the error's own Kind when it has one
func errorKind(err error) string {
	var kinded interface{ Kind() string }
	if errors.As(err, &kinded) {
		return kinded.Kind()
	}
	for {
		inner := errors.Unwrap(err)
		if inner == nil {
			return fmt.Sprintf("%T", err)
		}
		err = inner
	}
}

// handleException routes an attempt that could not be carried out at all.
// It mirrors the failure pipeline keyed on the infra_error outcome.
func (a *attempt) handleException(ctx context.Context, err error) ExecutionResult {
	kind := errorKind(err)
	message := err.Error()
	status := retry.StatusException

	a.log.Error("attempt raised",
		zap.Error(err),
		zap.String("error_kind", kind),
		zap.String("description", truncate(a.phase.Description, maxDescriptionChars)),
		zap.String("complexity", a.phase.Complexity.String()),
		zap.String("category", a.phase.Category),
	)

	if retry.IsHTTP500(message) {
		a.counters.HTTP500Count++
	}
	a.counters.TotalFailures++
	a.recordFailure(ctx, status, retry.OutcomeInfraError, fmt.Sprintf("%s: %s", kind, message))

	f := failure{
		status:   status,
		outcome:  retry.OutcomeInfraError,
		text:     message,
		kind:     kind,
		terminal: ReasonMaxAttemptsExhausted + ": " + kind,
		cause:    fmt.Sprintf("%s: %s", kind, truncate(message, maxCauseChars)),
		fallback: retry.StatusException,
	}
	return a.diagnoseAndAdvance(ctx, f, false)
}
