package orchestrator

import "math"

// Token budget defaults
const (
	DefaultInitialTokenBudget = 8192
	DefaultEscalationFactor   = 1.5
	DefaultMaxTokenBudget     = 64000
)

// TokenEscalator computes the larger output budget persisted after a truncated attempt.
// The next ExecuteAttempt call applies it before the attempt runs.
type TokenEscalator struct {
	Initial int
	Factor  float64
	Max     int
}

// DefaultTokenEscalator returns an escalator with the default budget curve
func DefaultTokenEscalator() *TokenEscalator {
	return &TokenEscalator{
		Initial: DefaultInitialTokenBudget,
		Factor:  DefaultEscalationFactor,
		Max:     DefaultMaxTokenBudget,
	}
}

// Next returns the budget that follows current.
// A non-positive current budget escalates from Initial; Max caps the result when set.
func (e *TokenEscalator) Next(current int) int {
	if current <= 0 {
		current = e.Initial
	}
	factor := e.Factor
	if factor <= 1 {
		factor = DefaultEscalationFactor
	}
	next := int(math.Ceil(float64(current) * factor))
	if e.Max > 0 && next > e.Max {
		next = e.Max
	}
	if next < current {
		next = current
	}
	return next
}
