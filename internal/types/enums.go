package types

// PhaseResult is the outcome the orchestrator reports for a phase after an attempt
type PhaseResult string

const (
	// PhaseComplete indicates the phase finished successfully
	PhaseComplete PhaseResult = "COMPLETE"
	// PhaseFailed indicates the attempt failed (terminal or retryable, see ShouldContinue)
	PhaseFailed PhaseResult = "FAILED"
	// PhaseReplanRequested indicates the phase definition must be revised before retrying
	PhaseReplanRequested PhaseResult = "REPLAN_REQUESTED"
	// PhaseBlocked indicates a human must intervene (budget exhausted, not a failure)
	PhaseBlocked PhaseResult = "BLOCKED"
)

// IsValid checks if a phase result is valid
func (r PhaseResult) IsValid() bool {
	for _, valid := range AllPhaseResults() {
		if r == valid {
			return true
		}
	}
	return false
}

// AllPhaseResults returns all valid phase result values
func AllPhaseResults() []PhaseResult {
	return []PhaseResult{PhaseComplete, PhaseFailed, PhaseReplanRequested, PhaseBlocked}
}

// String returns the string representation of the phase result
func (r PhaseResult) String() string {
	return string(r)
}

// Status represents the persisted lifecycle status of a phase
type Status string

const (
	// StatusPending indicates work has not started
	StatusPending Status = "pending"
	// StatusInProgress indicates at least one attempt has run
	StatusInProgress Status = "in_progress"
	// StatusComplete indicates work has successfully finished
	StatusComplete Status = "complete"
	// StatusFailed indicates work has terminally failed
	StatusFailed Status = "failed"
)

// IsValid checks if a status value is valid
func (s Status) IsValid() bool {
	for _, valid := range AllStatuses() {
		if s == valid {
			return true
		}
	}
	return false
}

// AllStatuses returns all valid status values
func AllStatuses() []Status {
	return []Status{StatusPending, StatusInProgress, StatusComplete, StatusFailed}
}

// String returns the string representation of the status
func (s Status) String() string {
	return string(s)
}

// Complexity is the planner's estimate of how hard a phase is
type Complexity string

const (
	ComplexityLow    Complexity = "low"
	ComplexityMedium Complexity = "medium"
	ComplexityHigh   Complexity = "high"
)

// IsValid checks if a complexity value is valid
func (c Complexity) IsValid() bool {
	for _, valid := range AllComplexities() {
		if c == valid {
			return true
		}
	}
	return false
}

// AllComplexities returns all valid complexity values
func AllComplexities() []Complexity {
	return []Complexity{ComplexityLow, ComplexityMedium, ComplexityHigh}
}

// String returns the string representation of the complexity
func (c Complexity) String() string {
	return string(c)
}

// StuckDecision is what the stuck handler wants done with a phase that keeps failing
type StuckDecision string

const (
	StuckReplan            StuckDecision = "REPLAN"
	StuckBlockedNeedsHuman StuckDecision = "BLOCKED_NEEDS_HUMAN"
	StuckStop              StuckDecision = "STOP"
	StuckEscalateModel     StuckDecision = "ESCALATE_MODEL"
	StuckReduceScope       StuckDecision = "REDUCE_SCOPE"
)

// IsValid checks if a stuck decision is valid
func (d StuckDecision) IsValid() bool {
	for _, valid := range AllStuckDecisions() {
		if d == valid {
			return true
		}
	}
	return false
}

// AllStuckDecisions returns all valid stuck decisions
func AllStuckDecisions() []StuckDecision {
	return []StuckDecision{
		StuckReplan, StuckBlockedNeedsHuman, StuckStop,
		StuckEscalateModel, StuckReduceScope,
	}
}

// String returns the string representation of the stuck decision
func (d StuckDecision) String() string {
	return string(d)
}

// Priority ranks debug journal entries
type Priority string

const (
	PriorityHigh   Priority = "HIGH"
	PriorityMedium Priority = "MEDIUM"
	PriorityLow    Priority = "LOW"
)

// String returns the string representation of the priority
func (p Priority) String() string {
	return string(p)
}
