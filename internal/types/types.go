package types

import (
	"fmt"
	"strings"
	"time"
)

// PhaseSpec describes one discrete unit of build work
type PhaseSpec struct {
	ID                 string     `yaml:"id" json:"id"`
	Description        string     `yaml:"description" json:"description"`
	Scope              []string   `yaml:"scope,omitempty" json:"scope,omitempty"`
	Complexity         Complexity `yaml:"complexity" json:"complexity"`
	Constraints        []string   `yaml:"constraints,omitempty" json:"constraints,omitempty"`
	Category           string     `yaml:"category,omitempty" json:"category,omitempty"`
	TokenBudget        int        `yaml:"token_budget,omitempty" json:"token_budget,omitempty"`
	BuildCommand       string     `yaml:"build_command,omitempty" json:"build_command,omitempty"`
	ValidationCommands []string   `yaml:"validation_commands,omitempty" json:"validation_commands,omitempty"`
}

// Validate ensures the phase spec is valid
func (p *PhaseSpec) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("phase.id: field is required")
	}
	if p.Description == "" {
		return fmt.Errorf("phase.description: field is required")
	}
	if p.Complexity == "" {
		p.Complexity = ComplexityMedium
	}
	if !p.Complexity.IsValid() {
		return fmt.Errorf("phase.complexity: invalid value %q, must be one of: %v", p.Complexity, AllComplexities())
	}
	if p.TokenBudget < 0 {
		return fmt.Errorf("phase.token_budget: must not be negative")
	}
	return nil
}

// ValidateWithDetails performs detailed validation and returns structured errors
func (p *PhaseSpec) ValidateWithDetails(prefix string) *ValidationErrors {
	errs := &ValidationErrors{}

	if p.ID == "" {
		errs.Add(prefix+".id", "non-empty string", "", "Provide a phase ID like \"p01-auth\"")
	}
	if p.Description == "" {
		errs.Add(prefix+".description", "non-empty string", "", "Describe what the phase accomplishes")
	}
	if p.Complexity == "" {
		p.Complexity = ComplexityMedium
	}
	if !p.Complexity.IsValid() {
		errs.Add(
			prefix+".complexity",
			fmt.Sprintf("one of: %v", AllComplexities()),
			string(p.Complexity),
			fmt.Sprintf("Change complexity to one of the valid values (not %q)", p.Complexity),
		)
	}
	if p.TokenBudget < 0 {
		errs.Add(prefix+".token_budget", "zero or positive integer", p.TokenBudget, "Remove the negative budget")
	}
	for i, cmd := range p.ValidationCommands {
		if strings.TrimSpace(cmd) == "" {
			errs.Add(fmt.Sprintf("%s.validation_commands[%d]", prefix, i), "non-empty command", "", "Remove the empty entry")
		}
	}

	return errs
}

// Clone returns a deep copy so handlers can mutate a phase without aliasing the caller's slices
func (p *PhaseSpec) Clone() *PhaseSpec {
	if p == nil {
		return nil
	}
	c := *p
	c.Scope = append([]string(nil), p.Scope...)
	c.Constraints = append([]string(nil), p.Constraints...)
	c.ValidationCommands = append([]string(nil), p.ValidationCommands...)
	return &c
}

// PhaseFile is the on-disk list of phases (phases.yaml)
type PhaseFile struct {
	Version string      `yaml:"version"`
	Project string      `yaml:"project"`
	Phases  []PhaseSpec `yaml:"phases"`
}

// Validate ensures the phase file is valid and phase IDs are unique
func (f *PhaseFile) Validate() error {
	errs := f.ValidateWithDetails()
	if errs.HasErrors() {
		return errs
	}
	return nil
}

// ValidateWithDetails collects every problem in the phase file
func (f *PhaseFile) ValidateWithDetails() *ValidationErrors {
	errs := &ValidationErrors{}
	if f.Version == "" {
		errs.Add("version", "non-empty string", "", "Provide a schema version like \"1.0\"")
	}
	if len(f.Phases) == 0 {
		errs.Add("phases", "array with at least one phase", []string{}, "Add at least one phase")
	}
	seen := make(map[string]bool, len(f.Phases))
	for i := range f.Phases {
		prefix := fmt.Sprintf("phases[%d]", i)
		phaseErrs := f.Phases[i].ValidateWithDetails(prefix)
		errs.Errors = append(errs.Errors, phaseErrs.Errors...)
		id := f.Phases[i].ID
		if id != "" && seen[id] {
			errs.Add(prefix+".id", "unique phase ID", id, "Rename the duplicate phase")
		}
		seen[id] = true
	}
	return errs
}

// PhaseRecord is the persisted per-phase state the orchestrator reads and advances
type PhaseRecord struct {
	PhaseID           string     `json:"phase_id"`
	Status            Status     `json:"status"`
	RetryAttempt      int        `json:"retry_attempt"`
	RevisionEpoch     int        `json:"revision_epoch"`
	EscalationLevel   int        `json:"escalation_level"`
	TokenBudget       int        `json:"token_budget,omitempty"`
	LastFailureReason string     `json:"last_failure_reason,omitempty"`
	FailureReason     string     `json:"failure_reason,omitempty"`
	UpdatedAt         time.Time  `json:"updated_at"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
}

// PhaseError is one entry in a phase's error history
type PhaseError struct {
	PhaseID        string    `json:"phase_id"`
	AttemptIndex   int       `json:"attempt_index"`
	Status         string    `json:"status"`
	FailureOutcome string    `json:"failure_outcome"`
	Message        string    `json:"message,omitempty"`
	RecordedAt     time.Time `json:"recorded_at"`
}

// JournalEntry is one durable debug-journal record written when a phase exhausts its attempts
type JournalEntry struct {
	ErrorSignature string    `json:"error_signature"`
	Symptom        string    `json:"symptom"`
	RunID          string    `json:"run_id"`
	PhaseID        string    `json:"phase_id"`
	SuspectedCause string    `json:"suspected_cause"`
	Priority       Priority  `json:"priority"`
	RecordedAt     time.Time `json:"recorded_at"`
}

// AttemptUpdate is a partial write of a PhaseRecord. Nil fields are left unchanged.
type AttemptUpdate struct {
	RetryAttempt      *int
	RevisionEpoch     *int
	EscalationLevel   *int
	TokenBudget       *int
	LastFailureReason *string
}

// Apply copies the set fields of u onto rec
func (u AttemptUpdate) Apply(rec *PhaseRecord) {
	if u.RetryAttempt != nil {
		rec.RetryAttempt = *u.RetryAttempt
	}
	if u.RevisionEpoch != nil {
		rec.RevisionEpoch = *u.RevisionEpoch
	}
	if u.EscalationLevel != nil {
		rec.EscalationLevel = *u.EscalationLevel
	}
	if u.TokenBudget != nil {
		rec.TokenBudget = *u.TokenBudget
	}
	if u.LastFailureReason != nil {
		rec.LastFailureReason = *u.LastFailureReason
	}
}
