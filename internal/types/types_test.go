package types

import (
	"strings"
	"testing"
)

func TestPhaseSpecValidate(t *testing.T) {
	tests := []struct {
		name    string
		phase   PhaseSpec
		wantErr bool
		errMsg  string
	}{
		{
			name: "valid phase",
			phase: PhaseSpec{
				ID:          "p01-auth",
				Description: "Add login endpoint",
				Complexity:  ComplexityLow,
			},
			wantErr: false,
		},
		{
			name: "empty complexity defaults to medium",
			phase: PhaseSpec{
				ID:          "p01-auth",
				Description: "Add login endpoint",
			},
			wantErr: false,
		},
		{
			name: "missing id",
			phase: PhaseSpec{
				Description: "Add login endpoint",
			},
			wantErr: true,
			errMsg:  "phase.id: field is required",
		},
		{
			name: "missing description",
			phase: PhaseSpec{
				ID: "p01-auth",
			},
			wantErr: true,
			errMsg:  "phase.description: field is required",
		},
		{
			name: "invalid complexity",
			phase: PhaseSpec{
				ID:          "p01-auth",
				Description: "Add login endpoint",
				Complexity:  Complexity("extreme"),
			},
			wantErr: true,
			errMsg:  "phase.complexity: invalid value",
		},
		{
			name: "negative token budget",
			phase: PhaseSpec{
				ID:          "p01-auth",
				Description: "Add login endpoint",
				TokenBudget: -1,
			},
			wantErr: true,
			errMsg:  "phase.token_budget",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.phase.Validate()
			if tt.wantErr {
				if err == nil {
					t.Errorf("PhaseSpec.Validate() expected error containing %q, got nil", tt.errMsg)
					return
				}
				if !strings.Contains(err.Error(), tt.errMsg) {
					t.Errorf("PhaseSpec.Validate() error = %q, want error containing %q", err.Error(), tt.errMsg)
				}
				return
			}
			if err != nil {
				t.Errorf("PhaseSpec.Validate() unexpected error = %v", err)
			}
			if tt.phase.Complexity == "" {
				t.Error("PhaseSpec.Validate() left complexity empty")
			}
		})
	}
}

func TestPhaseFileValidateDetectsDuplicates(t *testing.T) {
	f := &PhaseFile{
		Version: "1.0",
		Phases: []PhaseSpec{
			{ID: "p01", Description: "one"},
			{ID: "p01", Description: "two"},
		},
	}

	errs := f.ValidateWithDetails()
	if !errs.HasErrors() {
		t.Fatal("expected duplicate phase ID error")
	}
	if errs.Errors[0].Path != "phases[1].id" {
		t.Errorf("Path = %q, want %q", errs.Errors[0].Path, "phases[1].id")
	}
	report := errs.Report()
	for _, want := range []string{"phases[1]\n", "  id: want unique phase ID, got \"p01\"", "fix: Rename the duplicate phase"} {
		if !strings.Contains(report, want) {
			t.Errorf("Report() missing %q:\n%s", want, report)
		}
	}
}

func TestValidationReportGroupsByPhase(t *testing.T) {
	f := &PhaseFile{
		Phases: []PhaseSpec{
			{ID: "p01"},
			{ID: "p02", Description: "two", TokenBudget: -1},
		},
	}

	report := f.ValidateWithDetails().Report()
	want := `phases.yaml has 3 problem(s):

file
  version: want non-empty string, got empty
    fix: Provide a schema version like "1.0"

phases[0]
  description: want non-empty string, got empty
    fix: Describe what the phase accomplishes

phases[1]
  token_budget: want zero or positive integer, got -1
    fix: Remove the negative budget
`
	if report != want {
		t.Errorf("Report() =\n%s\nwant\n%s", report, want)
	}
}

func TestPhaseFileValidateEmpty(t *testing.T) {
	f := &PhaseFile{}
	err := f.Validate()
	if err == nil {
		t.Fatal("expected error for empty phase file")
	}
	if !strings.Contains(err.Error(), "2 errors") {
		t.Errorf("error = %q, want version and phases errors", err.Error())
	}
}

func TestPhaseSpecClone(t *testing.T) {
	orig := &PhaseSpec{
		ID:          "p01",
		Description: "one",
		Scope:       []string{"internal/a"},
	}
	c := orig.Clone()
	c.Scope[0] = "internal/b"
	c.Description = "changed"

	if orig.Scope[0] != "internal/a" {
		t.Errorf("Clone() aliases Scope: orig = %v", orig.Scope)
	}
	if orig.Description != "one" {
		t.Errorf("Clone() aliases struct: orig.Description = %q", orig.Description)
	}

	var nilSpec *PhaseSpec
	if nilSpec.Clone() != nil {
		t.Error("Clone() of nil should be nil")
	}
}

func TestEnumValidity(t *testing.T) {
	for _, r := range AllPhaseResults() {
		if !r.IsValid() {
			t.Errorf("PhaseResult %q reported invalid", r)
		}
	}
	if PhaseResult("DONE").IsValid() {
		t.Error("PhaseResult DONE should be invalid")
	}
	for _, d := range AllStuckDecisions() {
		if !d.IsValid() {
			t.Errorf("StuckDecision %q reported invalid", d)
		}
	}
	if StuckDecision("PANIC").IsValid() {
		t.Error("StuckDecision PANIC should be invalid")
	}
	if Status("done").IsValid() {
		t.Error("Status done should be invalid")
	}
}
