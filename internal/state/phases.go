package state

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/daydemir/autopilot/internal/types"
)

// LoadPhaseFile loads and validates the phase list (e.g. .autopilot/phases.yaml).
// Unknown fields are rejected.
func LoadPhaseFile(path string) (*types.PhaseFile, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read phase file: %w", err)
	}

	var pf types.PhaseFile
	decoder := yaml.NewDecoder(bytes.NewReader(content))
	decoder.KnownFields(true)
	if err := decoder.Decode(&pf); err != nil {
		return nil, fmt.Errorf("cannot decode phase file: %w", err)
	}

	validationErrs := pf.ValidateWithDetails()
	if validationErrs.HasErrors() {
		return nil, validationErrs
	}

	return &pf, nil
}

// SavePhaseFile writes the phase list atomically. Validates before writing.
func SavePhaseFile(path string, pf *types.PhaseFile) error {
	if err := pf.Validate(); err != nil {
		return fmt.Errorf("cannot save invalid phase file: %w", err)
	}

	var buf bytes.Buffer
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	if err := encoder.Encode(pf); err != nil {
		return fmt.Errorf("cannot marshal phase file: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return fmt.Errorf("cannot marshal phase file: %w", err)
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("cannot write temp phase file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("cannot rename temp phase file: %w", err)
	}
	return nil
}

// ReplacePhase swaps the phase with the same ID for revised. It reports whether a phase was replaced.
func ReplacePhase(pf *types.PhaseFile, revised *types.PhaseSpec) bool {
	if revised == nil {
		return false
	}
	for i := range pf.Phases {
		if pf.Phases[i].ID == revised.ID {
			pf.Phases[i] = *revised.Clone()
			return true
		}
	}
	return false
}
