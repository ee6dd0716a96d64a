package types

import (
	"fmt"
	"strings"
)

// FieldError is one problem in a phase file, located by its YAML path
type FieldError struct {
	Path string // "phases[1].id"
	Want string
	Got  any
	Fix  string
}

// ValidationErrors collects every problem found in a phase file
type ValidationErrors struct {
	Errors []FieldError
}

// Add records a problem at path
func (v *ValidationErrors) Add(path, want string, got any, fix string) {
	v.Errors = append(v.Errors, FieldError{Path: path, Want: want, Got: got, Fix: fix})
}

func (v *ValidationErrors) HasErrors() bool {
	return len(v.Errors) > 0
}

func (v *ValidationErrors) Error() string {
	switch len(v.Errors) {
	case 0:
		return "phase file is valid"
	case 1:
		return fmt.Sprintf("phase file: %s: %s", v.Errors[0].Path, v.Errors[0].Fix)
	default:
		return fmt.Sprintf("phase file has %d errors, first at %s", len(v.Errors), v.Errors[0].Path)
	}
}

// Report lists the problems grouped by the phase they belong to, in file order
func (v *ValidationErrors) Report() string {
	if !v.HasErrors() {
		return ""
	}

	var order []string
	groups := make(map[string][]FieldError)
	for _, e := range v.Errors {
		section, _ := splitPath(e.Path)
		if _, ok := groups[section]; !ok {
			order = append(order, section)
		}
		groups[section] = append(groups[section], e)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "phases.yaml has %d problem(s):\n", len(v.Errors))
	for _, section := range order {
		fmt.Fprintf(&sb, "\n%s\n", section)
		for _, e := range groups[section] {
			_, field := splitPath(e.Path)
			fmt.Fprintf(&sb, "  %s: want %s, got %s\n", field, e.Want, describe(e.Got))
			fmt.Fprintf(&sb, "    fix: %s\n", e.Fix)
		}
	}
	return sb.String()
}

// splitPath separates "phases[1].id" into its phase and field.
// Top-level fields belong to the "file" section.
func splitPath(path string) (section, field string) {
	if strings.HasPrefix(path, "phases[") {
		if i := strings.Index(path, "]."); i >= 0 {
			return path[:i+1], path[i+2:]
		}
	}
	return "file", path
}

func describe(got any) string {
	switch v := got.(type) {
	case nil:
		return "nothing"
	case string:
		if v == "" {
			return "empty"
		}
		return fmt.Sprintf("%q", v)
	case []string:
		if len(v) == 0 {
			return "none"
		}
		return fmt.Sprintf("%q", v)
	default:
		return fmt.Sprintf("%v", v)
	}
}
