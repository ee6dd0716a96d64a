package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, Dir), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(Path(dir), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestLoadMissingReturnsDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Run.MaxAttempts != 5 {
		t.Errorf("MaxAttempts = %d, want 5", cfg.Run.MaxAttempts)
	}
	if cfg.Storage.StateFile != filepath.Join(".autopilot", "state.json") {
		t.Errorf("StateFile = %q", cfg.Storage.StateFile)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := writeConfig(t, `
run:
  max_attempts: 3
  command_timeout: 90s
budget:
  token_escalation_factor: 2
logging:
  level: debug
metrics:
  enabled: true
`)

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Run.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", cfg.Run.MaxAttempts)
	}
	if cfg.Run.CommandTimeout != 90*time.Second {
		t.Errorf("CommandTimeout = %v, want 90s", cfg.Run.CommandTimeout)
	}
	if cfg.Run.ParallelWorkers != 2 {
		t.Errorf("ParallelWorkers = %d, want default 2", cfg.Run.ParallelWorkers)
	}
	if cfg.Budget.TokenEscalationFactor != 2 {
		t.Errorf("TokenEscalationFactor = %g, want 2", cfg.Budget.TokenEscalationFactor)
	}
	if cfg.Budget.MaxTokenBudget != 64000 {
		t.Errorf("MaxTokenBudget = %d, want default 64000", cfg.Budget.MaxTokenBudget)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "console" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
	if !cfg.Metrics.Enabled {
		t.Error("expected metrics enabled")
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		field   string
	}{
		{"negative attempts", "run:\n  max_attempts: -1\n", "run.max_attempts"},
		{"negative replans", "run:\n  max_replans: -2\n", "run.max_replans"},
		{"shrinking factor", "budget:\n  token_escalation_factor: 0.5\n", "budget.token_escalation_factor"},
		{"max below initial", "budget:\n  initial_token_budget: 9000\n  max_token_budget: 100\n", "budget.max_token_budget"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			if err == nil {
				t.Fatal("expected error")
			}
			if got := err.Error(); len(got) < len(tt.field) || got[:len(tt.field)] != tt.field {
				t.Errorf("error %q should start with %q", got, tt.field)
			}
		})
	}
}

func TestLoadMalformed(t *testing.T) {
	_, err := Load(writeConfig(t, "run: [unclosed"))
	if err == nil {
		t.Fatal("expected error for malformed yaml")
	}
}

func TestResolve(t *testing.T) {
	if got := Resolve("/ws", ".autopilot/state.json"); got != filepath.Join("/ws", ".autopilot", "state.json") {
		t.Errorf("Resolve relative = %q", got)
	}
	if got := Resolve("/ws", "/var/state.json"); got != "/var/state.json" {
		t.Errorf("Resolve absolute = %q", got)
	}
}
