package workspace

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/daydemir/autopilot/internal/config"
)

// Init creates a new autopilot workspace in dir. It returns the .autopilot path.
func Init(dir string, force bool) (string, error) {
	path := Path(dir)

	// Check if workspace already exists
	if _, err := os.Stat(path); err == nil {
		if !force {
			return "", ErrWorkspaceExists
		}
		if err := os.RemoveAll(path); err != nil {
			return "", fmt.Errorf("failed to remove existing workspace: %w", err)
		}
	}

	if err := os.MkdirAll(path, 0755); err != nil {
		return "", fmt.Errorf("failed to create directory %s: %w", path, err)
	}

	if err := writeFile(config.Path(dir), defaultConfig); err != nil {
		return "", err
	}
	if err := writeFile(filepath.Join(path, "phases.yaml"), fmt.Sprintf(defaultPhases, filepath.Base(dir))); err != nil {
		return "", err
	}
	if err := writeFile(filepath.Join(path, ".gitignore"), defaultGitignore); err != nil {
		return "", err
	}

	return path, nil
}

func writeFile(path, content string) error {
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

const defaultConfig = `# autopilot configuration
run:
  max_attempts: 5          # attempts per phase before it is marked failed
  max_replans: 2           # revisions allowed per phase
  parallel_workers: 2      # concurrent validation commands
  command_timeout: 10m

budget:
  run_budget_tokens: 500000
  initial_token_budget: 8192
  token_escalation_factor: 1.5
  max_token_budget: 64000

logging:
  level: info              # debug | info | warn | error
  format: console          # console | json

storage:
  phase_file: .autopilot/phases.yaml
  state_file: .autopilot/state.json
  journal_dir: .autopilot/journal
  log_dir: .autopilot/logs

metrics:
  enabled: false           # write a Prometheus textfile after each run
  file: .autopilot/metrics.prom
`

const defaultPhases = `version: "1.0"
project: %s
phases:
  - id: p01-build
    description: Project builds cleanly
    complexity: low
    scope:
      - .
    validation_commands:
      - make test
`

const defaultGitignore = `state.json
state.json.tmp
journal/
logs/
metrics.prom
`
