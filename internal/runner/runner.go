// Package runner executes phase attempts as shell commands: a build
// command followed by validation commands run in parallel.
package runner

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/daydemir/autopilot/internal/logs"
	"github.com/daydemir/autopilot/internal/orchestrator"
	"github.com/daydemir/autopilot/internal/parallel"
	"github.com/daydemir/autopilot/internal/retry"
	"github.com/daydemir/autopilot/internal/types"
)

// StatusCollectionErrors is reported when a test suite failed before any test ran
const StatusCollectionErrors = "Collection errors detected in CI"

const (
	// maxMessageLines bounds the output kept per failed command
	maxMessageLines = 40
	// waitDelay bounds how long a killed command's children may hold its output open
	waitDelay = 2 * time.Second
)

// collectionSignals mark test output where the suite never ran
var collectionSignals = []string{
	"errors during collection",
	"error collecting",
	"[setup failed]",
	"importerror while importing test module",
}

// Config holds runner configuration
type Config struct {
	WorkDir string
	Shell   string
	// Timeout bounds each command. Zero means no limit.
	Timeout    time.Duration
	MaxWorkers int
	// Detect falls back to the workspace's build system when a phase declares no commands
	Detect bool
	// LogDir receives a markdown transcript per attempt. Empty disables.
	LogDir string
}

// DefaultConfig returns default runner configuration
func DefaultConfig(workDir string) Config {
	return Config{
		WorkDir:    workDir,
		Shell:      "bash",
		Timeout:    10 * time.Minute,
		MaxWorkers: parallel.DefaultMaxWorkers,
		Detect:     true,
	}
}

// CommandRunner implements orchestrator.AttemptRunner with shell commands
type CommandRunner struct {
	config Config
	logger *zap.Logger
	logs   *logs.Writer
}

// New creates a CommandRunner
func New(config Config, logger *zap.Logger) *CommandRunner {
	if config.Shell == "" {
		config.Shell = "bash"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &CommandRunner{config: config, logger: logger.Named("runner")}
	if config.LogDir != "" {
		c.logs = logs.NewWriter(config.LogDir)
	}
	return c
}

// commandResult is the outcome of one shell command
type commandResult struct {
	Command  string
	Output   string
	Duration time.Duration
	TimedOut bool
	ExitErr  error
}

func (r commandResult) failed() bool {
	return r.ExitErr != nil || r.TimedOut
}

func (r commandResult) entry(stage string) logs.Entry {
	return logs.Entry{
		Stage:    stage,
		Command:  r.Command,
		Output:   r.Output,
		Duration: r.Duration,
		Failed:   r.ExitErr != nil,
		TimedOut: r.TimedOut,
	}
}

// Run executes the phase's build command and then its validation commands.
// It returns an error only when a command could not be started.
func (c *CommandRunner) Run(ctx context.Context, phase *types.PhaseSpec, attemptIndex int, allowedPaths []string) (*orchestrator.AttemptOutcome, error) {
	tr := logs.NewTranscript(phase.ID, attemptIndex, time.Now())
	outcome, err := c.run(ctx, phase, attemptIndex, allowedPaths, tr)
	if c.logs == nil || len(tr.Entries) == 0 {
		return outcome, err
	}

	path, werr := c.logs.Write(tr)
	if werr != nil {
		c.logger.Warn("cannot write attempt log", zap.String("phase_id", phase.ID), zap.Error(werr))
		return outcome, err
	}
	if outcome != nil {
		outcome.Messages = append(outcome.Messages, "log: "+path)
	}
	return outcome, err
}

func (c *CommandRunner) run(ctx context.Context, phase *types.PhaseSpec, attemptIndex int, allowedPaths []string, tr *logs.Transcript) (*orchestrator.AttemptOutcome, error) {
	buildCmd, validations := c.commands(phase)
	log := c.logger.With(zap.String("phase_id", phase.ID), zap.Int("attempt", attemptIndex), zap.Strings("scope", allowedPaths))

	outcome := &orchestrator.AttemptOutcome{}
	if buildCmd == "" && len(validations) == 0 {
		log.Warn("phase has no commands to run")
		outcome.Status = orchestrator.StatusComplete
		outcome.Success = true
		outcome.Messages = []string{"no build or validation commands"}
		return outcome, nil
	}

	if buildCmd != "" {
		log.Info("running build", zap.String("command", buildCmd))
		res, err := c.exec(ctx, buildCmd)
		if err != nil {
			return nil, err
		}
		tr.Add(res.entry("build"))
		outcome.ContextCharsUsed += len(res.Output)
		if res.failed() {
			log.Info("build failed", zap.Duration("duration", res.Duration), zap.Bool("timed_out", res.TimedOut))
			outcome.Status = retry.StatusBuildFailed
			outcome.Error = describe("build", res)
			outcome.Messages = tail(res.Output, maxMessageLines)
			return outcome, nil
		}
	}

	if len(validations) > 0 {
		ops := make([]parallel.Operation[commandResult], 0, len(validations))
		for _, cmd := range validations {
			ops = append(ops, parallel.Operation[commandResult]{
				Name: cmd,
				Fn: func(ctx context.Context) (commandResult, error) {
					return c.exec(ctx, cmd)
				},
			})
		}

		log.Info("running validation", zap.Int("commands", len(ops)))
		results := parallel.Run(ctx, ops, c.config.MaxWorkers)

		names := make([]string, 0, len(results))
		for name := range results {
			names = append(names, name)
		}
		sort.Strings(names)

		var failures []string
		collection := false
		for _, name := range names {
			res := results[name]
			if !res.OK() {
				return nil, fmt.Errorf("validation command %q: %w", name, res.Err)
			}
			tr.Add(res.Value.entry("validation"))
			outcome.ContextCharsUsed += len(res.Value.Output)
			if !res.Value.failed() {
				continue
			}
			failures = append(failures, describe("validation", res.Value))
			outcome.Messages = append(outcome.Messages, tail(res.Value.Output, maxMessageLines)...)
			if hasCollectionErrors(res.Value.Output) {
				collection = true
			}
		}

		if len(failures) > 0 {
			outcome.Status = retry.StatusCIFailed
			if collection {
				outcome.Status = StatusCollectionErrors
			}
			outcome.Error = strings.Join(failures, "; ")
			log.Info("validation failed", zap.String("status", outcome.Status), zap.Int("failed", len(failures)))
			return outcome, nil
		}
	}

	outcome.Status = orchestrator.StatusComplete
	outcome.Success = true
	return outcome, nil
}

// commands resolves the phase's build and validation commands, falling back to detection
func (c *CommandRunner) commands(phase *types.PhaseSpec) (string, []string) {
	buildCmd := strings.TrimSpace(phase.BuildCommand)
	var validations []string
	for _, v := range phase.ValidationCommands {
		if v = strings.TrimSpace(v); v != "" {
			validations = append(validations, v)
		}
	}
	if buildCmd != "" || len(validations) > 0 || !c.config.Detect {
		return buildCmd, validations
	}

	system := DetectBuildSystem(c.config.WorkDir)
	if system == nil {
		return "", nil
	}
	c.logger.Debug("detected build system", zap.String("name", system.Name), zap.String("at", system.DetectedAt))
	if system.TestCmd != "" {
		validations = []string{system.TestCmd}
	}
	return system.BuildCmd, validations
}

// exec runs one command. Non-zero exits and timeouts are results, not errors.
func (c *CommandRunner) exec(ctx context.Context, command string) (commandResult, error) {
	cmdCtx := ctx
	if c.config.Timeout > 0 {
		var cancel context.CancelFunc
		cmdCtx, cancel = context.WithTimeout(ctx, c.config.Timeout)
		defer cancel()
	}

	start := time.Now()
	cmd := exec.CommandContext(cmdCtx, c.config.Shell, "-c", command)
	cmd.Dir = c.config.WorkDir
	cmd.WaitDelay = waitDelay
	output, err := cmd.CombinedOutput()

	res := commandResult{Command: command, Output: string(output), Duration: time.Since(start)}
	if err == nil {
		return res, nil
	}

	var exitErr *exec.ExitError
	switch {
	case errors.Is(cmdCtx.Err(), context.DeadlineExceeded):
		res.TimedOut = true
		return res, nil
	case errors.As(err, &exitErr):
		res.ExitErr = err
		return res, nil
	default:
		return res, fmt.Errorf("cannot run %q: %w", command, err)
	}
}

func describe(stage string, res commandResult) string {
	if res.TimedOut {
		return fmt.Sprintf("%s command %q timed out after %s", stage, res.Command, res.Duration.Round(time.Second))
	}
	return fmt.Sprintf("%s command %q failed: %v", stage, res.Command, res.ExitErr)
}

func hasCollectionErrors(output string) bool {
	lower := strings.ToLower(output)
	for _, signal := range collectionSignals {
		if strings.Contains(lower, signal) {
			return true
		}
	}
	return false
}

// tail returns the last n non-empty lines of output
func tail(output string, n int) []string {
	lines := strings.Split(strings.TrimRight(output, "\n"), "\n")
	var kept []string
	for _, l := range lines {
		if strings.TrimSpace(l) != "" {
			kept = append(kept, l)
		}
	}
	if len(kept) > n {
		kept = kept[len(kept)-n:]
	}
	return kept
}
