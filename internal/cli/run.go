package cli

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/daydemir/autopilot/internal/executor"
	"github.com/daydemir/autopilot/internal/hardening"
	"github.com/daydemir/autopilot/internal/journal"
	"github.com/daydemir/autopilot/internal/orchestrator"
	"github.com/daydemir/autopilot/internal/runner"
	"github.com/daydemir/autopilot/internal/state"
	"github.com/daydemir/autopilot/internal/telemetry"
	"github.com/daydemir/autopilot/internal/types"
)

// maxShownHints bounds the learning hints printed after a run
const maxShownHints = 5

var (
	runMaxAttempts int
	runNoDetect    bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run every incomplete phase",
	Long: `Run the phases in .autopilot/phases.yaml in order.

Each phase runs its build and validation commands. Failed attempts are
retried, repaired by known hardening patterns, or escalated until the
phase completes or run.max_attempts is reached.

The run stops at the first phase that fails or is blocked. Completed
phases are skipped on the next run and interrupted phases resume from
their recorded attempt.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		s, err := openSession()
		if err != nil {
			return err
		}
		defer s.close()

		cfg := s.cfg
		if runMaxAttempts > 0 {
			cfg.Run.MaxAttempts = runMaxAttempts
		}

		phaseFile := s.path(cfg.Storage.PhaseFile)
		pf, err := state.LoadPhaseFile(phaseFile)
		if err != nil {
			var verrs *types.ValidationErrors
			if errors.As(err, &verrs) {
				fmt.Fprintln(os.Stderr, verrs.Report())
				return fmt.Errorf("invalid phase file %s", phaseFile)
			}
			return fmt.Errorf("cannot load phases: %w", err)
		}

		repo := state.NewFileRepository(s.path(cfg.Storage.StateFile))

		jr, err := journal.Open(journal.Config{Dir: s.path(cfg.Storage.JournalDir), Logger: s.logger})
		if err != nil {
			return err
		}
		defer jr.Close()

		reg := prometheus.NewRegistry()
		tel := telemetry.New(reg, s.logger)

		rc := runner.DefaultConfig(s.dir)
		rc.Timeout = cfg.Run.CommandTimeout
		rc.MaxWorkers = cfg.Run.ParallelWorkers
		rc.Detect = !runNoDetect
		rc.LogDir = s.path(cfg.Storage.LogDir)
		cmdRunner := runner.New(rc, s.logger)

		orch := orchestrator.New(cmdRunner,
			orchestrator.WithRepository(repo),
			orchestrator.WithHardener(hardening.Default(s.logger)),
			orchestrator.WithTelemetry(tel),
			orchestrator.WithDebugJournal(jr),
			orchestrator.WithTokenEscalator(&orchestrator.TokenEscalator{
				Initial: cfg.Budget.InitialTokenBudget,
				Factor:  cfg.Budget.TokenEscalationFactor,
				Max:     cfg.Budget.MaxTokenBudget,
			}),
			orchestrator.WithLogger(s.logger),
		)

		ec := executor.DefaultConfig(s.dir)
		ec.PhaseFile = phaseFile
		ec.MaxAttempts = cfg.Run.MaxAttempts
		ec.MaxReplans = cfg.Run.MaxReplans
		ec.RunBudgetTokens = cfg.Budget.RunBudgetTokens
		exec := executor.New(ec, orch, repo,
			executor.WithDisplay(s.display),
			executor.WithLogger(s.logger),
			executor.WithObserver(tel),
		)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		_, runErr := exec.Loop(ctx, pf)
		if ctx.Err() != nil {
			s.display.Error("run interrupted; the next run resumes from the recorded attempt")
		}

		if hints := tel.RecentHints(); len(hints) > 0 {
			s.display.Info("hints", fmt.Sprintf("%d learning hints this run", len(hints)))
			if len(hints) > maxShownHints {
				hints = hints[len(hints)-maxShownHints:]
			}
			for _, h := range hints {
				s.display.Detail(fmt.Sprintf("%s %s: %s", h.PhaseID, h.Kind, h.Detail))
			}
		}

		if cfg.Metrics.Enabled {
			path := s.path(cfg.Metrics.File)
			if err := telemetry.WriteTextfile(path, reg); err != nil {
				s.logger.Warn("metrics not written", zap.Error(err))
			} else {
				s.display.Info("metrics", path)
			}
		}

		return runErr
	},
}

func init() {
	runCmd.Flags().IntVar(&runMaxAttempts, "max-attempts", 0, "override run.max_attempts")
	runCmd.Flags().BoolVar(&runNoDetect, "no-detect", false, "do not fall back to the detected build system for phases without commands")
	rootCmd.AddCommand(runCmd)
}
