package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/daydemir/autopilot/internal/state"
)

var resetCmd = &cobra.Command{
	Use:   "reset <phase-id>",
	Short: "Forget a phase's recorded state",
	Long: `Remove the recorded state of a phase so the next run starts it fresh.

Use this after fixing the cause of a failed phase. The debug journal is
left untouched.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession()
		if err != nil {
			return err
		}
		defer s.close()

		phaseID := args[0]
		repo := state.NewFileRepository(s.path(s.cfg.Storage.StateFile))
		if err := repo.Reset(phaseID); err != nil {
			if errors.Is(err, state.ErrPhaseNotFound) {
				return fmt.Errorf("phase %s has no recorded state", phaseID)
			}
			return err
		}

		s.display.Success("Reset " + phaseID)
		s.display.Detail("state: " + repo.Path())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(resetCmd)
}
