package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/daydemir/autopilot/internal/state"
	"github.com/daydemir/autopilot/internal/types"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show each phase's recorded state",
	Long: `Show the recorded state of every phase in .autopilot/phases.yaml.

Displays:
  - Status (pending, in_progress, complete, failed)
  - Attempt count and revision epoch
  - Failure reason for failed phases

Use --json for machine-readable output.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession()
		if err != nil {
			return err
		}
		defer s.close()

		pf, err := state.LoadPhaseFile(s.path(s.cfg.Storage.PhaseFile))
		if err != nil {
			return fmt.Errorf("cannot load phases: %w", err)
		}

		records, err := state.NewFileRepository(s.path(s.cfg.Storage.StateFile)).All()
		if err != nil {
			return fmt.Errorf("cannot load state: %w", err)
		}

		if statusJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(records)
		}

		byID := make(map[string]types.PhaseRecord, len(records))
		complete := 0
		for _, rec := range records {
			byID[rec.PhaseID] = rec
			if rec.Status == types.StatusComplete {
				complete++
			}
		}

		theme := s.display.Theme()
		fmt.Printf("%s %s\n", theme.Bold("Project:"), pf.Project)
		fmt.Printf("%s %d/%d phases complete\n\n", theme.Bold("Progress:"), complete, len(pf.Phases))
		s.display.PhaseRecords(pf.Phases, byID)
		return nil
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print records as JSON")
	rootCmd.AddCommand(statusCmd)
}
