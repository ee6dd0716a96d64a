package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/daydemir/autopilot/internal/journal"
)

var (
	journalPhase string
	journalRun   string
	journalLimit int
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Show failures from exhausted phases",
	Long: `Show debug journal entries, oldest first.

An entry is written every time a phase exhausts its attempts. Each entry
carries the error signature, symptom, suspected cause and run id.

Examples:
  autopilot journal                   All entries
  autopilot journal --phase p02       Entries for one phase
  autopilot journal --limit 5         The five most recent entries`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession()
		if err != nil {
			return err
		}
		defer s.close()

		dir := s.path(s.cfg.Storage.JournalDir)
		if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
			fmt.Println("No journal entries yet.")
			return nil
		}

		store, err := journal.Open(journal.Config{Dir: dir, Logger: s.logger})
		if err != nil {
			return err
		}
		defer store.Close()

		entries, err := store.List(cmd.Context(), journal.Filter{
			PhaseID: journalPhase,
			RunID:   journalRun,
			Limit:   journalLimit,
		})
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("No journal entries yet.")
			return nil
		}

		for _, e := range entries {
			s.display.JournalEntry(e)
		}
		s.display.SectionBreak()
		s.display.Info("journal", fmt.Sprintf("%d of %d entries", len(entries), store.Len()))
		return nil
	},
}

func init() {
	journalCmd.Flags().StringVar(&journalPhase, "phase", "", "only entries for this phase")
	journalCmd.Flags().StringVar(&journalRun, "run", "", "only entries for this run id")
	journalCmd.Flags().IntVarP(&journalLimit, "limit", "n", 0, "show only the newest N entries")
	rootCmd.AddCommand(journalCmd)
}
