package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/daydemir/autopilot/internal/logs"
)

var (
	logsListAll bool
	logsShow    bool
)

var logsCmd = &cobra.Command{
	Use:   "logs [phase-id]",
	Short: "List attempt transcripts",
	Long: `List the markdown transcripts written for each attempt.

Every attempt records its build and validation commands with their
output under .autopilot/logs/<phase-id>/.

Examples:
  autopilot logs              Most recent transcripts
  autopilot logs p02          Transcripts for one phase
  autopilot logs p02 --show   Print the latest transcript for p02`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession()
		if err != nil {
			return err
		}
		defer s.close()

		phaseID := ""
		if len(args) == 1 {
			phaseID = args[0]
		}

		files, err := logs.NewWriter(s.path(s.cfg.Storage.LogDir)).List(phaseID)
		if err != nil {
			return err
		}
		if len(files) == 0 {
			fmt.Println("No attempt logs found.")
			return nil
		}

		if logsShow {
			content, err := os.ReadFile(files[len(files)-1].Path)
			if err != nil {
				return fmt.Errorf("cannot read log: %w", err)
			}
			fmt.Print(string(content))
			return nil
		}

		theme := s.display.Theme()
		fmt.Printf("Found %d transcript(s):\n\n", len(files))

		// Show most recent transcripts (or all if --all flag)
		showCount := 10
		if logsListAll {
			showCount = len(files)
		}
		startIdx := max(len(files)-showCount, 0)

		for _, f := range files[startIdx:] {
			fmt.Printf("  %s  %s  %s\n",
				f.ModTime.Format("2006-01-02 15:04"),
				theme.Info(f.PhaseID),
				theme.Dim(f.Path))
		}

		if startIdx > 0 {
			fmt.Printf("\n  ... and %d more (use --all to show all)\n", startIdx)
		}
		return nil
	},
}

func init() {
	logsCmd.Flags().BoolVarP(&logsListAll, "all", "a", false, "show all transcripts")
	logsCmd.Flags().BoolVar(&logsShow, "show", false, "print the most recent transcript")
	rootCmd.AddCommand(logsCmd)
}
