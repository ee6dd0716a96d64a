package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/daydemir/autopilot/internal/display"
	"github.com/daydemir/autopilot/internal/workspace"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a new autopilot workspace",
	Long: `Initialize a new autopilot workspace in the current directory.

Creates .autopilot/ folder with:
  - config.yaml      Configuration settings
  - phases.yaml      Phase list (one example phase)
  - .gitignore       Keeps run state out of version control`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := workspaceDir
		if dir == "" {
			cwd, err := os.Getwd()
			if err != nil {
				return fmt.Errorf("failed to get current directory: %w", err)
			}
			dir = cwd
		}

		path, err := workspace.Init(dir, initForce)
		if err != nil {
			return err
		}

		display.NewWithOptions(noColor).Box("AUTOPILOT",
			"Initialized workspace in "+path,
			"",
			"Next steps:",
			"  1. Describe your phases in .autopilot/phases.yaml",
			"  2. Run 'autopilot run' to execute them",
		)
		return nil
	},
}

func init() {
	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "overwrite existing workspace")
	rootCmd.AddCommand(initCmd)
}
