package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	version      = "0.1.0"
	workspaceDir string
	logLevel     string
	noColor      bool
)

var rootCmd = &cobra.Command{
	Use:   "autopilot",
	Short: "Phase execution orchestrator",
	Long: `Autopilot drives a project's build phases to completion.

Each phase is attempted, verified with its build and validation commands,
and retried, repaired or escalated until it completes or needs a human.

Get started:
  autopilot init              Initialize a new workspace
  autopilot run               Run every incomplete phase
  autopilot status            Show each phase's recorded state
  autopilot journal           Show failures from exhausted phases`,
	Version: version,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&workspaceDir, "workspace", "C", "", "workspace directory (default: nearest directory containing .autopilot/)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logging.level")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.SetVersionTemplate(fmt.Sprintf("autopilot version %s\n", version))
}
