package cli

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/daydemir/autopilot/internal/config"
	"github.com/daydemir/autopilot/internal/workspace"
)

var configCmd = &cobra.Command{
	Use:   "config [key] [value]",
	Short: "View or modify configuration",
	Long: `View or modify autopilot configuration.

Examples:
  autopilot config                      Show all config
  autopilot config run.max_attempts     Get a specific value
  autopilot config run.max_attempts 3   Set a value`,
	Args: cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		wsDir := workspaceDir
		if wsDir == "" {
			found, err := workspace.Find()
			if err != nil {
				return err
			}
			wsDir = found
		}

		configPath := config.Path(wsDir)

		switch len(args) {
		case 0:
			return showConfig(configPath)
		case 1:
			return getConfigValue(configPath, args[0])
		case 2:
			return setConfigValue(wsDir, configPath, args[0], args[1])
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
}

func showConfig(configPath string) error {
	content, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}
	fmt.Println(string(content))
	return nil
}

func getConfigValue(configPath, key string) error {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}

	value := v.Get(key)
	if value == nil {
		return fmt.Errorf("key not found: %s", key)
	}

	fmt.Println(value)
	return nil
}

func setConfigValue(wsDir, configPath, key, value string) error {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}

	v.Set(key, parseValue(value))

	if err := v.WriteConfig(); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	// Reject values the run command would refuse
	if _, err := config.Load(wsDir); err != nil {
		return fmt.Errorf("config now invalid: %w", err)
	}

	fmt.Printf("Set %s = %s\n", key, value)
	return nil
}

// parseValue keeps numbers and booleans typed in the written YAML.
// Comma-separated values become lists.
func parseValue(value string) any {
	if strings.Contains(value, ",") {
		return strings.Split(value, ",")
	}
	if i, err := strconv.Atoi(value); err == nil {
		return i
	}
	if value == "true" || value == "false" {
		return value == "true"
	}
	if f, err := strconv.ParseFloat(value, 64); err == nil {
		return f
	}
	return value
}
