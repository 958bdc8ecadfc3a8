package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dyluth/warren/internal/printer"
)

var configExplain bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long: `Print the configuration the CLI runs with, after loading any config
file and applying the --root override, as YAML.

Use --explain to also show where the configuration came from.`,
	RunE: runConfig,
}

func init() {
	configCmd.Flags().BoolVar(&configExplain, "explain", false, "Show where the configuration was loaded from")
	rootCmd.AddCommand(configCmd)
}

func runConfig(cmd *cobra.Command, args []string) error {
	node, err := newNode()
	if err != nil {
		return err
	}
	defer node.Close()

	if configExplain {
		if path := node.ConfigPath(); path != "" {
			printer.Info("Loaded from %s\n", path)
		} else {
			printer.Info("Using built-in defaults; no config file found.\n")
			printer.Info("Searched: --config flag, ~/.config/warren/config.yaml, /etc/warren/config.yaml\n")
		}
		if rootPath != "" {
			printer.Info("Root path overridden by --root.\n")
		}
		fmt.Println()
	}

	data, err := node.ConfigYAML()
	if err != nil {
		return fmt.Errorf("failed to render config: %w", err)
	}
	fmt.Print(string(data))
	return nil
}
