package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dyluth/warren/pkg/warren"
)

var (
	version string
	commit  string
	date    string
)

// Global flags shared by every subcommand
var (
	rootPath   string
	configFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "warren",
	Short: "Warren - Zero-copy shared memory IPC",
	Long: `Warren connects processes on one machine through named services backed
by shared memory: publish-subscribe streams, event signalling,
request-response exchanges and blackboard key-value stores.

The CLI is a maintenance tool. It observes services without attaching
to them, so nothing it does keeps a service alive.`,
	Version: version,
	// If no subcommand is specified, show help rather than silently succeeding
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	// Silence Cobra's default error and usage printing
	// We print formatted colored errors directly in the printer package
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	return rootCmd.Execute()
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rootPath, "root", "", "Storage root to operate on (default from config)")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to a warren config file")
}

// newNode builds the observer node every subcommand works through, honouring
// the global --root and --config flags.
func newNode() (*warren.Node, error) {
	node, err := warren.NewNode(warren.NodeConfig{
		Name:       "warren-cli",
		ConfigPath: configFile,
		RootPath:   rootPath,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create node: %w", err)
	}
	return node, nil
}

// serviceIDs lists every published service id, corrupted ones included.
func serviceIDs(node *warren.Node) ([]string, error) {
	var ids []string
	err := warren.ListServices(node, func(d warren.ServiceDetails) bool {
		ids = append(ids, d.ID)
		return true
	})
	return ids, err
}
