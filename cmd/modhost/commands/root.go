package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/openfroyo/modhost/pkg/bootstrap"
	"github.com/openfroyo/modhost/pkg/config"
)

var (
	// Global flags
	configPath  string
	verbose     bool
	jsonOutput  bool
	runModeFlag string
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "modhost",
		Short: "modhost - component composition and lazy module loading",
		Long: `modhost registers controllers, composes helpers into them and loads their
script modules on demand.

In dev mode module directories are indexed, fragments are loaded one by one and the
bundle file is regenerated. In every other run mode the bundle generated at deploy
time is loaded instead.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultFile, "project file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().StringVar(&runModeFlag, "runmode", "", "override the run mode (dev, test, stage, live)")

	rootCmd.AddCommand(newInitCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newIndexCommand())
	rootCmd.AddCommand(newBundleCommand())
	rootCmd.AddCommand(newCallCommand())
	rootCmd.AddCommand(newWatchCommand())
	rootCmd.AddCommand(newStatusCommand())

	return rootCmd
}

// loadConfig loads the project file and applies the global flags.
func loadConfig(ctx context.Context) (*config.Config, error) {
	if runModeFlag != "" {
		if err := os.Setenv("MODHOST_RUNMODE", runModeFlag); err != nil {
			return nil, err
		}
	}

	cfg, err := config.Load(ctx, configPath)
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.Telemetry.LogLevel = "debug"
	}
	if jsonOutput {
		cfg.Telemetry.LogFormat = "json"
	}
	return cfg, nil
}

// newRuntime loads the project file and assembles a runtime from it. The caller
// closes the runtime.
func newRuntime(ctx context.Context) (*bootstrap.Runtime, error) {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return nil, err
	}
	return bootstrap.New(ctx, cfg)
}

// printJSON writes v to stdout as indented JSON.
func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// short abbreviates a checksum for display.
func short(sum string) string {
	if len(sum) > 12 {
		return sum[:12]
	}
	return sum
}
