package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the project file",
		Long: `Validate the project file.

This command checks:
  - YAML syntax
  - Field constraints (paths, helper sources, log settings)
  - The CUE project schema (identities, prefixes, helper names)
  - The run mode, when debug is set`,
		Example: `  # Validate modhost.yaml in the current directory
  modhost validate

  # Validate another project file
  modhost validate -c ./deploy/modhost.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd.Context())
			if err != nil {
				return err
			}

			log.Debug().Str("config", cfg.Path()).Msg("Configuration valid")

			if jsonOutput {
				return printJSON(map[string]interface{}{
					"valid":       true,
					"path":        cfg.Path(),
					"runmode":     cfg.RunMode,
					"controllers": len(cfg.Controllers),
				})
			}
			fmt.Printf("✓ %s is valid (runmode %s, %d controllers)\n", cfg.Path(), cfg.RunMode, len(cfg.Controllers))
			return nil
		},
	}

	return cmd
}
