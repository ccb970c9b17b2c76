package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/modhost/pkg/config"
	"github.com/openfroyo/modhost/pkg/stores"
)

const projectTemplate = `runmode: dev
debug: true

site:
  theme_dir: .
  theme_uri: http://localhost:8080

ledger:
  path: .modhost/ledger.db

controllers:
  - identity: %s
    root: %s
    make_global: true
`

func newInitCommand() *cobra.Command {
	var (
		identity string
		force    bool
	)

	cmd := &cobra.Command{
		Use:   "init [dir]",
		Short: "Initialize a modhost project",
		Long: `Initialize a project with a project file, a controller directory and the
bundle ledger database.`,
		Example: `  # Initialize in the current directory
  modhost init

  # Initialize with a named controller
  modhost init --identity Acme ./theme`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}
			ctx := cmd.Context()

			log.Info().Str("dir", dir).Str("identity", identity).Msg("Initializing project")

			projectFile := filepath.Join(dir, config.DefaultFile)
			if _, err := os.Stat(projectFile); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", projectFile)
			}

			root := filepath.Join(dir, identity)
			if err := os.MkdirAll(root, 0o755); err != nil {
				return fmt.Errorf("failed to create directory %s: %w", root, err)
			}
			fmt.Printf("✓ Created directory: %s\n", root)

			content := fmt.Sprintf(projectTemplate, identity, identity)
			if err := os.WriteFile(projectFile, []byte(content), 0o644); err != nil {
				return fmt.Errorf("failed to write %s: %w", projectFile, err)
			}
			fmt.Printf("✓ Wrote project file: %s\n", projectFile)

			dbPath := filepath.Join(dir, ".modhost", "ledger.db")
			if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
				return fmt.Errorf("failed to create ledger directory: %w", err)
			}

			store, err := stores.NewSQLiteStore(stores.Config{Path: dbPath})
			if err != nil {
				return fmt.Errorf("failed to create store: %w", err)
			}
			defer store.Close()

			if err := store.Init(ctx); err != nil {
				return fmt.Errorf("failed to initialize ledger: %w", err)
			}
			if err := store.Migrate(ctx); err != nil {
				return fmt.Errorf("failed to migrate ledger: %w", err)
			}
			fmt.Printf("✓ Initialized ledger: %s\n", dbPath)

			fmt.Println("\nProject initialized. Add modules under the controller directory and run:")
			fmt.Println("  modhost bundle")
			return nil
		},
	}

	cmd.Flags().StringVar(&identity, "identity", "Theme", "identity of the first controller")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing project file")

	return cmd
}
