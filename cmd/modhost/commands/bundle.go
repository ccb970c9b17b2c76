package commands

import (
	"bytes"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/modhost/pkg/autoload"
	"github.com/openfroyo/modhost/pkg/controller"
	"github.com/openfroyo/modhost/pkg/stores"
)

type bundleReport struct {
	Controller string `json:"controller"`
	autoload.SyncResult
}

func newBundleCommand() *cobra.Command {
	var check bool

	cmd := &cobra.Command{
		Use:   "bundle [identity...]",
		Short: "Generate bundle files",
		Long: `Concatenate the bundle fragments of each controller into its bundle file.
The file is only rewritten when its content changed. Every written bundle is
recorded in the ledger so other run modes can detect a stale file.

With --check nothing is written and the command fails when a bundle is out of date.`,
		Example: `  # Regenerate every bundle before deploying
  modhost bundle

  # Fail in CI when a bundle is stale
  modhost bundle --check`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := newRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close(ctx)

			identities := args
			if len(identities) == 0 {
				identities = rt.Registry.Identities()
			}

			var reports []bundleReport
			stale := 0
			for _, identity := range identities {
				impl, ok := rt.Registry.Lookup(identity)
				if !ok {
					return fmt.Errorf("controller %s is not registered", identity)
				}
				impl.Index().IndexNow()

				var result autoload.SyncResult
				if check {
					result, err = checkBundle(impl)
				} else {
					result, err = impl.Bundler().SyncToDisk("")
				}
				if err != nil {
					return fmt.Errorf("controller %s: %w", identity, err)
				}
				reports = append(reports, bundleReport{Controller: identity, SyncResult: result})

				if check && result.Written {
					stale++
					continue
				}
				if result.Written && rt.Store != nil {
					err := rt.Store.RecordBundle(ctx, &stores.BundleRecord{
						Identity:  identity,
						Path:      result.Path,
						Checksum:  result.Checksum,
						Fragments: result.Fragments,
						RunMode:   string(rt.RunMode.Get()),
					})
					if err != nil {
						log.Warn().Err(err).Str("controller", identity).Msg("Failed to record bundle")
					}
				}
			}

			if jsonOutput {
				if err := printJSON(reports); err != nil {
					return err
				}
			} else {
				for _, r := range reports {
					state := "unchanged"
					switch {
					case r.Written && check:
						state = "stale"
					case r.Written:
						state = "written"
					}
					fmt.Printf("%-16s %-9s %d fragments  %s  %s\n", r.Controller, state, r.Fragments, short(r.Checksum), r.Path)
				}
			}

			if stale > 0 {
				return fmt.Errorf("%d bundle(s) out of date", stale)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&check, "check", false, "report stale bundles without writing them")

	return cmd
}

// checkBundle reports what SyncToDisk would do. Written means the file on disk differs.
func checkBundle(impl *controller.Implementation) (autoload.SyncResult, error) {
	b := impl.Bundler()
	content, err := b.Generate()
	if err != nil {
		return autoload.SyncResult{}, err
	}
	result := autoload.SyncResult{
		Path:      b.Path(),
		Checksum:  autoload.Checksum(content),
		Fragments: len(impl.Index().Fragments()),
	}

	existing, err := os.ReadFile(b.Path())
	result.Written = err != nil || !bytes.Equal(existing, content)
	return result, nil
}
