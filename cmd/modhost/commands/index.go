package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/modhost/pkg/autoload"
)

type indexReport struct {
	Controller string           `json:"controller"`
	Dirs       []autoload.Dir   `json:"dirs"`
	Entries    []autoload.Entry `json:"entries"`
	Fragments  []string         `json:"fragments"`
}

func newIndexCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index [identity...]",
		Short: "Show the module index of controllers",
		Long: `Scan the module directories of each controller and list the indexed
modules and bundle fragments. With no arguments every controller is shown.`,
		Example: `  # Index every controller
  modhost index

  # Index one controller as JSON
  modhost index Acme --json`,
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

			reports := make([]indexReport, 0, len(identities))
			for _, identity := range identities {
				impl, ok := rt.Registry.Lookup(identity)
				if !ok {
					return fmt.Errorf("controller %s is not registered", identity)
				}
				ix := impl.Index()
				ix.IndexNow()
				reports = append(reports, indexReport{
					Controller: identity,
					Dirs:       ix.Registered(),
					Entries:    ix.Entries(),
					Fragments:  ix.Fragments(),
				})
			}

			if jsonOutput {
				return printJSON(reports)
			}
			for _, r := range reports {
				fmt.Printf("%s (%d modules, %d fragments)\n", r.Controller, len(r.Entries), len(r.Fragments))
				for _, e := range r.Entries {
					fmt.Printf("  %-32s %s\n", e.Name, e.Path)
				}
				for _, f := range r.Fragments {
					fmt.Printf("  %-32s %s\n", "[fragment]", f)
				}
			}
			return nil
		},
	}

	return cmd
}
