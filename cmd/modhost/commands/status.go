package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/modhost/pkg/stores"
)

func newStatusCommand() *cobra.Command {
	var (
		controller string
		limit      int
		prune      time.Duration
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show recorded bundles and diagnostics",
		Long:  `List the bundle generations and diagnostics recorded in the ledger.`,
		Example: `  # Show everything
  modhost status

  # Show one controller and drop diagnostics older than a week
  modhost status --controller Acme --prune 168h`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := newRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close(ctx)

			if rt.Store == nil {
				return fmt.Errorf("no ledger configured in %s", rt.Config.Path())
			}
			if err := rt.Store.HealthCheck(ctx); err != nil {
				return err
			}

			var filter *string
			if controller != "" {
				filter = &controller
			}

			if prune > 0 {
				n, err := rt.Store.DeleteDiagnosticsBefore(ctx, time.Now().Add(-prune))
				if err != nil {
					return err
				}
				fmt.Printf("Pruned %d diagnostics\n", n)
			}

			bundles, err := rt.Store.ListBundles(ctx, filter, limit, 0)
			if err != nil {
				return err
			}
			diagnostics, err := rt.Store.ListDiagnostics(ctx, filter, limit, 0)
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(struct {
					Bundles     []*stores.BundleRecord     `json:"bundles"`
					Diagnostics []*stores.DiagnosticRecord `json:"diagnostics"`
				}{bundles, diagnostics})
			}

			fmt.Printf("Bundles (%d)\n", len(bundles))
			for _, b := range bundles {
				fmt.Printf("  %s  %-16s %-5s %d fragments  %s\n",
					b.CreatedAt.Format(time.RFC3339), b.Identity, b.RunMode, b.Fragments, short(b.Checksum))
			}
			fmt.Printf("Diagnostics (%d)\n", len(diagnostics))
			for _, d := range diagnostics {
				owner := "-"
				if d.Controller != nil {
					owner = *d.Controller
				}
				fmt.Printf("  %s  %-7s %-22s %-16s %s\n",
					d.Timestamp.Format(time.RFC3339), d.Level, d.Type, owner, d.Message)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&controller, "controller", "", "only show this controller")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum rows per section")
	cmd.Flags().DurationVar(&prune, "prune", 0, "delete diagnostics older than this first")

	return cmd
}
