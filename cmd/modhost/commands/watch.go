package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newWatchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Regenerate bundles as module files change",
		Long: `Boot the runtime in dev mode and regenerate each controller's bundle when
files in its module directories change. Events are debounced.

When metrics are enabled in the project file they are served while watching.`,
		Example: `  # Watch every controller
  modhost watch

  # Watch with debug logging
  modhost watch -v`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if runModeFlag == "" {
				runModeFlag = "dev"
			}

			rt, err := newRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close(context.Background())

			if !rt.RunMode.IsDev() {
				return fmt.Errorf("watch requires dev run mode, got %s", rt.RunMode.Get())
			}
			if err := rt.Boot(ctx); err != nil {
				return err
			}

			server, err := rt.Telemetry.Metrics.StartMetricsServer()
			if err != nil {
				return fmt.Errorf("failed to start metrics server: %w", err)
			}
			if server != nil {
				log.Info().Str("addr", server.Addr).Msg("Serving metrics")
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = server.Shutdown(shutdownCtx)
				}()
			}

			if err := rt.Watch(ctx); err != nil {
				return err
			}
			log.Info().Strs("controllers", rt.Registry.Identities()).Msg("Watching for changes")

			<-ctx.Done()
			return nil
		},
	}

	return cmd
}
