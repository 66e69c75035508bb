package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"switchboard/internal/app"
)

func newServeCmd() *cobra.Command {
	var debug bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the switchboard server",
		Long: `Starts the switchboard HTTP server, restores plugin instances recorded
as running and relays events until interrupted.

Configuration is read from config.yaml in --config-path (default
$HOME/.config/switchboard). SWITCHBOARD_* environment variables override
file values, e.g. SWITCHBOARD_DATABASE_URL or SWITCHBOARD_REDIS_ADDR.

SIGINT and SIGTERM trigger a graceful shutdown.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			application, err := app.NewApplication(ctx, app.NewConfig(debug, false, configPath))
			if err != nil {
				return fmt.Errorf("failed to initialize application: %w", err)
			}
			return application.Run(ctx)
		},
	}

	cmd.Flags().BoolVar(&debug, "debug", false, "Enable debug logging")
	return cmd
}
