package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pulp/tasking/engine"
	"github.com/pulp/tasking/observability"
)

func newCoordinatorCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "coordinator",
		Short: "Run the coordinator (leader election, worker monitor, reaper, scheduler)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			s, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			b, closeBroker, err := a.openBroker(ctx)
			if err != nil {
				return err
			}
			defer closeBroker() //nolint:errcheck // best effort on exit

			eng, err := engine.New(a.cfg, s, b,
				engine.WithLogger(a.logger),
				engine.WithExtension(observability.NewMetricsExtension()),
			)
			if err != nil {
				return err
			}

			runErr := eng.Run(ctx)
			if err := eng.Stop(context.WithoutCancel(ctx)); err != nil {
				a.logger.Warn("coordinator stop", slog.String("error", err.Error()))
			}
			return runErr
		},
	}
}
