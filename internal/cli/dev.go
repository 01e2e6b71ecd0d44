package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/pulp/tasking/broker"
	"github.com/pulp/tasking/cluster"
	"github.com/pulp/tasking/engine"
	"github.com/pulp/tasking/ext"
	"github.com/pulp/tasking/observability"
	"github.com/pulp/tasking/store/memory"
	"github.com/pulp/tasking/worker"
)

func newDevCmd(a *app) *cobra.Command {
	var workers int

	cmd := &cobra.Command{
		Use:   "dev",
		Short: "Run a coordinator and workers in one process on in-memory backends",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.runDev(ctx, workers)
		},
	}
	cmd.Flags().IntVarP(&workers, "workers", "w", 2, "Number of workers to start")
	return cmd
}

func (a *app) runDev(ctx context.Context, workers int) error {
	s := memory.New()
	b := broker.NewMemory()
	defer b.Close()

	// One set of counters covers both sides of the in-process cluster.
	counters := observability.NewMetricsExtension()
	eng, err := engine.New(a.cfg, s, b,
		engine.WithLogger(a.logger),
		engine.WithHostname("localhost"),
		engine.WithExtension(counters),
	)
	if err != nil {
		return err
	}

	exts := ext.NewRegistry(a.logger, counters)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return eng.Run(gctx) })
	for i := 1; i <= workers; i++ {
		runner := worker.NewRunner(cluster.WorkerName(i, "localhost"), s, b, a.registry, eng.Router(),
			worker.WithLogger(a.logger),
			worker.WithHeartbeatInterval(a.cfg.HeartbeatInterval),
			worker.WithExtensions(exts),
		)
		g.Go(func() error { return runner.Run(gctx) })
	}

	a.logger.Info("dev cluster running", slog.Int("workers", workers))
	runErr := g.Wait()
	if err := eng.Stop(context.WithoutCancel(ctx)); err != nil {
		a.logger.Warn("coordinator stop", slog.String("error", err.Error()))
	}
	return runErr
}
