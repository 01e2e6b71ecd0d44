package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/pulp/tasking/cluster"
	"github.com/pulp/tasking/ext"
	"github.com/pulp/tasking/observability"
	"github.com/pulp/tasking/router"
	"github.com/pulp/tasking/worker"
)

func newWorkerCmd(a *app) *cobra.Command {
	var (
		index       int
		hostname    string
		taskTimeout time.Duration
		cancelPoll  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run a worker consuming its dedicated queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if hostname == "" {
				h, err := os.Hostname()
				if err != nil {
					return fmt.Errorf("hostname: %w", err)
				}
				hostname = h
			}

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

			r := router.New(s, b,
				router.WithLogger(a.logger),
				router.WithWorkerTimeout(a.cfg.WorkerTimeout),
			)
			runner := worker.NewRunner(cluster.WorkerName(index, hostname), s, b, a.registry, r,
				worker.WithLogger(a.logger),
				worker.WithHeartbeatInterval(a.cfg.HeartbeatInterval),
				worker.WithTaskTimeout(taskTimeout),
				worker.WithCancelPollInterval(cancelPoll),
				worker.WithExtensions(ext.NewRegistry(a.logger, observability.NewMetricsExtension())),
			)
			return runner.Run(ctx)
		},
	}

	cmd.Flags().IntVarP(&index, "index", "n", 1, "Worker number on this host")
	cmd.Flags().StringVar(&hostname, "hostname", "", "Host part of the worker name (default: os.Hostname)")
	cmd.Flags().DurationVar(&taskTimeout, "task-timeout", 0, "Bound on each task's execution (0 disables)")
	cmd.Flags().DurationVar(&cancelPoll, "cancel-poll", time.Second, "How often a running task is checked for cancellation (0 disables)")
	return cmd
}
