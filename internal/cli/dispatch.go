package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pulp/tasking/router"
	"github.com/pulp/tasking/scope"
)

func newDispatchCmd(a *app) *cobra.Command {
	var (
		resource string
		payload  string
		user     string
		wait     bool
	)

	cmd := &cobra.Command{
		Use:   "dispatch TASK_NAME",
		Short: "Dispatch a task, reserving a resource if given",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if payload != "" && !json.Valid([]byte(payload)) {
				return fmt.Errorf("--payload is not valid JSON")
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
			req := router.Request{Name: args[0], ResourceID: resource}
			if payload != "" {
				req.Payload = []byte(payload)
			}

			ctx = scope.WithUser(ctx, user)
			dispatch := r.Dispatch
			if wait {
				dispatch = r.DispatchWaiting
			}
			t, err := dispatch(ctx, req)
			if err != nil {
				return err
			}
			return printJSON(cmd, t)
		},
	}

	cmd.Flags().StringVarP(&resource, "resource", "r", "", "Resource the task reserves")
	cmd.Flags().StringVarP(&payload, "payload", "p", "", "JSON payload")
	cmd.Flags().StringVarP(&user, "user", "u", "", "User the task runs on behalf of")
	cmd.Flags().BoolVar(&wait, "wait", false, "Leave the task waiting instead of failing when no worker is available")
	return cmd
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
