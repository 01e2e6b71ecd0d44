package cli

import (
	"github.com/spf13/cobra"

	"github.com/pulp/tasking/id"
	"github.com/pulp/tasking/router"
)

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status TASK_ID",
		Short: "Show a task's current state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			taskID, err := id.ParseTaskID(args[0])
			if err != nil {
				return err
			}

			s, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			t, err := s.GetTask(cmd.Context(), taskID)
			if err != nil {
				return err
			}
			return printJSON(cmd, t)
		},
	}
}

func newCancelCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel TASK_ID",
		Short: "Cancel a task and release its reservation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			taskID, err := id.ParseTaskID(args[0])
			if err != nil {
				return err
			}

			s, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			// Cancel only touches the store.
			r := router.New(s, nil, router.WithLogger(a.logger))
			t, err := r.Cancel(cmd.Context(), taskID)
			if err != nil {
				return err
			}
			return printJSON(cmd, t)
		},
	}
}
