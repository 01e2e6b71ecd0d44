// Command taskingd runs the tasking coordinator and workers.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/pulp/tasking/internal/cli"
	"github.com/pulp/tasking/task"
)

type sleepPayload struct {
	Seconds float64 `json:"seconds"`
}

func main() {
	registry := task.NewRegistry()
	task.RegisterFunc(registry, "tasking.noop", func(context.Context, struct{}) error { return nil })
	task.RegisterFunc(registry, "tasking.sleep", func(ctx context.Context, p sleepPayload) error {
		select {
		case <-time.After(time.Duration(p.Seconds * float64(time.Second))):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	if err := cli.NewRootCmd(registry).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
