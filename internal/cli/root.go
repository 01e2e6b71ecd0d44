// Package cli implements the taskingd command tree.
package cli

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/pulp/tasking"
	"github.com/pulp/tasking/internal/logging"
	"github.com/pulp/tasking/task"
)

// app holds state shared by every subcommand once flags are parsed.
type app struct {
	registry *task.Registry

	configPath string
	logLevel   string
	logFormat  string

	cfg    tasking.Config
	logger *slog.Logger
}

// NewRootCmd creates the root command. Workers started from it execute the
// handlers in registry.
func NewRootCmd(registry *task.Registry) *cobra.Command {
	a := &app{registry: registry}

	root := &cobra.Command{
		Use:   "taskingd",
		Short: "Resource-reserving task coordinator and worker",
		Long: "taskingd routes tasks to workers so that tasks touching the same resource\n" +
			"run one at a time in submission order, and reclaims the work of workers\n" +
			"that stop heartbeating.",
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "Path to a YAML config file")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&a.logFormat, "log-format", "", "Log format (text, json)")

	root.AddCommand(
		newCoordinatorCmd(a),
		newWorkerCmd(a),
		newDevCmd(a),
		newDispatchCmd(a),
		newStatusCmd(a),
		newCancelCmd(a),
	)
	return root
}

// setup loads configuration and builds the logger. Flags override the
// config file.
func (a *app) setup(cmd *cobra.Command) error {
	cfg := tasking.DefaultConfig()
	if a.configPath != "" {
		loaded, err := tasking.LoadConfig(a.configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	} else if err := cfg.Validate(); err != nil {
		return err
	}

	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	if a.logFormat != "" {
		cfg.Log.Format = a.logFormat
	}

	a.cfg = cfg
	a.logger = logging.NewLoggerWithWriter(cfg.Log, cmd.ErrOrStderr())
	slog.SetDefault(a.logger)
	return nil
}
