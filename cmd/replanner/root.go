package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/signalsfoundry/grid-replanner/internal/config"
	"github.com/signalsfoundry/grid-replanner/internal/logging"
	"github.com/signalsfoundry/grid-replanner/internal/observability"
	"github.com/signalsfoundry/grid-replanner/model"
	"github.com/spf13/cobra"
)

// app carries state shared by every subcommand once the root command has
// loaded configuration.
type app struct {
	configPath string
	logLevel   string

	cfg      config.Config
	log      logging.Logger
	shutdown func(context.Context) error
}

// execute runs the CLI with args and releases tracing resources afterwards.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	a := &app{log: logging.NewFromEnv()}
	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	err := root.ExecuteContext(ctx)
	observability.ShutdownWithTimeout(context.Background(), a.shutdown, a.log)
	return err
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "replanner",
		Short: "A* path planning and dynamic replanning on occupancy grids",
		Long: `replanner finds least-cost 8-connected paths through grid maps and
simulates an agent that replans after every step while obstacles appear
and disappear around it.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "path to a YAML config file")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override the logging level (debug, info, warn, error)")

	root.AddCommand(
		newSearchCmd(a),
		newDynamicCmd(a),
		newServeCmd(a),
		newConfigCmd(a),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Logging.Level = strings.ToLower(a.logLevel)
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	// Logs and stdout-exported spans go to stderr so command output stays clean.
	a.log = logging.New(cfg.LoggerConfig(cmd.ErrOrStderr()))
	if cfg.Tracing.Writer == nil {
		cfg.Tracing.Writer = cmd.ErrOrStderr()
	}
	a.cfg = cfg

	shutdown, err := observability.InitTracing(cmd.Context(), cfg.Tracing, a.log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	a.shutdown = shutdown
	return nil
}

// revalidate checks the configuration after command flags were applied.
func (a *app) revalidate() error {
	return a.cfg.Validate()
}

func newConfigCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out, err := config.Marshal(a.cfg)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}

// parsePosition reads "row,col".
func parsePosition(s string) (model.Position, error) {
	rs, cs, ok := strings.Cut(strings.TrimSpace(s), ",")
	if !ok {
		return model.Position{}, fmt.Errorf("position %q: want row,col", s)
	}
	row, err := strconv.Atoi(strings.TrimSpace(rs))
	if err != nil {
		return model.Position{}, fmt.Errorf("position %q: bad row: %w", s, err)
	}
	col, err := strconv.Atoi(strings.TrimSpace(cs))
	if err != nil {
		return model.Position{}, fmt.Errorf("position %q: bad col: %w", s, err)
	}
	return model.Position{Row: row, Col: col}, nil
}
