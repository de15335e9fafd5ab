package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/signalsfoundry/grid-replanner/core"
	"github.com/signalsfoundry/grid-replanner/internal/logging"
	"github.com/signalsfoundry/grid-replanner/internal/report"
	"github.com/signalsfoundry/grid-replanner/model"
	"github.com/signalsfoundry/grid-replanner/timectrl"
	"github.com/spf13/cobra"
)

type dynamicFlags struct {
	spawn       float64
	clear       float64
	maxFailures int
	maxCycles   int
	tick        time.Duration
	mode        string
	verbose     bool
	maps        bool
	asJSON      bool
}

func (f *dynamicFlags) bind(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.Float64Var(&f.spawn, "spawn", 0, "probability that a free cell becomes an obstacle each cycle")
	fs.Float64Var(&f.clear, "clear", 0, "probability that an obstacle is cleared each cycle")
	fs.IntVar(&f.maxFailures, "max-failures", 0, "consecutive planning failures before the run is abandoned")
	fs.IntVar(&f.maxCycles, "max-cycles", 0, "stop after this many cycles (0 is unbounded)")
	fs.DurationVar(&f.tick, "tick", 0, "time between cycles in realtime mode")
	fs.StringVar(&f.mode, "mode", "", "pacing: realtime or accelerated")
	fs.BoolVarP(&f.verbose, "verbose", "v", false, "print a line for every cycle")
	fs.BoolVar(&f.maps, "maps", false, "with --verbose, draw the map after every cycle")
	fs.BoolVar(&f.asJSON, "json", false, "print the result as JSON")
}

func (f *dynamicFlags) apply(cmd *cobra.Command, a *app) error {
	fs := cmd.Flags()
	d := &a.cfg.Dynamics
	if fs.Changed("spawn") {
		d.SpawnProbability = f.spawn
	}
	if fs.Changed("clear") {
		d.ClearProbability = f.clear
	}
	if fs.Changed("max-failures") {
		d.MaxConsecutiveFailures = f.maxFailures
	}
	if fs.Changed("max-cycles") {
		d.MaxCycles = f.maxCycles
	}
	if fs.Changed("tick") {
		d.Tick = f.tick
	}
	if fs.Changed("mode") {
		d.Mode = f.mode
	}
	return a.revalidate()
}

func newDynamicCmd(a *app) *cobra.Command {
	var (
		grid    gridFlags
		planner plannerFlags
		dyn     dynamicFlags
	)
	cmd := &cobra.Command{
		Use:   "dynamic",
		Short: "Walk an agent to the goal, replanning as obstacles change",
		Long: `dynamic plans a path, commits its first step, mutates the grid and
repeats until the agent reaches the goal or planning fails too many times
in a row.`,
		Example: `  replanner dynamic --rows 25 --cols 25 --spawn 0.05 --clear 0.2 -v
  replanner dynamic --grid maps/warehouse.txt --mode realtime --tick 250ms -v --maps`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := planner.apply(cmd, a); err != nil {
				return err
			}
			if err := dyn.apply(cmd, a); err != nil {
				return err
			}
			searchOpts, err := a.cfg.SearchOptions()
			if err != nil {
				return err
			}
			mode, err := timectrl.ParseMode(a.cfg.Dynamics.Mode)
			if err != nil {
				return err
			}
			env, err := grid.environment(a.cfg.Rand())
			if err != nil {
				return err
			}

			ctx, log := logging.WithRunLogger(cmd.Context(), a.log)
			out := cmd.OutOrStdout()
			r := report.NewRenderer(out)

			trail := []model.Position{env.Start()}
			opts := []core.ReplannerOption{
				core.WithReplannerLogger(log),
				core.WithSearchOptions(append(searchOpts, core.WithSearchLogger(log))...),
			}
			if dyn.verbose && !dyn.asJSON {
				opts = append(opts, core.WithCycleListener(func(c core.CycleReport) {
					if c.Stepped {
						trail = append(trail, c.Position)
					}
					fmt.Fprintln(out, r.CycleLine(c))
					if dyn.maps {
						agent := c.Position
						fmt.Fprintln(out, r.Grid(env, report.Overlay{
							Planned:   c.Search.Path,
							Traversed: trail,
							Agent:     &agent,
						}))
					}
				}))
			}

			replanner, err := core.NewDynamicReplanner(env, a.cfg.ReplannerConfig(), opts...)
			if err != nil {
				return err
			}
			clock := timectrl.NewTimeController(time.Now(), a.cfg.Dynamics.Tick, mode)
			clock.AddListener(func(now time.Time) {
				log.Debug(ctx, "cycle tick", logging.String("clock", now.Format(time.RFC3339Nano)))
			})
			run := replanner.Begin(env.Start(), env.Goal())
			runErr := clock.RunUntil(ctx, func(time.Time) bool { return run.Cycle(ctx) })
			if runErr != nil && !run.Done() {
				// The clock stopped before the run did; close it out as cancelled.
				run.Cycle(ctx)
			}
			res := run.Result()
			log.Debug(ctx, "clock stopped", logging.Int("ticks", clock.Ticks()))

			if dyn.asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(res); err != nil {
					return err
				}
				return runErr
			}
			fmt.Fprintln(out, r.Grid(env, report.Overlay{Traversed: res.CompletePath}))
			fmt.Fprint(out, r.DynamicSummary(res))
			return runErr
		},
	}
	grid.bind(cmd)
	planner.bind(cmd)
	dyn.bind(cmd)
	return cmd
}
