package main

import (
	"encoding/json"
	"fmt"

	"github.com/signalsfoundry/grid-replanner/core"
	"github.com/signalsfoundry/grid-replanner/internal/logging"
	"github.com/signalsfoundry/grid-replanner/internal/report"
	"github.com/spf13/cobra"
)

func newSearchCmd(a *app) *cobra.Command {
	var (
		grid    gridFlags
		planner plannerFlags
		asJSON  bool
		noMap   bool
	)
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Run a single A* search on a static grid",
		Example: `  replanner search --grid maps/warehouse.txt
  replanner search --rows 30 --cols 40 --density 0.25 --heuristic euclidean --seed 7`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := planner.apply(cmd, a); err != nil {
				return err
			}
			opts, err := a.cfg.SearchOptions()
			if err != nil {
				return err
			}
			env, err := grid.environment(a.cfg.Rand())
			if err != nil {
				return err
			}

			ctx, log := logging.WithRunLogger(cmd.Context(), a.log)
			opts = append(opts, core.WithSearchLogger(log))
			search := core.NewAStarSearch(env, opts...)
			res := search.Search(ctx, env.Start(), env.Goal())
			log.Info(ctx, "search finished",
				logging.String("outcome", string(res.Outcome)),
				logging.String("heuristic", search.Heuristic().String()),
				logging.Float("cost", res.TotalCost),
				logging.Int("nodes_inspected", res.NodesInspected),
			)

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}
			r := report.NewRenderer(out)
			if !noMap {
				fmt.Fprintln(out, r.Grid(env, report.Overlay{Path: res.Path}))
			}
			fmt.Fprint(out, r.SearchSummary(res))
			for _, it := range res.Trace {
				fmt.Fprintf(out, "  #%-4d expand %-9s g=%-6g h=%-6g generated=%s\n",
					it.Iteration, it.Expanded, it.G, it.H, report.FormatPath(it.Generated))
			}
			return nil
		},
	}
	grid.bind(cmd)
	planner.bind(cmd)
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")
	cmd.Flags().BoolVar(&noMap, "no-map", false, "omit the rendered map")
	return cmd
}
