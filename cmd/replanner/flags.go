package main

import (
	"fmt"
	"math/rand/v2"

	"github.com/signalsfoundry/grid-replanner/core"
	"github.com/signalsfoundry/grid-replanner/internal/gridfile"
	"github.com/signalsfoundry/grid-replanner/model"
	"github.com/spf13/cobra"
)

// gridFlags selects the environment a command runs on: a grid file, or a
// generated open grid with optional random obstacles.
type gridFlags struct {
	path    string
	rows    int
	cols    int
	density float64
	start   string
	goal    string
}

func (f *gridFlags) bind(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVarP(&f.path, "grid", "g", "", "grid file (\"rows cols\" header, then cells 0 free, 1 obstacle, 3 start, 4 goal)")
	fs.IntVar(&f.rows, "rows", 20, "rows of the generated grid when --grid is not set")
	fs.IntVar(&f.cols, "cols", 20, "columns of the generated grid when --grid is not set")
	fs.Float64Var(&f.density, "density", 0.2, "spawn probability used to scatter obstacles on a generated grid")
	fs.StringVar(&f.start, "start", "", "move the start to row,col (must lie on the border)")
	fs.StringVar(&f.goal, "goal", "", "move the goal to row,col (must lie on the border)")
}

func (f *gridFlags) environment(rng *rand.Rand) (*core.GridEnvironment, error) {
	var (
		env *core.GridEnvironment
		err error
	)
	if f.path != "" {
		env, err = gridfile.LoadFile(f.path, rng)
	} else {
		env, err = f.generate(rng)
	}
	if err != nil {
		return nil, err
	}
	if f.goal != "" {
		p, err := parsePosition(f.goal)
		if err != nil {
			return nil, err
		}
		if err := env.SetGoal(p); err != nil {
			return nil, err
		}
	}
	if f.start != "" {
		p, err := parsePosition(f.start)
		if err != nil {
			return nil, err
		}
		if err := env.SetStart(p); err != nil {
			return nil, err
		}
	}
	return env, nil
}

func (f *gridFlags) generate(rng *rand.Rand) (*core.GridEnvironment, error) {
	if f.rows <= 0 || f.cols <= 0 {
		return nil, fmt.Errorf("generated grid needs positive --rows and --cols, got %dx%d", f.rows, f.cols)
	}
	env, err := core.NewOpenGrid(f.rows, f.cols,
		model.Position{Row: 0, Col: 0},
		model.Position{Row: f.rows - 1, Col: f.cols - 1},
		rng,
	)
	if err != nil {
		return nil, err
	}
	if f.density > 0 {
		if err := env.Mutate(f.density, 0); err != nil {
			return nil, err
		}
	}
	return env, nil
}

// plannerFlags override the planner section of the configuration.
type plannerFlags struct {
	heuristic string
	weight    float64
	trace     bool
	seed      uint64
}

func (f *plannerFlags) bind(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVar(&f.heuristic, "heuristic", "", "heuristic: manhattan or euclidean")
	fs.Float64Var(&f.weight, "weight", 0, "heuristic weight")
	fs.BoolVar(&f.trace, "trace", false, "record every expansion of the search")
	fs.Uint64Var(&f.seed, "seed", 0, "random seed (0 seeds from the clock)")
}

// apply copies explicitly set flags onto a's configuration and validates it.
func (f *plannerFlags) apply(cmd *cobra.Command, a *app) error {
	fs := cmd.Flags()
	if fs.Changed("heuristic") {
		a.cfg.Planner.Heuristic = f.heuristic
	}
	if fs.Changed("weight") {
		a.cfg.Planner.Weight = f.weight
	}
	if fs.Changed("trace") {
		a.cfg.Planner.Trace = f.trace
	}
	if fs.Changed("seed") {
		a.cfg.Dynamics.Seed = f.seed
	}
	return a.revalidate()
}
