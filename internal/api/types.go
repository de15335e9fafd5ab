package api

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/signalsfoundry/grid-replanner/core"
	"github.com/signalsfoundry/grid-replanner/internal/gridfile"
	"github.com/signalsfoundry/grid-replanner/kb"
	"github.com/signalsfoundry/grid-replanner/model"
)

var ErrGridTooLarge = errors.New("grid exceeds the configured cell limit")

// GridPayload carries a grid either as text in the grid file format or as
// dimensions plus row-major cell codes.
type GridPayload struct {
	Text  string `json:"text,omitempty"`
	Rows  int    `json:"rows,omitempty" binding:"gte=0"`
	Cols  int    `json:"cols,omitempty" binding:"gte=0"`
	Cells []int  `json:"cells,omitempty"`
}

func (g GridPayload) layout(maxCells int) (gridfile.Layout, error) {
	if strings.TrimSpace(g.Text) != "" {
		l, err := gridfile.DecodeLayoutLimit(strings.NewReader(g.Text), maxCells)
		if errors.Is(err, gridfile.ErrTooLarge) {
			return gridfile.Layout{}, fmt.Errorf("%w: %w", ErrGridTooLarge, err)
		}
		return l, err
	}
	if g.Rows <= 0 || g.Cols <= 0 {
		return gridfile.Layout{}, fmt.Errorf("%w: grid needs text or positive rows and cols", gridfile.ErrMalformed)
	}
	if maxCells > 0 && g.Rows > maxCells/g.Cols {
		return gridfile.Layout{}, fmt.Errorf("%w: %dx%d > %d cells", ErrGridTooLarge, g.Rows, g.Cols, maxCells)
	}
	if len(g.Cells) != g.Rows*g.Cols {
		return gridfile.Layout{}, fmt.Errorf("%w: got %d cells, want %d", gridfile.ErrMalformed, len(g.Cells), g.Rows*g.Cols)
	}
	cells := make([]model.CellState, len(g.Cells))
	for i, v := range g.Cells {
		c := model.CellState(v)
		if v < 0 || v > 255 || !c.Valid() {
			return gridfile.Layout{}, fmt.Errorf("%w: cell %d has unknown code %d", gridfile.ErrMalformed, i, v)
		}
		cells[i] = c
	}
	return gridfile.Layout{Rows: g.Rows, Cols: g.Cols, Cells: cells}, nil
}

func (g GridPayload) environment(maxCells int, rng *rand.Rand) (*core.GridEnvironment, error) {
	l, err := g.layout(maxCells)
	if err != nil {
		return nil, err
	}
	return l.Environment(rng)
}

// PlannerParams override the configured heuristic.
type PlannerParams struct {
	Heuristic string   `json:"heuristic,omitempty" binding:"omitempty,oneof=manhattan euclidean"`
	Weight    *float64 `json:"weight,omitempty" binding:"omitempty,gt=0"`
	Trace     bool     `json:"trace,omitempty"`
}

// DynamicsParams override the configured replanning dynamics.
type DynamicsParams struct {
	SpawnProbability       *float64 `json:"spawn_probability,omitempty" binding:"omitempty,gte=0,lte=1"`
	ClearProbability       *float64 `json:"clear_probability,omitempty" binding:"omitempty,gte=0,lte=1"`
	MaxConsecutiveFailures *int     `json:"max_consecutive_failures,omitempty" binding:"omitempty,gte=1"`
	MaxCycles              *int     `json:"max_cycles,omitempty" binding:"omitempty,gte=0"`
	Seed                   *uint64  `json:"seed,omitempty"`
}

// SearchRequest is the body of POST /v1/search and /v1/grids/:id/search.
// Start and Goal default to the grid's own endpoints.
type SearchRequest struct {
	Grid  *GridPayload    `json:"grid,omitempty"`
	Start *model.Position `json:"start,omitempty"`
	Goal  *model.Position `json:"goal,omitempty"`
	PlannerParams
	Render bool `json:"render,omitempty"`
}

// DynamicRequest is the body of POST /v1/dynamic and /v1/grids/:id/dynamic.
type DynamicRequest struct {
	Grid  *GridPayload    `json:"grid,omitempty"`
	Start *model.Position `json:"start,omitempty"`
	Goal  *model.Position `json:"goal,omitempty"`
	PlannerParams
	DynamicsParams
	IncludeSearches bool `json:"include_searches,omitempty"`
	Render          bool `json:"render,omitempty"`
}

// CreateGridRequest is the body of POST /v1/grids.
type CreateGridRequest struct {
	Name string      `json:"name" binding:"max=128"`
	Grid GridPayload `json:"grid"`
	Seed *uint64     `json:"seed,omitempty"`
}

// SearchResponse wraps a single search result.
type SearchResponse struct {
	RunID     string            `json:"run_id"`
	GridID    string            `json:"grid_id,omitempty"`
	Heuristic string            `json:"heuristic"`
	Result    core.SearchResult `json:"result"`
	Map       string            `json:"map,omitempty"`
}

// DynamicResponse wraps a dynamic run.
type DynamicResponse struct {
	RunID             string             `json:"run_id"`
	GridID            string             `json:"grid_id,omitempty"`
	Result            core.DynamicResult `json:"result"`
	MeanObstacleRatio float64            `json:"mean_obstacle_ratio"`
	NodesGenerated    int                `json:"nodes_generated"`
	NodesInspected    int                `json:"nodes_inspected"`
	FinalGrid         string             `json:"final_grid"`
	Map               string             `json:"map,omitempty"`
}

// GridResponse describes a stored grid.
type GridResponse struct {
	kb.GridInfo
	Text string `json:"text,omitempty"`
}

// ErrorResponse is returned with every non-2xx status.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}
