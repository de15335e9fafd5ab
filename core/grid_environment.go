package core

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/signalsfoundry/grid-replanner/model"
)

var (
	ErrOutOfBounds        = errors.New("position out of bounds")
	ErrNotAdjacent        = errors.New("positions are not adjacent")
	ErrInvalidGrid        = errors.New("invalid grid")
	ErrNotOnBorder        = errors.New("position is not on the grid border")
	ErrProtectedCell      = errors.New("start and goal cells cannot be overwritten")
	ErrInvalidProbability = errors.New("probability must be within [0, 1]")
)

const (
	// OrthogonalCost is the cost of a horizontal or vertical move.
	OrthogonalCost = 5.0
	// DiagonalCost is the cost of a diagonal move.
	DiagonalCost = 7.0
	// MaxObstacleRatio caps the fraction of obstacle cells after a mutation.
	MaxObstacleRatio = 0.25
)

// GridEnvironment owns a dense rows x cols grid of cells with exactly one
// Start and one Goal cell, both on the border. It is not safe for concurrent
// use; callers that share an environment must serialise access.
type GridEnvironment struct {
	rows  int
	cols  int
	cells []model.CellState

	start model.Position
	goal  model.Position

	rng *rand.Rand
}

// NewGridEnvironment validates the cell layout and builds an environment.
// cells is row-major and is copied. rng drives Mutate; when nil a
// time-seeded generator is used, which makes mutation non-reproducible.
func NewGridEnvironment(rows, cols int, cells []model.CellState, rng *rand.Rand) (*GridEnvironment, error) {
	if rows <= 0 || cols <= 0 {
		return nil, fmt.Errorf("%w: dimensions %dx%d", ErrInvalidGrid, rows, cols)
	}
	if len(cells) != rows*cols {
		return nil, fmt.Errorf("%w: got %d cells, want %d", ErrInvalidGrid, len(cells), rows*cols)
	}
	if rng == nil {
		seed := uint64(time.Now().UnixNano())
		rng = rand.New(rand.NewPCG(seed, seed>>1))
	}

	g := &GridEnvironment{
		rows:  rows,
		cols:  cols,
		cells: append([]model.CellState(nil), cells...),
		rng:   rng,
	}

	starts, goals := 0, 0
	for i, c := range g.cells {
		if !c.Valid() {
			return nil, fmt.Errorf("%w: unknown cell value %d at %s", ErrInvalidGrid, uint8(c), g.position(i))
		}
		switch c {
		case model.CellStart:
			starts++
			g.start = g.position(i)
		case model.CellGoal:
			goals++
			g.goal = g.position(i)
		}
	}
	if starts != 1 || goals != 1 {
		return nil, fmt.Errorf("%w: need exactly one start and one goal, found %d and %d", ErrInvalidGrid, starts, goals)
	}
	if !g.IsOnBorder(g.start) {
		return nil, fmt.Errorf("start %s: %w", g.start, ErrNotOnBorder)
	}
	if !g.IsOnBorder(g.goal) {
		return nil, fmt.Errorf("goal %s: %w", g.goal, ErrNotOnBorder)
	}
	return g, nil
}

// NewOpenGrid builds an obstacle-free grid with the given endpoints.
func NewOpenGrid(rows, cols int, start, goal model.Position, rng *rand.Rand) (*GridEnvironment, error) {
	if rows <= 0 || cols <= 0 {
		return nil, fmt.Errorf("%w: dimensions %dx%d", ErrInvalidGrid, rows, cols)
	}
	if start == goal {
		return nil, fmt.Errorf("%w: start and goal coincide at %s", ErrInvalidGrid, start)
	}
	cells := make([]model.CellState, rows*cols)
	for _, p := range []model.Position{start, goal} {
		if p.Row < 0 || p.Row >= rows || p.Col < 0 || p.Col >= cols {
			return nil, fmt.Errorf("%s: %w", p, ErrOutOfBounds)
		}
	}
	cells[start.Row*cols+start.Col] = model.CellStart
	cells[goal.Row*cols+goal.Col] = model.CellGoal
	return NewGridEnvironment(rows, cols, cells, rng)
}

func (g *GridEnvironment) Rows() int             { return g.rows }
func (g *GridEnvironment) Cols() int             { return g.cols }
func (g *GridEnvironment) Start() model.Position { return g.start }
func (g *GridEnvironment) Goal() model.Position  { return g.goal }

// Size is the total number of cells.
func (g *GridEnvironment) Size() int { return len(g.cells) }

// IsValidPosition is a bounds check only.
func (g *GridEnvironment) IsValidPosition(p model.Position) bool {
	return p.Row >= 0 && p.Row < g.rows && p.Col >= 0 && p.Col < g.cols
}

// IsOnBorder reports whether p lies on the first or last row or column.
func (g *GridEnvironment) IsOnBorder(p model.Position) bool {
	if !g.IsValidPosition(p) {
		return false
	}
	return p.Row == 0 || p.Row == g.rows-1 || p.Col == 0 || p.Col == g.cols-1
}

// Cell returns the state at p. Out-of-bounds positions read as obstacles.
func (g *GridEnvironment) Cell(p model.Position) model.CellState {
	if !g.IsValidPosition(p) {
		return model.CellObstacle
	}
	return g.cells[g.index(p)]
}

// IsTraversable is true for in-bounds Free, Start and Goal cells.
func (g *GridEnvironment) IsTraversable(p model.Position) bool {
	return g.IsValidPosition(p) && g.cells[g.index(p)].Traversable()
}

// Neighbors returns the traversable cells adjacent to p in model.Directions
// order.
func (g *GridEnvironment) Neighbors(p model.Position) []model.Position {
	return g.appendNeighbors(make([]model.Position, 0, len(model.Directions)), p)
}

func (g *GridEnvironment) appendNeighbors(dst []model.Position, p model.Position) []model.Position {
	for _, d := range model.Directions {
		n := p.Add(d)
		if g.IsTraversable(n) {
			dst = append(dst, n)
		}
	}
	return dst
}

// MovementCost is OrthogonalCost or DiagonalCost depending on the step
// between two adjacent positions. Cell content is not considered.
func (g *GridEnvironment) MovementCost(from, to model.Position) (float64, error) {
	d, ok := model.Step(from, to)
	if !ok {
		return 0, fmt.Errorf("%s -> %s: %w", from, to, ErrNotAdjacent)
	}
	if d.Diagonal() {
		return DiagonalCost, nil
	}
	return OrthogonalCost, nil
}

// Heuristic estimates the remaining cost from pos to goal.
func (g *GridEnvironment) Heuristic(pos, goal model.Position, h Heuristic) float64 {
	return h.Estimate(pos, goal)
}

// SetCell marks a non-endpoint cell Free or Obstacle.
func (g *GridEnvironment) SetCell(p model.Position, state model.CellState) error {
	if !g.IsValidPosition(p) {
		return fmt.Errorf("%s: %w", p, ErrOutOfBounds)
	}
	if state != model.CellFree && state != model.CellObstacle {
		return fmt.Errorf("%w: SetCell accepts only FREE or OBSTACLE, got %s", ErrInvalidGrid, state)
	}
	if p == g.start || p == g.goal {
		return fmt.Errorf("%s: %w", p, ErrProtectedCell)
	}
	g.cells[g.index(p)] = state
	return nil
}

// SetStart moves the Start cell to p. The previous start becomes Free.
func (g *GridEnvironment) SetStart(p model.Position) error {
	if err := g.checkEndpoint(p, g.goal); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	g.cells[g.index(g.start)] = model.CellFree
	g.start = p
	g.cells[g.index(p)] = model.CellStart
	return nil
}

// SetGoal moves the Goal cell to p. The previous goal becomes Free.
func (g *GridEnvironment) SetGoal(p model.Position) error {
	if err := g.checkEndpoint(p, g.start); err != nil {
		return fmt.Errorf("goal: %w", err)
	}
	g.cells[g.index(g.goal)] = model.CellFree
	g.goal = p
	g.cells[g.index(p)] = model.CellGoal
	return nil
}

func (g *GridEnvironment) checkEndpoint(p, other model.Position) error {
	if !g.IsValidPosition(p) {
		return fmt.Errorf("%s: %w", p, ErrOutOfBounds)
	}
	if !g.IsOnBorder(p) {
		return fmt.Errorf("%s: %w", p, ErrNotOnBorder)
	}
	if p == other {
		return fmt.Errorf("%s: %w", p, ErrProtectedCell)
	}
	return nil
}

// Mutate draws one uniform value per non-endpoint cell: a Free cell becomes an
// Obstacle when the draw is below pSpawn, an Obstacle becomes Free when it is
// below pClear. Afterwards random obstacles are cleared until the obstacle
// ratio is at most MaxObstacleRatio.
func (g *GridEnvironment) Mutate(pSpawn, pClear float64) error {
	if err := checkProbability("spawn", pSpawn); err != nil {
		return err
	}
	if err := checkProbability("clear", pClear); err != nil {
		return err
	}
	for i, c := range g.cells {
		if c == model.CellStart || c == model.CellGoal {
			continue
		}
		draw := g.rng.Float64()
		switch c {
		case model.CellFree:
			if draw < pSpawn {
				g.cells[i] = model.CellObstacle
			}
		case model.CellObstacle:
			if draw < pClear {
				g.cells[i] = model.CellFree
			}
		}
	}
	g.enforceObstacleCap()
	return nil
}

// enforceObstacleCap clears uniformly chosen obstacles until the cap holds.
// Start and Goal are never obstacles, so every obstacle is clearable and the
// loop runs at most once per obstacle.
func (g *GridEnvironment) enforceObstacleCap() {
	var obstacles []int
	for i, c := range g.cells {
		if c == model.CellObstacle {
			obstacles = append(obstacles, i)
		}
	}
	total := float64(len(g.cells))
	for len(obstacles) > 0 && float64(len(obstacles))/total > MaxObstacleRatio {
		k := g.rng.IntN(len(obstacles))
		g.cells[obstacles[k]] = model.CellFree
		last := len(obstacles) - 1
		obstacles[k] = obstacles[last]
		obstacles = obstacles[:last]
	}
}

// ObstacleCount is the number of obstacle cells.
func (g *GridEnvironment) ObstacleCount() int {
	n := 0
	for _, c := range g.cells {
		if c == model.CellObstacle {
			n++
		}
	}
	return n
}

// ObstacleRatio is ObstacleCount over the total cell count.
func (g *GridEnvironment) ObstacleRatio() float64 {
	return float64(g.ObstacleCount()) / float64(len(g.cells))
}

// Cells returns a row-major copy of the grid.
func (g *GridEnvironment) Cells() []model.CellState {
	return append([]model.CellState(nil), g.cells...)
}

// Clone copies the cell layout. The clone shares the random generator so a
// single seeded stream still drives every mutation.
func (g *GridEnvironment) Clone() *GridEnvironment {
	c := *g
	c.cells = g.Cells()
	return &c
}

func (g *GridEnvironment) index(p model.Position) int {
	return p.Row*g.cols + p.Col
}

func (g *GridEnvironment) position(i int) model.Position {
	return model.Position{Row: i / g.cols, Col: i % g.cols}
}

func checkProbability(name string, p float64) error {
	if math.IsNaN(p) || p < 0 || p > 1 {
		return fmt.Errorf("%s probability %v: %w", name, p, ErrInvalidProbability)
	}
	return nil
}
