package core

import (
	"container/heap"
	"context"
	"time"

	"github.com/signalsfoundry/grid-replanner/internal/logging"
	"github.com/signalsfoundry/grid-replanner/model"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/signalsfoundry/grid-replanner/core"

// SearchOutcome classifies how a search ended.
type SearchOutcome string

const (
	SearchFound     SearchOutcome = "found"
	SearchExhausted SearchOutcome = "exhausted"
	SearchInvalid   SearchOutcome = "invalid"
)

// SearchResult is the outcome of one AStarSearch invocation.
type SearchResult struct {
	PathFound      bool             `json:"path_found"`
	Outcome        SearchOutcome    `json:"outcome"`
	Path           []model.Position `json:"path"`
	TotalCost      float64          `json:"total_cost"`
	NodesGenerated int              `json:"nodes_generated"`
	NodesInspected int              `json:"nodes_inspected"`
	Iterations     int              `json:"iterations"`
	Trace          []IterationInfo  `json:"trace,omitempty"`
}

// IterationInfo describes one expansion. It is only recorded when the search
// is built WithTrace.
type IterationInfo struct {
	Iteration int              `json:"iteration"`
	Expanded  model.Position   `json:"expanded"`
	G         float64          `json:"g"`
	H         float64          `json:"h"`
	Generated []model.Position `json:"generated,omitempty"`
	Reopened  []model.Position `json:"reopened,omitempty"`
}

// SearchRecorder receives the result of every search.
type SearchRecorder interface {
	ObserveSearch(result SearchResult, elapsed time.Duration)
}

// SearchOption customises AStarSearch construction.
type SearchOption func(*AStarSearch)

// WithHeuristic selects the heuristic; the default is DefaultHeuristic.
func WithHeuristic(h Heuristic) SearchOption {
	return func(s *AStarSearch) { s.heuristic = h }
}

// WithSearchLogger attaches a logger for per-search debug output.
func WithSearchLogger(l logging.Logger) SearchOption {
	return func(s *AStarSearch) { s.log = logging.OrNoop(l) }
}

// WithSearchRecorder attaches a metrics recorder.
func WithSearchRecorder(r SearchRecorder) SearchOption {
	return func(s *AStarSearch) { s.recorder = r }
}

// WithTrace records an IterationInfo for every expansion.
func WithTrace() SearchOption {
	return func(s *AStarSearch) { s.trace = true }
}

// AStarSearch runs best-first searches over a GridEnvironment. Frontier and
// closed-set storage is reused between invocations but reset at the start of
// each one. An AStarSearch must not be used from several goroutines at once.
type AStarSearch struct {
	env       *GridEnvironment
	heuristic Heuristic
	log       logging.Logger
	recorder  SearchRecorder
	trace     bool
	tracer    trace.Tracer

	arena     nodeArena
	closed    []bool
	open      frontier
	seq       uint64
	neighbors []model.Position
}

// NewAStarSearch builds a search bound to env.
func NewAStarSearch(env *GridEnvironment, opts ...SearchOption) *AStarSearch {
	s := &AStarSearch{
		env:       env,
		heuristic: DefaultHeuristic(),
		log:       logging.Noop(),
		tracer:    otel.Tracer(tracerName),
		neighbors: make([]model.Position, 0, len(model.Directions)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Heuristic returns the heuristic in use.
func (s *AStarSearch) Heuristic() Heuristic { return s.heuristic }

// Search finds a minimum-cost path from start to goal on the environment as
// it is right now. Invalid endpoints and unreachable goals both yield a
// result with PathFound false; neither is an error.
func (s *AStarSearch) Search(ctx context.Context, start, goal model.Position) SearchResult {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, span := s.tracer.Start(ctx, "astar.Search", trace.WithAttributes(
		attribute.String("start", start.String()),
		attribute.String("goal", goal.String()),
		attribute.String("heuristic", s.heuristic.String()),
	))
	defer span.End()

	began := time.Now()
	result := s.run(start, goal)
	elapsed := time.Since(began)

	span.SetAttributes(
		attribute.Bool("path_found", result.PathFound),
		attribute.Int("nodes_generated", result.NodesGenerated),
		attribute.Int("nodes_inspected", result.NodesInspected),
		attribute.Float64("total_cost", result.TotalCost),
	)
	if s.recorder != nil {
		s.recorder.ObserveSearch(result, elapsed)
	}
	s.log.Debug(ctx, "astar search finished",
		logging.String("start", start.String()),
		logging.String("goal", goal.String()),
		logging.String("outcome", string(result.Outcome)),
		logging.Float("cost", result.TotalCost),
		logging.Int("generated", result.NodesGenerated),
		logging.Int("inspected", result.NodesInspected),
		logging.Int("iterations", result.Iterations),
		logging.Duration("elapsed", elapsed),
	)
	return result
}

func (s *AStarSearch) reset() {
	cells := s.env.Size()
	s.arena.reset(cells)
	if cap(s.closed) < cells {
		s.closed = make([]bool, cells)
	}
	s.closed = s.closed[:cells]
	clear(s.closed)
	s.open = s.open[:0]
	s.seq = 0
}

func (s *AStarSearch) push(id NodeID) {
	n := s.arena.node(id)
	heap.Push(&s.open, frontierEntry{node: id, g: n.G, f: n.F(), h: n.H, seq: s.seq})
	s.seq++
}

func (s *AStarSearch) run(start, goal model.Position) SearchResult {
	s.reset()
	result := SearchResult{Outcome: SearchExhausted, Path: []model.Position{}}

	if !s.env.IsTraversable(start) || !s.env.IsTraversable(goal) {
		result.Outcome = SearchInvalid
		return result
	}

	root := s.arena.add(s.env.index(start), SearchNode{
		Position: start,
		H:        s.heuristic.Estimate(start, goal),
		Parent:   NoNode,
	})
	s.push(root)
	result.NodesGenerated++

	for s.open.Len() > 0 {
		entry := heap.Pop(&s.open).(frontierEntry)
		result.Iterations++

		current := *s.arena.node(entry.node)
		cell := s.env.index(current.Position)
		if s.closed[cell] || entry.g != current.G {
			continue
		}
		s.closed[cell] = true
		result.NodesInspected++

		var info *IterationInfo
		if s.trace {
			result.Trace = append(result.Trace, IterationInfo{
				Iteration: result.Iterations,
				Expanded:  current.Position,
				G:         current.G,
				H:         current.H,
			})
			info = &result.Trace[len(result.Trace)-1]
		}

		if current.Position == goal {
			result.PathFound = true
			result.Outcome = SearchFound
			result.Path = s.arena.lineage(entry.node)
			result.TotalCost = current.G
			return result
		}

		s.neighbors = s.env.appendNeighbors(s.neighbors[:0], current.Position)
		for _, next := range s.neighbors {
			nextCell := s.env.index(next)
			if s.closed[nextCell] {
				continue
			}
			step, err := s.env.MovementCost(current.Position, next)
			if err != nil {
				continue
			}
			g := current.G + step

			id := s.arena.lookup(nextCell)
			if id == NoNode {
				id = s.arena.add(nextCell, SearchNode{
					Position: next,
					G:        g,
					H:        s.heuristic.Estimate(next, goal),
					Parent:   entry.node,
				})
				s.push(id)
				result.NodesGenerated++
				if info != nil {
					info.Generated = append(info.Generated, next)
				}
				continue
			}

			existing := s.arena.node(id)
			if g < existing.G {
				existing.G = g
				existing.Parent = entry.node
				s.push(id)
				if info != nil {
					info.Reopened = append(info.Reopened, next)
				}
			}
		}
	}
	return result
}
