package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/signalsfoundry/grid-replanner/internal/logging"
	"github.com/signalsfoundry/grid-replanner/model"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var ErrInvalidConfig = errors.New("invalid replanner config")

// DefaultMaxConsecutiveFailures is the planning-failure cap used when none is
// configured.
const DefaultMaxConsecutiveFailures = 5

// RunOutcome is the terminal state of a dynamic run.
type RunOutcome string

const (
	OutcomeRunning    RunOutcome = "running"
	OutcomeSuccess    RunOutcome = "success"
	OutcomeAbandoned  RunOutcome = "abandoned"
	OutcomeCycleLimit RunOutcome = "cycle_limit"
	OutcomeCancelled  RunOutcome = "cancelled"
)

// ReplannerConfig tunes the environment dynamics and the failure policy.
type ReplannerConfig struct {
	// SpawnProbability is the chance a Free cell turns into an Obstacle on
	// each mutation.
	SpawnProbability float64
	// ClearProbability is the chance an Obstacle turns Free on each mutation.
	ClearProbability float64
	// MaxConsecutiveFailures abandons the run once this many plans in a row
	// find no path.
	MaxConsecutiveFailures int
	// MaxCycles bounds the total number of planning cycles; 0 is unbounded.
	MaxCycles int
}

// DefaultReplannerConfig mirrors the reference dynamics: 10% spawn, 10%
// clear, five consecutive failures, no cycle bound.
func DefaultReplannerConfig() ReplannerConfig {
	return ReplannerConfig{
		SpawnProbability:       0.1,
		ClearProbability:       0.1,
		MaxConsecutiveFailures: DefaultMaxConsecutiveFailures,
	}
}

// Validate checks probabilities and bounds.
func (c ReplannerConfig) Validate() error {
	if err := checkProbability("spawn", c.SpawnProbability); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := checkProbability("clear", c.ClearProbability); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if c.MaxConsecutiveFailures < 1 {
		return fmt.Errorf("%w: max consecutive failures must be >= 1, got %d", ErrInvalidConfig, c.MaxConsecutiveFailures)
	}
	if c.MaxCycles < 0 {
		return fmt.Errorf("%w: max cycles must be >= 0, got %d", ErrInvalidConfig, c.MaxCycles)
	}
	return nil
}

// DynamicResult summarises a dynamic run.
type DynamicResult struct {
	Success             bool             `json:"success"`
	Outcome             RunOutcome       `json:"outcome"`
	CompletePath        []model.Position `json:"complete_path"`
	TotalCost           float64          `json:"total_cost"`
	StepCount           int              `json:"step_count"`
	ConsecutiveFailures int              `json:"consecutive_failures"`
	TotalFailures       int              `json:"total_failures"`
	Cycles              int              `json:"cycles"`
	Searches            []SearchResult   `json:"searches,omitempty"`
	ObstacleRatios      []float64        `json:"obstacle_ratios"`
}

// MeanObstacleRatio averages the ratios sampled before each plan.
func (r DynamicResult) MeanObstacleRatio() float64 {
	if len(r.ObstacleRatios) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range r.ObstacleRatios {
		sum += v
	}
	return sum / float64(len(r.ObstacleRatios))
}

// TotalNodesGenerated sums NodesGenerated over every search of the run.
func (r DynamicResult) TotalNodesGenerated() int {
	n := 0
	for _, s := range r.Searches {
		n += s.NodesGenerated
	}
	return n
}

// TotalNodesInspected sums NodesInspected over every search of the run.
func (r DynamicResult) TotalNodesInspected() int {
	n := 0
	for _, s := range r.Searches {
		n += s.NodesInspected
	}
	return n
}

// CycleReport describes one Plan -> Step -> Mutate cycle.
type CycleReport struct {
	Cycle               int
	Position            model.Position // agent position after the step
	ObstacleRatio       float64        // sampled before planning
	Search              SearchResult
	Stepped             bool
	StepCost            float64
	ConsecutiveFailures int
	Outcome             RunOutcome
}

// CycleListener is invoked after every cycle, before the environment mutates.
type CycleListener func(CycleReport)

// ReplanRecorder receives per-cycle and per-run observations.
type ReplanRecorder interface {
	ObserveCycle(report CycleReport)
	ObserveRun(result DynamicResult)
}

// ReplannerOption customises DynamicReplanner construction.
type ReplannerOption func(*DynamicReplanner)

// WithReplannerLogger attaches a logger.
func WithReplannerLogger(l logging.Logger) ReplannerOption {
	return func(r *DynamicReplanner) { r.log = logging.OrNoop(l) }
}

// WithReplanRecorder attaches a metrics recorder.
func WithReplanRecorder(rec ReplanRecorder) ReplannerOption {
	return func(r *DynamicReplanner) { r.recorder = rec }
}

// WithSearchOptions forwards options to the underlying AStarSearch.
func WithSearchOptions(opts ...SearchOption) ReplannerOption {
	return func(r *DynamicReplanner) { r.searchOpts = append(r.searchOpts, opts...) }
}

// WithCycleListener registers a callback run after every cycle.
func WithCycleListener(fn CycleListener) ReplannerOption {
	return func(r *DynamicReplanner) {
		if fn != nil {
			r.listeners = append(r.listeners, fn)
		}
	}
}

// WithReplannerTracerProvider sets the provider for run and cycle spans.
// The global provider is used otherwise.
func WithReplannerTracerProvider(tp trace.TracerProvider) ReplannerOption {
	return func(r *DynamicReplanner) {
		if tp != nil {
			r.tracer = tp.Tracer(tracerName)
		}
	}
}

// DynamicReplanner drives an agent toward the goal through a mutating
// environment, trusting only the first step of every plan.
type DynamicReplanner struct {
	env        *GridEnvironment
	search     *AStarSearch
	searchOpts []SearchOption
	cfg        ReplannerConfig
	log        logging.Logger
	recorder   ReplanRecorder
	listeners  []CycleListener
	tracer     trace.Tracer
}

// NewDynamicReplanner validates cfg and binds a replanner to env.
func NewDynamicReplanner(env *GridEnvironment, cfg ReplannerConfig, opts ...ReplannerOption) (*DynamicReplanner, error) {
	if env == nil {
		return nil, fmt.Errorf("%w: nil environment", ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	r := &DynamicReplanner{
		env:    env,
		cfg:    cfg,
		log:    logging.Noop(),
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(r)
	}
	searchOpts := append([]SearchOption{WithSearchLogger(r.log)}, r.searchOpts...)
	r.search = NewAStarSearch(env, searchOpts...)
	return r, nil
}

// Config returns the replanner configuration.
func (r *DynamicReplanner) Config() ReplannerConfig { return r.cfg }

// ExecuteDynamic runs cycles until the agent reaches goal, the failure cap is
// hit, the optional cycle bound is reached or ctx is cancelled. Cancellation
// returns the partial result together with ctx.Err().
func (r *DynamicReplanner) ExecuteDynamic(ctx context.Context, start, goal model.Position) (DynamicResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	run := r.Begin(start, goal)
	for !run.Cycle(ctx) {
	}
	res := run.Result()
	if res.Outcome == OutcomeCancelled {
		return res, ctx.Err()
	}
	return res, nil
}

// Begin prepares a run that the caller advances one cycle at a time.
func (r *DynamicReplanner) Begin(start, goal model.Position) *ReplanRun {
	return &ReplanRun{
		r:       r,
		start:   start,
		current: start,
		goal:    goal,
		result: DynamicResult{
			Outcome:      OutcomeRunning,
			CompletePath: []model.Position{start},
		},
	}
}

// ReplanRun holds the running state of one dynamic run. It is discarded when
// the run terminates.
//
// The first Cycle opens a "replanner.ExecuteDynamic" span under its context;
// every cycle adds a "replanner.Cycle" child and the span ends with the run.
type ReplanRun struct {
	r        *DynamicReplanner
	start    model.Position
	current  model.Position
	goal     model.Position
	failures int
	result   DynamicResult
	done     bool
	span     trace.Span
}

// Position is the agent's current cell.
func (run *ReplanRun) Position() model.Position { return run.current }

// Done reports whether the run reached a terminal state.
func (run *ReplanRun) Done() bool { return run.done }

// Result returns a snapshot of the run so far.
func (run *ReplanRun) Result() DynamicResult {
	res := run.result
	res.ConsecutiveFailures = run.failures
	return res
}

// Cycle performs one Plan -> Step -> Mutate iteration and reports whether the
// run is finished.
func (run *ReplanRun) Cycle(ctx context.Context) bool {
	if run.done {
		return true
	}
	r := run.r
	if ctx == nil {
		ctx = context.Background()
	}
	if run.span == nil {
		_, run.span = r.tracer.Start(ctx, "replanner.ExecuteDynamic", trace.WithAttributes(
			attribute.String("start", run.start.String()),
			attribute.String("goal", run.goal.String()),
		))
	}
	ctx = trace.ContextWithSpan(ctx, run.span)
	if ctx.Err() != nil {
		return run.finish(ctx, OutcomeCancelled)
	}
	if run.current == run.goal {
		return run.finish(ctx, OutcomeSuccess)
	}
	if r.cfg.MaxCycles > 0 && run.result.Cycles >= r.cfg.MaxCycles {
		return run.finish(ctx, OutcomeCycleLimit)
	}

	run.result.Cycles++
	ctx, span := r.tracer.Start(ctx, "replanner.Cycle", trace.WithAttributes(
		attribute.Int("cycle", run.result.Cycles),
		attribute.String("position", run.current.String()),
	))
	defer span.End()
	ratio := r.env.ObstacleRatio()
	run.result.ObstacleRatios = append(run.result.ObstacleRatios, ratio)

	plan := r.search.Search(ctx, run.current, run.goal)
	run.result.Searches = append(run.result.Searches, plan)

	report := CycleReport{
		Cycle:         run.result.Cycles,
		ObstacleRatio: ratio,
		Search:        plan,
		Outcome:       OutcomeRunning,
	}

	if !plan.PathFound {
		run.failures++
		run.result.TotalFailures++
		report.Position = run.current
		report.ConsecutiveFailures = run.failures
		r.log.Debug(ctx, "no path found; replanning",
			logging.Int("cycle", report.Cycle),
			logging.String("position", run.current.String()),
			logging.Int("consecutive_failures", run.failures),
		)
		if run.failures >= r.cfg.MaxConsecutiveFailures {
			report.Outcome = OutcomeAbandoned
			r.notify(report)
			return run.finish(ctx, OutcomeAbandoned)
		}
		r.notify(report)
		r.mutate(ctx)
		return false
	}

	run.failures = 0
	if len(plan.Path) >= 2 {
		next := plan.Path[1]
		cost, err := r.env.MovementCost(run.current, next)
		if err != nil {
			r.log.Error(ctx, "planned step is not adjacent", logging.Err(err))
		} else {
			run.current = next
			run.result.CompletePath = append(run.result.CompletePath, next)
			run.result.TotalCost += cost
			run.result.StepCount++
			report.Stepped = true
			report.StepCost = cost
		}
	}
	report.Position = run.current
	r.log.Debug(ctx, "replanning cycle",
		logging.Int("cycle", report.Cycle),
		logging.String("position", run.current.String()),
		logging.Float("plan_cost", plan.TotalCost),
		logging.Int("plan_length", len(plan.Path)),
		logging.Float("obstacle_ratio", ratio),
	)

	if run.current == run.goal {
		report.Outcome = OutcomeSuccess
		r.notify(report)
		return run.finish(ctx, OutcomeSuccess)
	}
	r.notify(report)
	r.mutate(ctx)
	return false
}

func (run *ReplanRun) finish(ctx context.Context, outcome RunOutcome) bool {
	run.done = true
	run.result.Outcome = outcome
	run.result.Success = outcome == OutcomeSuccess
	run.result.ConsecutiveFailures = run.failures

	r := run.r
	if run.span != nil {
		run.span.SetAttributes(
			attribute.String("outcome", string(outcome)),
			attribute.Int("steps", run.result.StepCount),
			attribute.Int("cycles", run.result.Cycles),
		)
		if outcome == OutcomeCancelled {
			run.span.SetStatus(codes.Error, "cancelled")
		}
		run.span.End()
	}
	if r.recorder != nil {
		r.recorder.ObserveRun(run.result)
	}
	r.log.Info(ctx, "dynamic run finished",
		logging.String("outcome", string(outcome)),
		logging.Int("steps", run.result.StepCount),
		logging.Int("cycles", run.result.Cycles),
		logging.Float("cost", run.result.TotalCost),
		logging.Int("consecutive_failures", run.failures),
		logging.Int("total_failures", run.result.TotalFailures),
	)
	return true
}

func (r *DynamicReplanner) notify(report CycleReport) {
	if r.recorder != nil {
		r.recorder.ObserveCycle(report)
	}
	for _, fn := range r.listeners {
		fn(report)
	}
}

func (r *DynamicReplanner) mutate(ctx context.Context) {
	if err := r.env.Mutate(r.cfg.SpawnProbability, r.cfg.ClearProbability); err != nil {
		r.log.Error(ctx, "environment mutation failed", logging.Err(err))
	}
}
