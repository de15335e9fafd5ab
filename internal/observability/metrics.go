package observability

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/signalsfoundry/grid-replanner/core"
)

// PlannerCollector bundles Prometheus metrics for searches and dynamic runs.
// It satisfies core.SearchRecorder and core.ReplanRecorder.
type PlannerCollector struct {
	gatherer prometheus.Gatherer

	Searches       *prometheus.CounterVec
	SearchDuration prometheus.Histogram
	NodesGenerated prometheus.Histogram
	NodesInspected prometheus.Histogram

	Runs             *prometheus.CounterVec
	Steps            prometheus.Counter
	PlanningFailures prometheus.Counter
	ObstacleRatio    prometheus.Gauge
}

var (
	_ core.SearchRecorder = (*PlannerCollector)(nil)
	_ core.ReplanRecorder = (*PlannerCollector)(nil)
)

// nodeBuckets spans single-cell searches up to grids of a few hundred
// thousand cells.
var nodeBuckets = prometheus.ExponentialBuckets(1, 4, 10)

// NewPlannerCollector registers planner metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
// Registering twice against the same registry reuses the existing collectors.
func NewPlannerCollector(reg prometheus.Registerer) (*PlannerCollector, error) {
	reg, gatherer := resolveRegistry(reg)

	searches, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "planner_searches_total",
		Help: "Total number of A* searches, labeled by outcome (found, exhausted, invalid).",
	}, []string{"outcome"}), "planner_searches_total")
	if err != nil {
		return nil, err
	}
	duration, err := register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "planner_search_duration_seconds",
		Help:    "Wall-clock duration of a single A* search.",
		Buckets: []float64{0.00001, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	}), "planner_search_duration_seconds")
	if err != nil {
		return nil, err
	}
	generated, err := register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "planner_search_nodes_generated",
		Help:    "Distinct cells given a search node per search.",
		Buckets: nodeBuckets,
	}), "planner_search_nodes_generated")
	if err != nil {
		return nil, err
	}
	inspected, err := register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "planner_search_nodes_inspected",
		Help:    "Cells expanded per search.",
		Buckets: nodeBuckets,
	}), "planner_search_nodes_inspected")
	if err != nil {
		return nil, err
	}
	runs, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "planner_runs_total",
		Help: "Total number of finished dynamic runs, labeled by outcome.",
	}, []string{"outcome"}), "planner_runs_total")
	if err != nil {
		return nil, err
	}
	steps, err := register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "planner_steps_total",
		Help: "Steps committed by dynamic runs.",
	}), "planner_steps_total")
	if err != nil {
		return nil, err
	}
	failures, err := register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "planner_planning_failures_total",
		Help: "Replanning cycles in which no path was found.",
	}), "planner_planning_failures_total")
	if err != nil {
		return nil, err
	}
	ratio, err := register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "planner_obstacle_ratio",
		Help: "Obstacle ratio observed at the start of the most recent replanning cycle.",
	}), "planner_obstacle_ratio")
	if err != nil {
		return nil, err
	}

	return &PlannerCollector{
		gatherer:         gatherer,
		Searches:         searches,
		SearchDuration:   duration,
		NodesGenerated:   generated,
		NodesInspected:   inspected,
		Runs:             runs,
		Steps:            steps,
		PlanningFailures: failures,
		ObstacleRatio:    ratio,
	}, nil
}

// ObserveSearch implements core.SearchRecorder.
func (c *PlannerCollector) ObserveSearch(result core.SearchResult, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.Searches.WithLabelValues(string(result.Outcome)).Inc()
	c.SearchDuration.Observe(elapsed.Seconds())
	if result.Outcome == core.SearchInvalid {
		return
	}
	c.NodesGenerated.Observe(float64(result.NodesGenerated))
	c.NodesInspected.Observe(float64(result.NodesInspected))
}

// ObserveCycle implements core.ReplanRecorder.
func (c *PlannerCollector) ObserveCycle(report core.CycleReport) {
	if c == nil {
		return
	}
	c.ObstacleRatio.Set(report.ObstacleRatio)
	if report.Stepped {
		c.Steps.Inc()
	}
	if !report.Search.PathFound {
		c.PlanningFailures.Inc()
	}
}

// ObserveRun implements core.ReplanRecorder.
func (c *PlannerCollector) ObserveRun(result core.DynamicResult) {
	if c == nil {
		return
	}
	c.Runs.WithLabelValues(string(result.Outcome)).Inc()
}

// Handler exposes a ready-to-use /metrics handler.
func (c *PlannerCollector) Handler() http.Handler {
	return handlerFor(c.gatherer)
}

func handlerFor(gatherer prometheus.Gatherer) http.Handler {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func resolveRegistry(reg prometheus.Registerer) (prometheus.Registerer, prometheus.Gatherer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}
	return reg, gatherer
}

// register adds c to reg. When an identical collector is already registered
// the existing one is returned so that collectors can be built repeatedly
// against a shared registry.
func register[T prometheus.Collector](reg prometheus.Registerer, c T, name string) (T, error) {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
			var zero T
			return zero, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		var zero T
		return zero, err
	}
	return c, nil
}
