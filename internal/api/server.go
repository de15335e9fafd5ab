// Package api serves the planner over HTTP/JSON.
package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/signalsfoundry/grid-replanner/core"
	"github.com/signalsfoundry/grid-replanner/internal/config"
	"github.com/signalsfoundry/grid-replanner/internal/gridfile"
	"github.com/signalsfoundry/grid-replanner/internal/logging"
	"github.com/signalsfoundry/grid-replanner/internal/observability"
	"github.com/signalsfoundry/grid-replanner/kb"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// Server wires the planner, the grid store and metrics into a gin engine.
type Server struct {
	cfg     config.Config
	store   *kb.GridStore
	log     logging.Logger
	planner *observability.PlannerCollector
	httpM   *observability.HTTPCollector
	metrics http.Handler

	engine *gin.Engine
	unsub  func()
}

// Option customises a Server.
type Option func(*Server)

// WithLogger sets the request logger.
func WithLogger(l logging.Logger) Option {
	return func(s *Server) { s.log = logging.OrNoop(l) }
}

// WithStore shares an existing grid store.
func WithStore(store *kb.GridStore) Option {
	return func(s *Server) {
		if store != nil {
			s.store = store
		}
	}
}

// WithPlannerMetrics records every search and run.
func WithPlannerMetrics(c *observability.PlannerCollector) Option {
	return func(s *Server) { s.planner = c }
}

// WithHTTPMetrics instruments every route.
func WithHTTPMetrics(c *observability.HTTPCollector) Option {
	return func(s *Server) { s.httpM = c }
}

// WithMetricsHandler mounts h at the configured metrics path.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// NewServer builds the router. Call Close to release the store subscription.
func NewServer(cfg config.Config, opts ...Option) *Server {
	s := &Server{
		cfg:   cfg,
		store: kb.NewGridStore(),
		log:   logging.Noop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.unsub = s.store.Subscribe(func(ev kb.Event) {
		s.log.Debug(context.Background(), "grid store event",
			logging.String("event", ev.Type.String()),
			logging.String("grid_id", ev.Grid.ID),
			logging.String("name", ev.Grid.Name),
			logging.Float("obstacle_ratio", ev.Grid.ObstacleRatio),
		)
	})

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(otelgin.Middleware(cfg.Tracing.ServiceName))
	if s.httpM != nil {
		engine.Use(s.httpM.Middleware())
	}
	engine.Use(s.requestLogger())
	s.engine = engine
	s.routes()
	return s
}

// Handler exposes the router.
func (s *Server) Handler() http.Handler { return s.engine }

// Store exposes the grid store backing the /v1/grids routes.
func (s *Server) Store() *kb.GridStore { return s.store }

// Close detaches the server from its store.
func (s *Server) Close() {
	if s.unsub != nil {
		s.unsub()
	}
}

func (s *Server) routes() {
	s.engine.GET("/healthz", s.handleHealth)
	if s.metrics != nil {
		path := s.cfg.Server.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		s.engine.GET(path, gin.WrapH(s.metrics))
	}

	v1 := s.engine.Group("/v1")
	v1.POST("/search", s.handleSearch)
	v1.POST("/dynamic", s.handleDynamic)

	grids := v1.Group("/grids")
	grids.POST("", s.handleCreateGrid)
	grids.GET("", s.handleListGrids)
	grids.GET("/:id", s.handleGetGrid)
	grids.DELETE("/:id", s.handleDeleteGrid)
	grids.POST("/:id/search", s.handleGridSearch)
	grids.POST("/:id/dynamic", s.handleGridDynamic)
}

// requestLogger attaches a run-scoped logger to every request. A client
// supplied X-Request-ID becomes the run ID.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		if id := c.GetHeader("X-Request-ID"); id != "" {
			ctx = logging.ContextWithRunID(ctx, id)
		}
		ctx, log := logging.WithRunLogger(ctx, s.log)
		c.Request = c.Request.WithContext(ctx)
		c.Header("X-Request-ID", logging.RunIDFromContext(ctx))

		c.Next()

		log.Debug(ctx, "request served",
			logging.String("method", c.Request.Method),
			logging.String("route", c.FullPath()),
			logging.Int("status", c.Writer.Status()),
		)
	}
}

func (s *Server) fail(c *gin.Context, err error) {
	status, code := classify(err)
	log := logging.FromContext(c.Request.Context(), s.log)
	if status >= http.StatusInternalServerError {
		log.Error(c.Request.Context(), "request failed", logging.String("code", code), logging.Err(err))
	} else {
		log.Warn(c.Request.Context(), "request rejected", logging.String("code", code), logging.Err(err))
	}
	c.AbortWithStatusJSON(status, ErrorResponse{Error: err.Error(), Code: code})
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, kb.ErrGridNotFound):
		return http.StatusNotFound, "GRID_NOT_FOUND"
	case errors.Is(err, kb.ErrGridExists):
		return http.StatusConflict, "GRID_EXISTS"
	case errors.Is(err, ErrGridTooLarge):
		return http.StatusRequestEntityTooLarge, "GRID_TOO_LARGE"
	case errors.Is(err, gridfile.ErrMalformed),
		errors.Is(err, core.ErrInvalidGrid),
		errors.Is(err, core.ErrNotOnBorder),
		errors.Is(err, core.ErrOutOfBounds),
		errors.Is(err, core.ErrProtectedCell):
		return http.StatusBadRequest, "INVALID_GRID"
	case errors.Is(err, core.ErrInvalidConfig),
		errors.Is(err, core.ErrInvalidProbability),
		errors.Is(err, config.ErrInvalid):
		return http.StatusBadRequest, "INVALID_PARAMETERS"
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest, "INVALID_REQUEST"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "CANCELLED"
	default:
		return http.StatusInternalServerError, "INTERNAL"
	}
}
