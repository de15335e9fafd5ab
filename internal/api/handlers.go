package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/signalsfoundry/grid-replanner/core"
	"github.com/signalsfoundry/grid-replanner/internal/gridfile"
	"github.com/signalsfoundry/grid-replanner/internal/logging"
	"github.com/signalsfoundry/grid-replanner/internal/report"
	"github.com/signalsfoundry/grid-replanner/model"
)

var errBadRequest = errors.New("invalid request")

// bind decodes an optional JSON body into dst.
func bind(c *gin.Context, dst any) error {
	if err := c.ShouldBindJSON(dst); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %w", errBadRequest, err)
	}
	return nil
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "grids": s.store.Len()})
}

// handleSearch handles POST /v1/search with an inline grid.
func (s *Server) handleSearch(c *gin.Context) {
	var req SearchRequest
	if err := bind(c, &req); err != nil {
		s.fail(c, err)
		return
	}
	if req.Grid == nil {
		s.fail(c, fmt.Errorf("%w: grid is required", errBadRequest))
		return
	}
	env, err := req.Grid.environment(s.cfg.Server.MaxCells, nil)
	if err != nil {
		s.fail(c, err)
		return
	}
	resp, err := s.runSearch(c.Request.Context(), env, req)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// handleGridSearch handles POST /v1/grids/:id/search against a snapshot of a
// stored grid.
func (s *Server) handleGridSearch(c *gin.Context) {
	var req SearchRequest
	if err := bind(c, &req); err != nil {
		s.fail(c, err)
		return
	}
	id, err := s.store.Resolve(c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	env, err := s.store.Snapshot(id)
	if err != nil {
		s.fail(c, err)
		return
	}
	resp, err := s.runSearch(c.Request.Context(), env, req)
	if err != nil {
		s.fail(c, err)
		return
	}
	resp.GridID = id
	c.JSON(http.StatusOK, resp)
}

// handleDynamic handles POST /v1/dynamic with an inline grid.
func (s *Server) handleDynamic(c *gin.Context) {
	var req DynamicRequest
	if err := bind(c, &req); err != nil {
		s.fail(c, err)
		return
	}
	if req.Grid == nil {
		s.fail(c, fmt.Errorf("%w: grid is required", errBadRequest))
		return
	}
	env, err := req.Grid.environment(s.cfg.Server.MaxCells, s.rng(req.Seed))
	if err != nil {
		s.fail(c, err)
		return
	}
	resp, err := s.runDynamic(c.Request.Context(), env, req)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// handleGridDynamic handles POST /v1/grids/:id/dynamic. The run mutates the
// stored grid in place; its random stream was fixed when the grid was created,
// so a seed in the request is ignored.
func (s *Server) handleGridDynamic(c *gin.Context) {
	var req DynamicRequest
	if err := bind(c, &req); err != nil {
		s.fail(c, err)
		return
	}
	id, err := s.store.Resolve(c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	var resp DynamicResponse
	err = s.store.WithGrid(id, func(env *core.GridEnvironment) error {
		var runErr error
		resp, runErr = s.runDynamic(c.Request.Context(), env, req)
		return runErr
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	resp.GridID = id
	c.JSON(http.StatusOK, resp)
}

// handleCreateGrid handles POST /v1/grids.
func (s *Server) handleCreateGrid(c *gin.Context) {
	var req CreateGridRequest
	if err := bind(c, &req); err != nil {
		s.fail(c, err)
		return
	}
	env, err := req.Grid.environment(s.cfg.Server.MaxCells, s.rng(req.Seed))
	if err != nil {
		s.fail(c, err)
		return
	}
	info, err := s.store.Add(req.Name, env)
	if err != nil {
		s.fail(c, err)
		return
	}
	logging.FromContext(c.Request.Context(), s.log).Info(c.Request.Context(), "grid stored",
		logging.String("grid_id", info.ID),
		logging.String("name", info.Name),
		logging.Int("rows", info.Rows),
		logging.Int("cols", info.Cols),
	)
	c.JSON(http.StatusCreated, GridResponse{GridInfo: info})
}

// handleListGrids handles GET /v1/grids.
func (s *Server) handleListGrids(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"grids": s.store.List()})
}

// handleGetGrid handles GET /v1/grids/:id; the id may also be a grid name.
func (s *Server) handleGetGrid(c *gin.Context) {
	id, err := s.store.Resolve(c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	info, err := s.store.Get(id)
	if err != nil {
		s.fail(c, err)
		return
	}
	env, err := s.store.Snapshot(id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, GridResponse{GridInfo: info, Text: gridfile.EncodeString(env)})
}

// handleDeleteGrid handles DELETE /v1/grids/:id.
func (s *Server) handleDeleteGrid(c *gin.Context) {
	id, err := s.store.Resolve(c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	if err := s.store.Remove(id); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) runSearch(ctx context.Context, env *core.GridEnvironment, req SearchRequest) (SearchResponse, error) {
	opts, h, err := s.searchOptions(ctx, req.PlannerParams)
	if err != nil {
		return SearchResponse{}, err
	}
	start, goal := endpoints(env, req.Start, req.Goal)
	res := core.NewAStarSearch(env, opts...).Search(ctx, start, goal)

	resp := SearchResponse{
		RunID:     logging.RunIDFromContext(ctx),
		Heuristic: h.String(),
		Result:    res,
	}
	if req.Render {
		resp.Map = report.NewPlainRenderer().Grid(env, report.Overlay{Path: res.Path})
	}
	return resp, nil
}

func (s *Server) runDynamic(ctx context.Context, env *core.GridEnvironment, req DynamicRequest) (DynamicResponse, error) {
	opts, _, err := s.searchOptions(ctx, req.PlannerParams)
	if err != nil {
		return DynamicResponse{}, err
	}
	log := logging.FromContext(ctx, s.log)
	ropts := []core.ReplannerOption{
		core.WithReplannerLogger(log),
		core.WithSearchOptions(opts...),
	}
	if s.planner != nil {
		ropts = append(ropts, core.WithReplanRecorder(s.planner))
	}
	r, err := core.NewDynamicReplanner(env, s.replannerConfig(req.DynamicsParams), ropts...)
	if err != nil {
		return DynamicResponse{}, err
	}
	ctx, cancel := s.runContext(ctx)
	defer cancel()

	start, goal := endpoints(env, req.Start, req.Goal)
	res, err := r.ExecuteDynamic(ctx, start, goal)
	if err != nil {
		return DynamicResponse{}, err
	}

	resp := DynamicResponse{
		RunID:             logging.RunIDFromContext(ctx),
		Result:            res,
		MeanObstacleRatio: res.MeanObstacleRatio(),
		NodesGenerated:    res.TotalNodesGenerated(),
		NodesInspected:    res.TotalNodesInspected(),
		FinalGrid:         gridfile.EncodeString(env),
	}
	if !req.IncludeSearches {
		resp.Result.Searches = nil
	}
	if req.Render {
		agent := res.CompletePath[len(res.CompletePath)-1]
		resp.Map = report.NewPlainRenderer().Grid(env, report.Overlay{
			Traversed: res.CompletePath,
			Agent:     &agent,
		})
	}
	return resp, nil
}

// runContext bounds a dynamic run by the configured run timeout.
func (s *Server) runContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if d := s.cfg.Server.RunTimeout; d > 0 {
		return context.WithTimeout(ctx, d)
	}
	return context.WithCancel(ctx)
}

func (s *Server) searchOptions(ctx context.Context, p PlannerParams) ([]core.SearchOption, core.Heuristic, error) {
	cfg := s.cfg
	if p.Heuristic != "" {
		cfg.Planner.Heuristic = p.Heuristic
	}
	if p.Weight != nil {
		cfg.Planner.Weight = *p.Weight
	}
	cfg.Planner.Trace = cfg.Planner.Trace || p.Trace

	h, err := cfg.Heuristic()
	if err != nil {
		return nil, core.Heuristic{}, err
	}
	opts, err := cfg.SearchOptions()
	if err != nil {
		return nil, core.Heuristic{}, err
	}
	opts = append(opts, core.WithSearchLogger(logging.FromContext(ctx, s.log)))
	if s.planner != nil {
		opts = append(opts, core.WithSearchRecorder(s.planner))
	}
	return opts, h, nil
}

func (s *Server) replannerConfig(p DynamicsParams) core.ReplannerConfig {
	rc := s.cfg.ReplannerConfig()
	if p.SpawnProbability != nil {
		rc.SpawnProbability = *p.SpawnProbability
	}
	if p.ClearProbability != nil {
		rc.ClearProbability = *p.ClearProbability
	}
	if p.MaxConsecutiveFailures != nil {
		rc.MaxConsecutiveFailures = *p.MaxConsecutiveFailures
	}
	if p.MaxCycles != nil {
		rc.MaxCycles = *p.MaxCycles
	}
	if limit := s.cfg.Server.MaxRunCycles; limit > 0 && (rc.MaxCycles == 0 || rc.MaxCycles > limit) {
		rc.MaxCycles = limit
	}
	return rc
}

func (s *Server) rng(seed *uint64) *rand.Rand {
	cfg := s.cfg
	if seed != nil {
		cfg.Dynamics.Seed = *seed
	}
	return cfg.Rand()
}

func endpoints(env *core.GridEnvironment, start, goal *model.Position) (model.Position, model.Position) {
	s, g := env.Start(), env.Goal()
	if start != nil {
		s = *start
	}
	if goal != nil {
		g = *goal
	}
	return s, g
}
