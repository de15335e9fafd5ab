package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/signalsfoundry/grid-replanner/core"
	"github.com/signalsfoundry/grid-replanner/internal/config"
	"github.com/signalsfoundry/grid-replanner/internal/observability"
)

const openGrid = "5 5\n3 0 0 0 0\n0 0 0 0 0\n0 0 0 0 0\n0 0 0 0 0\n0 0 0 0 4\n"

func newTestServer(t *testing.T, opts ...Option) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	s := NewServer(config.Default(), opts...)
	t.Cleanup(s.Close)
	return s
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %s: %v", rr.Body.String(), err)
	}
	return v
}

func ptr[T any](v T) *T { return &v }

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	rr := do(t, s.Handler(), http.MethodGet, "/healthz", nil)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"ok"`) {
		t.Fatalf("/healthz = %d %s", rr.Code, rr.Body.String())
	}
}

func TestSearchInlineGrid(t *testing.T) {
	s := newTestServer(t)
	rr := do(t, s.Handler(), http.MethodPost, "/v1/search", SearchRequest{
		Grid:   &GridPayload{Text: openGrid},
		Render: true,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	resp := decode[SearchResponse](t, rr)
	if !resp.Result.PathFound || resp.Result.TotalCost != 28 || len(resp.Result.Path) != 5 {
		t.Fatalf("result = %+v", resp.Result)
	}
	if resp.Heuristic != "manhattan(w=3)" || resp.RunID == "" {
		t.Fatalf("heuristic/run id = %q/%q", resp.Heuristic, resp.RunID)
	}
	if !strings.HasPrefix(resp.Map, "S . . . .\n. * . . .") {
		t.Fatalf("map =\n%s", resp.Map)
	}
	if rr.Header().Get("X-Request-ID") != resp.RunID {
		t.Fatalf("X-Request-ID = %q, want %q", rr.Header().Get("X-Request-ID"), resp.RunID)
	}
}

func TestSearchCellsPayloadAndOverrides(t *testing.T) {
	s := newTestServer(t)
	rr := do(t, s.Handler(), http.MethodPost, "/v1/search", SearchRequest{
		Grid: &GridPayload{Rows: 1, Cols: 3, Cells: []int{3, 1, 4}},
		PlannerParams: PlannerParams{
			Heuristic: "euclidean",
			Weight:    ptr(1.0),
			Trace:     true,
		},
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	resp := decode[SearchResponse](t, rr)
	if resp.Result.PathFound || resp.Result.Outcome != core.SearchExhausted {
		t.Fatalf("result = %+v, want exhausted", resp.Result)
	}
	if resp.Heuristic != "euclidean(w=1)" || len(resp.Result.Trace) != 1 {
		t.Fatalf("heuristic = %q trace = %d", resp.Heuristic, len(resp.Result.Trace))
	}
}

func TestSearchRejectsBadInput(t *testing.T) {
	s := newTestServer(t)
	cases := []struct {
		name string
		body any
		code string
	}{
		{"missing grid", SearchRequest{}, "INVALID_REQUEST"},
		{"malformed", SearchRequest{Grid: &GridPayload{Text: "2 2\n3 7\n0 4"}}, "INVALID_GRID"},
		{"interior start", SearchRequest{Grid: &GridPayload{Text: "3 3\n4 0 0\n0 3 0\n0 0 0"}}, "INVALID_GRID"},
		{"bad heuristic", SearchRequest{Grid: &GridPayload{Text: openGrid}, PlannerParams: PlannerParams{Heuristic: "chebyshev"}}, "INVALID_REQUEST"},
		{"negative weight", SearchRequest{Grid: &GridPayload{Text: openGrid}, PlannerParams: PlannerParams{Weight: ptr(-1.0)}}, "INVALID_REQUEST"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := do(t, s.Handler(), http.MethodPost, "/v1/search", tc.body)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400; body %s", rr.Code, rr.Body.String())
			}
			if got := decode[ErrorResponse](t, rr); got.Code != tc.code {
				t.Fatalf("code = %q, want %q", got.Code, tc.code)
			}
		})
	}
}

func TestSearchRejectsOversizedGrid(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := config.Default()
	cfg.Server.MaxCells = 10
	s := NewServer(cfg)
	defer s.Close()
	rr := do(t, s.Handler(), http.MethodPost, "/v1/search", SearchRequest{Grid: &GridPayload{Text: openGrid}})
	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", rr.Code)
	}
}

func TestOversizedTextHeaderIsRejectedBeforeDecoding(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := config.Default()
	cfg.Server.MaxCells = 100
	s := NewServer(cfg)
	defer s.Close()

	for _, grid := range []*GridPayload{
		{Text: "4096 4096"},
		{Rows: 4096, Cols: 4096},
	} {
		rr := do(t, s.Handler(), http.MethodPost, "/v1/search", SearchRequest{Grid: grid})
		if rr.Code != http.StatusRequestEntityTooLarge {
			t.Fatalf("grid %+v: status = %d, want 413; body %s", grid, rr.Code, rr.Body.String())
		}
		if got := decode[ErrorResponse](t, rr); got.Code != "GRID_TOO_LARGE" {
			t.Fatalf("grid %+v: code = %q, want GRID_TOO_LARGE", grid, got.Code)
		}
	}
}

func TestStoredGridDynamicRunIsBounded(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := config.Default()
	cfg.Server.MaxRunCycles = 2
	s := NewServer(cfg)
	defer s.Close()
	h := s.Handler()

	if rr := do(t, h, http.MethodPost, "/v1/grids", CreateGridRequest{Name: "bounded", Grid: GridPayload{Text: openGrid}}); rr.Code != http.StatusCreated {
		t.Fatalf("create = %d %s", rr.Code, rr.Body.String())
	}
	for _, requested := range []*int{nil, ptr(0), ptr(50)} {
		rr := do(t, h, http.MethodPost, "/v1/grids/bounded/dynamic", DynamicRequest{
			DynamicsParams: DynamicsParams{
				SpawnProbability: ptr(0.0),
				ClearProbability: ptr(0.0),
				MaxCycles:        requested,
			},
		})
		if rr.Code != http.StatusOK {
			t.Fatalf("dynamic = %d %s", rr.Code, rr.Body.String())
		}
		res := decode[DynamicResponse](t, rr).Result
		if res.Outcome != core.OutcomeCycleLimit || res.Cycles != 2 {
			t.Fatalf("max_cycles %v: outcome %s after %d cycles, want cycle_limit after 2", requested, res.Outcome, res.Cycles)
		}
	}

	// The store lock is released once the bounded run returns.
	if rr := do(t, h, http.MethodGet, "/v1/grids/bounded", nil); rr.Code != http.StatusOK {
		t.Fatalf("get after run = %d", rr.Code)
	}
}

func TestDynamicRunTimeout(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := config.Default()
	cfg.Server.RunTimeout = time.Minute
	s := NewServer(cfg)
	defer s.Close()

	before := time.Now()
	ctx, cancel := s.runContext(context.Background())
	defer cancel()
	deadline, ok := ctx.Deadline()
	if !ok || deadline.Before(before) || deadline.After(time.Now().Add(time.Minute)) {
		t.Fatalf("deadline = %v (set %v), want about one minute out", deadline, ok)
	}

	s.cfg.Server.RunTimeout = 0
	unbounded, cancel2 := s.runContext(context.Background())
	defer cancel2()
	if _, ok := unbounded.Deadline(); ok {
		t.Fatalf("run_timeout 0 must not set a deadline")
	}

	// A run whose context is already done reports 503 rather than a result.
	done, stop := context.WithCancel(context.Background())
	stop()
	body := `{"grid":{"text":"` + strings.ReplaceAll(openGrid, "\n", "\\n") + `"}}`
	req := httptest.NewRequest(http.MethodPost, "/v1/dynamic", strings.NewReader(body)).WithContext(done)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503; body %s", rr.Code, rr.Body.String())
	}
}

func TestDynamicInlineGrid(t *testing.T) {
	s := newTestServer(t)
	rr := do(t, s.Handler(), http.MethodPost, "/v1/dynamic", DynamicRequest{
		Grid: &GridPayload{Text: openGrid},
		DynamicsParams: DynamicsParams{
			SpawnProbability: ptr(0.0),
			ClearProbability: ptr(0.0),
		},
		Render: true,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	resp := decode[DynamicResponse](t, rr)
	if !resp.Result.Success || resp.Result.StepCount != 4 || resp.Result.TotalCost != 28 {
		t.Fatalf("result = %+v", resp.Result)
	}
	if resp.Result.Searches != nil {
		t.Fatalf("searches included without include_searches")
	}
	if resp.NodesInspected == 0 || resp.FinalGrid != openGrid {
		t.Fatalf("inspected = %d final grid =\n%s", resp.NodesInspected, resp.FinalGrid)
	}
	if !strings.HasSuffix(resp.Map, "A\n") {
		t.Fatalf("map does not show the agent at the goal:\n%s", resp.Map)
	}
}

func TestDynamicAbandonsInCorridor(t *testing.T) {
	s := newTestServer(t)
	rr := do(t, s.Handler(), http.MethodPost, "/v1/dynamic", DynamicRequest{
		Grid: &GridPayload{Rows: 1, Cols: 8, Cells: []int{3, 0, 0, 0, 0, 0, 0, 4}},
		DynamicsParams: DynamicsParams{
			SpawnProbability: ptr(1.0),
			ClearProbability: ptr(0.0),
			Seed:             ptr(uint64(5)),
		},
		IncludeSearches: true,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	resp := decode[DynamicResponse](t, rr)
	if resp.Result.Outcome != core.OutcomeAbandoned || resp.Result.StepCount != 1 {
		t.Fatalf("result = %+v", resp.Result)
	}
	if len(resp.Result.Searches) != resp.Result.Cycles {
		t.Fatalf("searches = %d, cycles = %d", len(resp.Result.Searches), resp.Result.Cycles)
	}
}

func TestGridLifecycle(t *testing.T) {
	reg := prometheus.NewRegistry()
	planner, err := observability.NewPlannerCollector(reg)
	if err != nil {
		t.Fatalf("NewPlannerCollector: %v", err)
	}
	s := newTestServer(t, WithPlannerMetrics(planner), WithMetricsHandler(planner.Handler()))
	h := s.Handler()

	rr := do(t, h, http.MethodPost, "/v1/grids", CreateGridRequest{Name: "yard", Grid: GridPayload{Text: openGrid}, Seed: ptr(uint64(9))})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", rr.Code, rr.Body.String())
	}
	created := decode[GridResponse](t, rr)

	if rr := do(t, h, http.MethodPost, "/v1/grids", CreateGridRequest{Name: "yard", Grid: GridPayload{Text: openGrid}}); rr.Code != http.StatusConflict {
		t.Fatalf("duplicate create status = %d, want 409", rr.Code)
	}

	rr = do(t, h, http.MethodGet, "/v1/grids/yard", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("get status = %d", rr.Code)
	}
	if got := decode[GridResponse](t, rr); got.ID != created.ID || got.Text != openGrid {
		t.Fatalf("get = %+v", got)
	}

	rr = do(t, h, http.MethodPost, "/v1/grids/"+created.ID+"/search", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("search status = %d, body %s", rr.Code, rr.Body.String())
	}
	if got := decode[SearchResponse](t, rr); got.GridID != created.ID || got.Result.TotalCost != 28 {
		t.Fatalf("grid search = %+v", got)
	}

	rr = do(t, h, http.MethodPost, "/v1/grids/yard/dynamic", DynamicRequest{
		DynamicsParams: DynamicsParams{SpawnProbability: ptr(0.3), ClearProbability: ptr(0.0)},
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("dynamic status = %d, body %s", rr.Code, rr.Body.String())
	}
	run := decode[DynamicResponse](t, rr)
	if run.Result.Cycles == 0 {
		t.Fatalf("dynamic run did no cycles: %+v", run.Result)
	}

	// The run mutated the stored grid in place.
	rr = do(t, h, http.MethodGet, "/v1/grids/"+created.ID, nil)
	if got := decode[GridResponse](t, rr); got.Text != run.FinalGrid {
		t.Fatalf("stored grid does not match the run's final grid")
	}

	if got := testutil.ToFloat64(planner.Runs.WithLabelValues(string(run.Result.Outcome))); got != 1 {
		t.Fatalf("planner_runs_total = %v, want 1", got)
	}
	rr = do(t, h, http.MethodGet, "/metrics", nil)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "planner_searches_total") {
		t.Fatalf("/metrics = %d", rr.Code)
	}

	rr = do(t, h, http.MethodGet, "/v1/grids", nil)
	if list := decode[struct {
		Grids []GridResponse `json:"grids"`
	}](t, rr); len(list.Grids) != 1 {
		t.Fatalf("list = %+v", list)
	}

	if rr := do(t, h, http.MethodDelete, "/v1/grids/yard", nil); rr.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rr.Code)
	}
	if rr := do(t, h, http.MethodGet, "/v1/grids/yard", nil); rr.Code != http.StatusNotFound {
		t.Fatalf("get after delete status = %d, want 404", rr.Code)
	}
}

func TestHTTPMetricsMiddleware(t *testing.T) {
	reg := prometheus.NewRegistry()
	hc, err := observability.NewHTTPCollector(reg)
	if err != nil {
		t.Fatalf("NewHTTPCollector: %v", err)
	}
	s := newTestServer(t, WithHTTPMetrics(hc))
	do(t, s.Handler(), http.MethodGet, "/v1/grids/missing", nil)
	if got := testutil.ToFloat64(hc.Requests.WithLabelValues("GET", "/v1/grids/:id", "404")); got != 1 {
		t.Fatalf("planner_http_requests_total = %v, want 1", got)
	}
}
