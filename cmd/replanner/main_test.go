package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/signalsfoundry/grid-replanner/core"
	"github.com/signalsfoundry/grid-replanner/internal/config"
	"github.com/signalsfoundry/grid-replanner/model"
)

func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	t.Setenv("REPLANNER_TRACING_ENABLED", "false")
	var stdout, stderr bytes.Buffer
	err := execute(context.Background(), args, &stdout, &stderr)
	return stdout.String(), stderr.String(), err
}

func writeGrid(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "grid.txt")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write grid: %v", err)
	}
	return path
}

const wallGrid = `3 4
3 0 1 0
0 0 1 0
0 0 0 4
`

func TestSearchCommandRendersMapAndSummary(t *testing.T) {
	out, _, err := run(t, "search", "--grid", writeGrid(t, wallGrid))
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	for _, want := range []string{"S . # .", "outcome:          found", "nodes inspected:", "*"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestSearchCommandJSON(t *testing.T) {
	out, _, err := run(t, "search", "--grid", writeGrid(t, wallGrid), "--json", "--heuristic", "euclidean")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	var res core.SearchResult
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if !res.PathFound || res.Outcome != core.SearchFound {
		t.Fatalf("result = %+v, want found", res)
	}
	if res.Path[0] != (model.Position{Row: 0, Col: 0}) || res.Path[len(res.Path)-1] != (model.Position{Row: 2, Col: 3}) {
		t.Fatalf("path = %v", res.Path)
	}
}

func TestSearchCommandTrace(t *testing.T) {
	out, _, err := run(t, "search", "--grid", writeGrid(t, wallGrid), "--trace", "--no-map")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if !strings.Contains(out, "#1    expand (0,0)") {
		t.Fatalf("trace lines missing:\n%s", out)
	}
	if strings.Contains(out, "S . # .") {
		t.Fatalf("--no-map still drew the grid:\n%s", out)
	}
}

func TestSearchCommandRejectsBadInput(t *testing.T) {
	cases := []struct {
		name string
		args []string
		want error
	}{
		{"unknown heuristic", []string{"search", "--rows", "4", "--cols", "4", "--heuristic", "chebyshev"}, config.ErrInvalid},
		{"start off border", []string{"search", "--rows", "5", "--cols", "5", "--start", "2,2"}, core.ErrNotOnBorder},
		{"malformed file", []string{"search", "--grid", writeGrid(t, "2 2\n3 0\n")}, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := run(t, tc.args...)
			if err == nil {
				t.Fatalf("expected an error")
			}
			if tc.want != nil && !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestDynamicCommandStaticGrid(t *testing.T) {
	out, _, err := run(t, "dynamic",
		"--rows", "5", "--cols", "5", "--density", "0",
		"--spawn", "0", "--clear", "0", "--seed", "1", "--json",
	)
	if err != nil {
		t.Fatalf("dynamic: %v", err)
	}
	var res core.DynamicResult
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if !res.Success || res.StepCount != 4 || res.TotalCost != 28 {
		t.Fatalf("result = %+v, want success in 4 steps costing 28", res)
	}
}

func TestDynamicCommandVerbose(t *testing.T) {
	out, _, err := run(t, "dynamic",
		"--rows", "4", "--cols", "4", "--density", "0",
		"--spawn", "0", "--clear", "0", "-v", "--maps",
	)
	if err != nil {
		t.Fatalf("dynamic: %v", err)
	}
	if got := strings.Count(out, "cycle "); got != 3 {
		t.Fatalf("saw %d cycle lines, want 3:\n%s", got, out)
	}
	if !strings.Contains(out, "A") || !strings.Contains(out, "outcome:               success") {
		t.Fatalf("missing agent glyph or summary:\n%s", out)
	}
}

func TestDynamicCommandCancelled(t *testing.T) {
	t.Setenv("REPLANNER_TRACING_ENABLED", "false")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var stdout, stderr bytes.Buffer
	err := execute(ctx, []string{"dynamic", "--rows", "6", "--cols", "6", "--density", "0"}, &stdout, &stderr)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if !strings.Contains(stdout.String(), "cancelled") {
		t.Fatalf("summary does not report cancellation:\n%s", stdout.String())
	}
}

func TestConfigCommandPrintsEffectiveConfig(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "replanner.yaml")
	if err := os.WriteFile(cfgPath, []byte("planner:\n  heuristic: euclidean\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	out, _, err := run(t, "--config", cfgPath, "config")
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	if !strings.Contains(out, "heuristic: euclidean") || !strings.Contains(out, "weight: 3") {
		t.Fatalf("unexpected config output:\n%s", out)
	}
}

func TestLogLevelFlagIsValidated(t *testing.T) {
	if _, _, err := run(t, "--log-level", "loud", "config"); !errors.Is(err, config.ErrInvalid) {
		t.Fatalf("err = %v, want config.ErrInvalid", err)
	}
}

func TestParsePosition(t *testing.T) {
	got, err := parsePosition(" 3, 7 ")
	if err != nil || got != (model.Position{Row: 3, Col: 7}) {
		t.Fatalf("parsePosition = %v, %v", got, err)
	}
	for _, bad := range []string{"", "3", "a,1", "1,b"} {
		if _, err := parsePosition(bad); err == nil {
			t.Fatalf("parsePosition(%q) accepted", bad)
		}
	}
}
