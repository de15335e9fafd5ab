package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/signalsfoundry/grid-replanner/core"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}
	h, err := cfg.Heuristic()
	if err != nil {
		t.Fatalf("Heuristic: %v", err)
	}
	if h != core.DefaultHeuristic() {
		t.Fatalf("Heuristic = %v, want %v", h, core.DefaultHeuristic())
	}
	if rc := cfg.ReplannerConfig(); rc != core.DefaultReplannerConfig() {
		t.Fatalf("ReplannerConfig = %+v, want %+v", rc, core.DefaultReplannerConfig())
	}
}

func TestLoadOverlaysFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "replanner.yaml")
	body := `
planner:
  heuristic: euclidean
  weight: 2.5
dynamics:
  spawn_probability: 0.2
  max_cycles: 50
  tick: 250ms
  seed: 99
server:
  addr: 127.0.0.1:9090
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Planner.Heuristic != "euclidean" || cfg.Planner.Weight != 2.5 {
		t.Fatalf("planner = %+v", cfg.Planner)
	}
	if cfg.Dynamics.SpawnProbability != 0.2 || cfg.Dynamics.ClearProbability != 0.1 {
		t.Fatalf("dynamics probabilities = %v/%v, want 0.2/0.1", cfg.Dynamics.SpawnProbability, cfg.Dynamics.ClearProbability)
	}
	if cfg.Dynamics.Tick != 250*time.Millisecond || cfg.Dynamics.MaxCycles != 50 || cfg.Dynamics.Seed != 99 {
		t.Fatalf("dynamics = %+v", cfg.Dynamics)
	}
	if cfg.Server.Addr != "127.0.0.1:9090" {
		t.Fatalf("Addr = %q", cfg.Server.Addr)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("planner:\n  heuristics: manhattan\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); !errors.Is(err, ErrInvalid) {
		t.Fatalf("Load err = %v, want ErrInvalid", err)
	}
}

func TestValidateReportsFields(t *testing.T) {
	cfg := Default()
	cfg.Planner.Heuristic = "chebyshev"
	cfg.Dynamics.SpawnProbability = 1.5
	err := cfg.Validate()
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("Validate err = %v, want ErrInvalid", err)
	}
	for _, field := range []string{"Planner.Heuristic", "Dynamics.SpawnProbability"} {
		if !strings.Contains(err.Error(), field) {
			t.Fatalf("error %q does not mention %s", err, field)
		}
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("REPLANNER_HEURISTIC", "Euclidean")
	t.Setenv("REPLANNER_MAX_FAILURES", "3")
	t.Setenv("REPLANNER_SEED", "7")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Planner.Heuristic != "euclidean" || cfg.Dynamics.MaxConsecutiveFailures != 3 || cfg.Dynamics.Seed != 7 {
		t.Fatalf("env overrides not applied: %+v", cfg)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
}

func TestApplyEnvRejectsMalformedNumbers(t *testing.T) {
	t.Setenv("REPLANNER_SPAWN_PROBABILITY", "lots")
	if _, err := Load(""); !errors.Is(err, ErrInvalid) {
		t.Fatalf("Load err = %v, want ErrInvalid", err)
	}
}

func TestSeededRandIsReproducible(t *testing.T) {
	cfg := Default()
	cfg.Dynamics.Seed = 11
	a, b := cfg.Rand(), cfg.Rand()
	for i := 0; i < 5; i++ {
		if x, y := a.Uint64(), b.Uint64(); x != y {
			t.Fatalf("draw %d differs: %d vs %d", i, x, y)
		}
	}
}

func TestMarshalRoundTripsThroughDecode(t *testing.T) {
	cfg := Default()
	cfg.Dynamics.MaxCycles = 12
	data, err := Marshal(cfg)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	got, err := Decode(strings.NewReader(string(data)), Default())
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Dynamics.MaxCycles != 12 || got.Server.Addr != cfg.Server.Addr {
		t.Fatalf("decoded = %+v", got)
	}
}
