// Package config loads planner settings from YAML with environment overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/signalsfoundry/grid-replanner/core"
	"github.com/signalsfoundry/grid-replanner/internal/logging"
	"github.com/signalsfoundry/grid-replanner/internal/observability"
	"gopkg.in/yaml.v3"
)

var ErrInvalid = errors.New("invalid configuration")

// Config is the top-level configuration shared by every command.
type Config struct {
	Planner  PlannerConfig               `yaml:"planner"`
	Dynamics DynamicsConfig              `yaml:"dynamics"`
	Server   ServerConfig                `yaml:"server"`
	Logging  LoggingConfig               `yaml:"logging"`
	Tracing  observability.TracingConfig `yaml:"tracing"`
}

// PlannerConfig selects the search heuristic.
type PlannerConfig struct {
	Heuristic string  `yaml:"heuristic" validate:"heuristic"`
	Weight    float64 `yaml:"weight" validate:"gt=0"`
	Trace     bool    `yaml:"trace"`
}

// DynamicsConfig drives the environment and the replanning loop.
type DynamicsConfig struct {
	SpawnProbability       float64       `yaml:"spawn_probability" validate:"gte=0,lte=1"`
	ClearProbability       float64       `yaml:"clear_probability" validate:"gte=0,lte=1"`
	MaxConsecutiveFailures int           `yaml:"max_consecutive_failures" validate:"gte=1"`
	MaxCycles              int           `yaml:"max_cycles" validate:"gte=0"`
	Seed                   uint64        `yaml:"seed"` // 0 seeds from the clock
	Tick                   time.Duration `yaml:"tick" validate:"gt=0"`
	Mode                   string        `yaml:"mode" validate:"oneof=realtime accelerated"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr              string        `yaml:"addr" validate:"required"`
	MetricsPath       string        `yaml:"metrics_path" validate:"startswith=/"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" validate:"gte=0"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout" validate:"gte=0"`
	MaxCells          int           `yaml:"max_cells" validate:"gte=0"` // 0 means unlimited

	// Dynamic runs served over HTTP are bounded even when the dynamics
	// section leaves max_cycles unbounded. 0 disables either bound.
	MaxRunCycles int           `yaml:"max_run_cycles" validate:"gte=0"`
	RunTimeout   time.Duration `yaml:"run_timeout" validate:"gte=0"`
}

// LoggingConfig mirrors logging.Config.
type LoggingConfig struct {
	Level     string `yaml:"level" validate:"oneof=debug info warn warning error"`
	Format    string `yaml:"format" validate:"oneof=text json"`
	AddSource bool   `yaml:"add_source"`
}

var validate *validator.Validate

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("heuristic", func(fl validator.FieldLevel) bool {
		_, err := core.ParseHeuristicKind(fl.Field().String())
		return err == nil
	})
}

// Default returns the built-in configuration.
func Default() Config {
	rc := core.DefaultReplannerConfig()
	return Config{
		Planner: PlannerConfig{
			Heuristic: core.HeuristicManhattan.String(),
			Weight:    core.DefaultHeuristicWeight,
		},
		Dynamics: DynamicsConfig{
			SpawnProbability:       rc.SpawnProbability,
			ClearProbability:       rc.ClearProbability,
			MaxConsecutiveFailures: rc.MaxConsecutiveFailures,
			MaxCycles:              rc.MaxCycles,
			Tick:                   100 * time.Millisecond,
			Mode:                   "accelerated",
		},
		Server: ServerConfig{
			Addr:              ":8080",
			MetricsPath:       "/metrics",
			ReadHeaderTimeout: 5 * time.Second,
			ShutdownTimeout:   10 * time.Second,
			MaxCells:          1 << 20,
			MaxRunCycles:      10000,
			RunTimeout:        30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Tracing: observability.DefaultTracingConfig(),
	}
}

// Load reads path (when non-empty) over the defaults, applies environment
// overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if cfg, err = Decode(bytes.NewReader(data), cfg); err != nil {
			return Config{}, fmt.Errorf("config %s: %w", path, err)
		}
	}
	cfg, err := cfg.ApplyEnv()
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Decode overlays YAML from r onto base. Unknown keys are rejected.
func Decode(r io.Reader, base Config) (Config, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&base); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return base, nil
}

// Marshal renders cfg as YAML.
func Marshal(cfg Config) ([]byte, error) {
	return yaml.Marshal(cfg)
}

// ApplyEnv overrides fields from REPLANNER_* variables, LOG_LEVEL and
// LOG_FORMAT. Malformed numbers are reported rather than ignored.
func (c Config) ApplyEnv() (Config, error) {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = strings.ToLower(strings.TrimSpace(v))
		}
	}
	float := func(key string, dst *float64) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = f
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}

	str("REPLANNER_HEURISTIC", &c.Planner.Heuristic)
	float("REPLANNER_WEIGHT", &c.Planner.Weight)
	float("REPLANNER_SPAWN_PROBABILITY", &c.Dynamics.SpawnProbability)
	float("REPLANNER_CLEAR_PROBABILITY", &c.Dynamics.ClearProbability)
	integer("REPLANNER_MAX_FAILURES", &c.Dynamics.MaxConsecutiveFailures)
	integer("REPLANNER_MAX_CYCLES", &c.Dynamics.MaxCycles)
	str("REPLANNER_MODE", &c.Dynamics.Mode)
	if v := os.Getenv("REPLANNER_SEED"); v != "" {
		seed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("REPLANNER_SEED: %w", err))
		} else {
			c.Dynamics.Seed = seed
		}
	}
	if v := os.Getenv("REPLANNER_ADDR"); v != "" {
		c.Server.Addr = v
	}
	str("LOG_LEVEL", &c.Logging.Level)
	str("LOG_FORMAT", &c.Logging.Format)
	c.Tracing = c.Tracing.ApplyEnv()

	if len(errs) > 0 {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return c, nil
}

// Validate checks every field against its constraints.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
			return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

// Heuristic builds the configured search heuristic.
func (c Config) Heuristic() (core.Heuristic, error) {
	kind, err := core.ParseHeuristicKind(c.Planner.Heuristic)
	if err != nil {
		return core.Heuristic{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return core.Heuristic{Kind: kind, Weight: c.Planner.Weight}, nil
}

// SearchOptions translates the planner section into search options.
func (c Config) SearchOptions() ([]core.SearchOption, error) {
	h, err := c.Heuristic()
	if err != nil {
		return nil, err
	}
	opts := []core.SearchOption{core.WithHeuristic(h)}
	if c.Planner.Trace {
		opts = append(opts, core.WithTrace())
	}
	return opts, nil
}

// ReplannerConfig translates the dynamics section.
func (c Config) ReplannerConfig() core.ReplannerConfig {
	return core.ReplannerConfig{
		SpawnProbability:       c.Dynamics.SpawnProbability,
		ClearProbability:       c.Dynamics.ClearProbability,
		MaxConsecutiveFailures: c.Dynamics.MaxConsecutiveFailures,
		MaxCycles:              c.Dynamics.MaxCycles,
	}
}

// Rand returns a generator seeded from Dynamics.Seed, or from the clock when
// the seed is zero.
func (c Config) Rand() *rand.Rand {
	seed := c.Dynamics.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return rand.New(rand.NewPCG(seed, seed>>1))
}

// LoggerConfig translates the logging section.
func (c Config) LoggerConfig(out io.Writer) logging.Config {
	return logging.Config{
		Level:     c.Logging.Level,
		Format:    c.Logging.Format,
		AddSource: c.Logging.AddSource,
		Output:    out,
	}
}
