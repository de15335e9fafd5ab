package timectrl

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Clock exposes the controller's notion of time to cycle consumers.
type Clock interface {
	// Now returns the time of the most recent tick.
	Now() time.Time
}

// Mode describes how the TimeController paces ticks.
type Mode int

const (
	// RealTime waits one Tick of wall-clock time between cycles.
	RealTime Mode = iota
	// Accelerated runs cycles back to back while still stepping time by Tick.
	Accelerated
)

func (m Mode) String() string {
	switch m {
	case RealTime:
		return "realtime"
	case Accelerated:
		return "accelerated"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode accepts "realtime" or "accelerated"; empty means accelerated.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "accelerated", "":
		return Accelerated, nil
	case "realtime", "real-time":
		return RealTime, nil
	default:
		return 0, fmt.Errorf("unknown clock mode %q", s)
	}
}

// TimeController paces replanning cycles and notifies registered listeners
// after each one.
type TimeController struct {
	mu        sync.RWMutex
	StartTime time.Time
	Tick      time.Duration
	Mode      Mode

	currentTime time.Time
	ticks       int

	listeners []func(time.Time)
}

// NewTimeController constructs a controller.
func NewTimeController(start time.Time, tick time.Duration, mode Mode) *TimeController {
	return &TimeController{
		StartTime:   start,
		Tick:        tick,
		Mode:        mode,
		currentTime: start,
	}
}

// Now returns the time of the most recent tick. Implements Clock.
func (tc *TimeController) Now() time.Time {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.currentTime
}

// SetTime overrides the current time.
func (tc *TimeController) SetTime(t time.Time) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.currentTime = t
}

// Ticks is the number of ticks taken since the last RunUntil began.
func (tc *TimeController) Ticks() int {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.ticks
}

// AddListener registers a callback invoked after every tick.
func (tc *TimeController) AddListener(fn func(time.Time)) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.listeners = append(tc.listeners, fn)
}

// RunUntil calls step once per tick until it reports done or ctx is
// cancelled. Time advances by Tick before each call. In RealTime mode each
// tick waits for the wall clock; in Accelerated mode ticks run back to back.
func (tc *TimeController) RunUntil(ctx context.Context, step func(now time.Time) (done bool)) error {
	if tc.Tick <= 0 {
		return fmt.Errorf("tick must be positive, got %s", tc.Tick)
	}

	tc.mu.Lock()
	simTime := tc.StartTime
	tc.currentTime = simTime
	tc.ticks = 0
	tc.mu.Unlock()

	var ticker *time.Ticker
	if tc.Mode == RealTime {
		ticker = time.NewTicker(tc.Tick)
		defer ticker.Stop()
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if ticker != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
		}
		simTime = simTime.Add(tc.Tick)

		tc.mu.Lock()
		tc.currentTime = simTime
		tc.ticks++
		listeners := append([]func(time.Time){}, tc.listeners...)
		tc.mu.Unlock()

		done := step(simTime)
		for _, fn := range listeners {
			fn(simTime)
		}
		if done {
			return nil
		}
	}
}
