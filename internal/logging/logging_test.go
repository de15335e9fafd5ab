package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestNewJSONWritesFields(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: "debug", Format: "json", Output: &buf})
	l.With(String("component", "astar")).Debug(context.Background(), "expanded",
		Int("iteration", 3),
		Float("g", 12),
		Bool("goal", false),
		Err(errors.New("boom")),
	)

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode %q: %v", buf.String(), err)
	}
	if rec["msg"] != "expanded" || rec["component"] != "astar" || rec["error"] != "boom" {
		t.Fatalf("record = %v", rec)
	}
	if rec["iteration"] != float64(3) || rec["goal"] != false {
		t.Fatalf("record = %v", rec)
	}
}

func TestLevelFiltersRecords(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: "warn", Output: &buf})
	l.Info(context.Background(), "hidden")
	l.Warn(context.Background(), "shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
		t.Fatalf("output = %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	} {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestErrNil(t *testing.T) {
	if f := Err(nil); f.Key != "error" || f.Value != "" {
		t.Fatalf("Err(nil) = %+v", f)
	}
}

func TestOrNoop(t *testing.T) {
	if _, ok := OrNoop(nil).(noopLogger); !ok {
		t.Fatalf("OrNoop(nil) did not return the noop logger")
	}
	l := New(Config{Output: &bytes.Buffer{}})
	if OrNoop(l) != l {
		t.Fatalf("OrNoop replaced a real logger")
	}
}

func TestWithRunLoggerAnnotatesRecords(t *testing.T) {
	var buf bytes.Buffer
	base := New(Config{Format: "json", Output: &buf})

	ctx, l := WithRunLogger(context.Background(), base)
	id := RunIDFromContext(ctx)
	if id == "" {
		t.Fatalf("run_id not attached")
	}
	l.Info(ctx, "cycle")
	if !strings.Contains(buf.String(), `"run_id":"`+id+`"`) {
		t.Fatalf("record lacks run_id: %s", buf.String())
	}
	if FromContext(ctx, nil) != l {
		t.Fatalf("FromContext did not return the run logger")
	}

	again, sameID := EnsureRunID(ctx)
	if sameID != id || RunIDFromContext(again) != id {
		t.Fatalf("EnsureRunID replaced an existing id")
	}
}

func TestContextWithRunIDIsHonoured(t *testing.T) {
	ctx := ContextWithRunID(context.Background(), "req-42")
	_, id := EnsureRunID(ctx)
	if id != "req-42" {
		t.Fatalf("id = %q, want req-42", id)
	}
	if got := FromContext(context.Background(), nil); got == nil {
		t.Fatalf("FromContext must fall back to a usable logger")
	}
}
