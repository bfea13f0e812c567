package metrics

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func newLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func TestLogMetrics_Immediate(t *testing.T) {
	var buf bytes.Buffer
	m := NewLogMetrics(newLogger(&buf))

	m.Counter("submitd.sample.total", 1, map[string]string{"protocol": "http", "format": "csv"})
	out := buf.String()
	for _, want := range []string{"type=counter", "name=submitd.sample.total", "value=1", "tags.format=csv", "tags.protocol=http"} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q missing %q", out, want)
		}
	}
	if strings.Index(out, "tags.format") > strings.Index(out, "tags.protocol") {
		t.Error("tags should be sorted")
	}
}

func TestLogMetrics_Buffered(t *testing.T) {
	var buf bytes.Buffer
	m := NewLogMetrics(newLogger(&buf), WithBufferSize(3))

	m.Histogram("h", 1, nil)
	m.Timer("t", time.Second, nil)
	if buf.Len() != 0 {
		t.Fatalf("expected buffered output, got %q", buf.String())
	}
	m.Gauge("g", 2, nil)
	if got := strings.Count(buf.String(), "msg=metric"); got != 3 {
		t.Errorf("Expected 3 lines after buffer filled, got %d", got)
	}

	m.Counter("c", 1, nil)
	if err := m.Close(); err != nil {
		t.Fatal(err)
	}
	if got := strings.Count(buf.String(), "msg=metric"); got != 4 {
		t.Errorf("Expected Close to flush, got %d lines", got)
	}
}

func TestLogMetrics_MinLevel(t *testing.T) {
	var buf bytes.Buffer
	m := NewLogMetrics(newLogger(&buf), WithMinLevel(LogLevelTimers))

	m.Counter("c", 1, nil)
	if buf.Len() != 0 {
		t.Error("counter should be suppressed at LogLevelTimers")
	}
	m.Timer("t", time.Millisecond, nil)
	if !strings.Contains(buf.String(), "type=timer") {
		t.Error("timer should be logged at LogLevelTimers")
	}
}

func TestLogMetrics_LevelFiltered(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	m := NewLogMetrics(logger)

	m.Counter("c", 1, nil)
	if buf.Len() != 0 {
		t.Error("debug-level metrics should be dropped by an info logger")
	}
}
