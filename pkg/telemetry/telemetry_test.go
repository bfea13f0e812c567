package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(&buf, "info", "json")
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	logger.Debug("hidden")
	logger.Info("sampled", "records", 10)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("Expected 1 line, got %d: %q", len(lines), buf.String())
	}
	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("invalid json log line: %v", err)
	}
	if entry["msg"] != "sampled" || entry["records"] != float64(10) {
		t.Errorf("unexpected entry %v", entry)
	}
}

func TestNewLogger_Invalid(t *testing.T) {
	if _, err := NewLogger(&bytes.Buffer{}, "loud", "text"); err == nil {
		t.Error("Expected error for invalid level")
	}
	if _, err := NewLogger(&bytes.Buffer{}, "info", "xml"); err == nil {
		t.Error("Expected error for invalid format")
	}
}

func TestSpanHelpersWithoutProvider(t *testing.T) {
	ctx, span := Tracer().Start(context.Background(), "test")
	defer span.End()

	// The no-op provider must accept every helper.
	RecordError(ctx, errors.New("boom"))
	AddSpanEvent(ctx, "event")
	SetSpanAttributes(ctx)
}
