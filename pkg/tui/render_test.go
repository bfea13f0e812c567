package tui

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/openaddresses/submit-service-sub000/pkg/errors"
	"github.com/openaddresses/submit-service-sub000/pkg/ingest/core"
	"github.com/openaddresses/submit-service-sub000/pkg/sample"
)

func testResult() *sample.Result {
	rec := core.NewRecord(2)
	rec.Set("NUMBER", core.Number("123"))
	rec.Set("STREET", core.String(strings.Repeat("Long Street Name ", 5)))
	empty := core.NewRecord(2)
	empty.Set("NUMBER", core.Null())
	return &sample.Result{
		Data:     "http://example.com/a.tsv",
		Protocol: "http",
		Conform:  sample.Conform{Type: "csv", CSVSplit: "\t"},
		Fields:   []string{"NUMBER", "STREET"},
		Records:  []core.Record{rec, empty},
	}
}

func TestPrintSample(t *testing.T) {
	var buf bytes.Buffer
	PrintSample(&buf, testResult(), 120*time.Millisecond)
	out := buf.String()

	for _, want := range []string{"http://example.com/a.tsv", "NUMBER", "STREET", "123", `split "\t"`, "2 records", "120ms"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, strings.Repeat("Long Street Name ", 3)) {
		t.Error("long values should be truncated")
	}
}

func TestPrintError(t *testing.T) {
	var buf bytes.Buffer
	PrintError(&buf, "http://example.com/a.zip", errors.Undetermined("http://example.com/a.zip"))
	if !strings.Contains(buf.String(), "UndeterminedFormat:") {
		t.Errorf("error kind not shown: %s", buf.String())
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"exactly ten", 11, "exactly ten"},
		{"a line\nbreak", 20, "a line break"},
		{"straße straße", 8, "straße …"},
	}
	for _, tt := range tests {
		if got := truncate(tt.in, tt.n); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}

func TestFormatBytes(t *testing.T) {
	tests := map[int64]string{512: "512 B", 2048: "2.0 KB", 5 << 20: "5.0 MB"}
	for in, want := range tests {
		if got := formatBytes(in); got != want {
			t.Errorf("formatBytes(%d) = %q, want %q", in, got, want)
		}
	}
}
