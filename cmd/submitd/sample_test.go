package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/openaddresses/submit-service-sub000/pkg/errors"
	"github.com/openaddresses/submit-service-sub000/pkg/ingest/core"
	"github.com/openaddresses/submit-service-sub000/pkg/sample"
)

func TestParseDelimiter(t *testing.T) {
	tests := []struct {
		in   string
		want rune
		ok   bool
	}{
		{"", 0, true},
		{",", ',', true},
		{";", ';', true},
		{"tab", '\t', true},
		{`\t`, '\t', true},
		{"::", 0, false},
	}
	for _, tt := range tests {
		got, err := parseDelimiter(tt.in)
		if (err == nil) != tt.ok || got != tt.want {
			t.Errorf("parseDelimiter(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestPrintOutcomes_JSON(t *testing.T) {
	sampleJSON = true
	defer func() { sampleJSON = false }()

	fail := errors.Undetermined("http://example.com/b.zip")
	outcomes := []sampleOutcome{
		{Source: "http://example.com/a.csv", Result: &sample.Result{
			Data: "http://example.com/a.csv", Fields: []string{"id"}, Records: []core.Record{},
		}},
		{Source: "http://example.com/b.zip", Error: fail.Error(), Kind: fail.Kind.String(), err: fail},
	}

	var stdout, stderr bytes.Buffer
	if failed := printOutcomes(&stdout, &stderr, outcomes, 0); failed != 1 {
		t.Errorf("failed = %d, want 1", failed)
	}

	lines := strings.Split(strings.TrimSpace(stdout.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("Expected 2 JSON lines, got %d: %s", len(lines), stdout.String())
	}
	var second map[string]interface{}
	if err := json.Unmarshal([]byte(lines[1]), &second); err != nil {
		t.Fatal(err)
	}
	if second["kind"] != "UndeterminedFormat" || second["result"] != nil {
		t.Errorf("unexpected failure line %v", second)
	}
}
