package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestKind_Status(t *testing.T) {
	tests := []struct {
		kind     Kind
		expected int
	}{
		{KindInvalidSource, http.StatusBadRequest},
		{KindUnsupportedType, http.StatusBadRequest},
		{KindTransport, http.StatusBadRequest},
		{KindAuthentication, http.StatusBadRequest},
		{KindUpstream, http.StatusBadRequest},
		{KindRemoteApplication, http.StatusBadRequest},
		{KindMalformedPayload, http.StatusBadRequest},
		{KindUndeterminedFormat, http.StatusBadRequest},
		{KindConfiguration, http.StatusInternalServerError},
		{KindInternal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		if got := tt.kind.Status(); got != tt.expected {
			t.Errorf("%s.Status() = %d, want %d", tt.kind, got, tt.expected)
		}
	}
}

func TestKind_String(t *testing.T) {
	if KindUpstream.String() != "UpstreamError" {
		t.Errorf("unexpected name %q", KindUpstream.String())
	}
	if Kind(99).String() != "InternalError" {
		t.Errorf("unknown kinds should render as InternalError, got %q", Kind(99).String())
	}
}

func TestUpstream_Body(t *testing.T) {
	withBody := Upstream("http://example.com/a.csv", 404, "not found\n")
	if withBody.Error() != "error retrieving file http://example.com/a.csv: not found (404)" {
		t.Errorf("unexpected message: %q", withBody.Error())
	}

	withoutBody := Upstream("http://example.com/a.csv", 404, "")
	if withoutBody.Error() != "error retrieving file http://example.com/a.csv: (404)" {
		t.Errorf("unexpected message: %q", withoutBody.Error())
	}
}

func TestTransport_KeepsCause(t *testing.T) {
	cause := fmt.Errorf("dial tcp 127.0.0.1:1: connect: connection refused")
	err := Transport("http://127.0.0.1:1/", cause)

	if !errors.Is(err, cause) {
		t.Error("cause should be reachable through Unwrap")
	}
	want := "error connecting to http://127.0.0.1:1/: dial tcp 127.0.0.1:1: connect: connection refused"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}

func TestIs_MatchesKind(t *testing.T) {
	err := fmt.Errorf("stage: %w", Malformed("csv", fmt.Errorf("bad row")))
	if !errors.Is(err, New(KindMalformedPayload, "")) {
		t.Error("errors.Is should match by kind")
	}
	if errors.Is(err, New(KindTransport, "")) {
		t.Error("errors.Is should not match a different kind")
	}
	if !IsKind(err, KindMalformedPayload) {
		t.Error("IsKind should see through wrapping")
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind Kind
	}{
		{"typed", Authentication("ftp://x", fmt.Errorf("530")), KindAuthentication},
		{"wrapped typed", fmt.Errorf("outer: %w", Undetermined("http://x/a.zip")), KindUndeterminedFormat},
		{"deadline", fmt.Errorf("read: %w", context.DeadlineExceeded), KindTransport},
		{"canceled", context.Canceled, KindInternal},
		{"plain", fmt.Errorf("boom"), KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err)
			if got.Kind != tt.kind {
				t.Errorf("Classify(%v).Kind = %s, want %s", tt.err, got.Kind, tt.kind)
			}
		})
	}

	if Classify(nil) != nil {
		t.Error("Classify(nil) should be nil")
	}
}

func TestPipelineStage(t *testing.T) {
	if !KindMalformedPayload.PipelineStage() {
		t.Error("MalformedPayload is produced by a decoding stage")
	}
	if KindUnsupportedType.PipelineStage() {
		t.Error("UnsupportedType is produced before any bytes are read")
	}
	if KindConfiguration.PipelineStage() {
		t.Error("ConfigurationError is not a pipeline stage error")
	}
}

func TestContextString(t *testing.T) {
	err := New(KindUpstream, "x").WithContext("b", 2).WithContext("a", 1)
	if got := err.ContextString(); got != "a=1 b=2" {
		t.Errorf("got %q", got)
	}
}
