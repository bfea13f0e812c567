package server

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/openaddresses/submit-service-sub000/pkg/errors"
	"github.com/openaddresses/submit-service-sub000/pkg/ingest/core"
	"github.com/openaddresses/submit-service-sub000/pkg/ingest/sources"
	"github.com/openaddresses/submit-service-sub000/pkg/lifecycle"
	"github.com/openaddresses/submit-service-sub000/pkg/metadata"
	"github.com/openaddresses/submit-service-sub000/pkg/sample"
	"github.com/openaddresses/submit-service-sub000/pkg/telemetry"
)

type fakeSampler struct {
	window core.Window
	calls  int32
	err    error
}

func (f *fakeSampler) Sample(ctx context.Context, raw string, window core.Window) (*sample.Result, error) {
	atomic.AddInt32(&f.calls, 1)
	f.window = window
	if f.err != nil {
		return nil, f.err
	}
	return &sample.Result{
		Coverage: map[string]interface{}{},
		Data:     raw,
		Protocol: "http",
		Conform:  sample.Conform{Type: "csv"},
		Fields:   []string{"id"},
		Records:  []core.Record{},
	}, nil
}

func newEngineServer(t *testing.T, opts ...Option) (*Server, *sources.MemoryOpener) {
	t.Helper()
	mem := sources.NewMemoryOpener()
	engine := sample.New(mem, sample.Options{Timeout: 5 * time.Second, MaxSize: 1000, TempDir: t.TempDir()})
	return NewServer(engine, opts...), mem
}

func get(s *Server, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("GET", target, nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorDetail {
	t.Helper()
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("Expected JSON error, got %q: %s", ct, w.Body.String())
	}
	var body errorBody
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("Invalid JSON response: %v", err)
	}
	return body.Error
}

func TestServer_Health(t *testing.T) {
	m := lifecycle.NewShutdownManager(lifecycle.ShutdownConfig{DrainTimeout: time.Second, Logger: telemetry.Discard()})
	s := NewServer(&fakeSampler{}, WithShutdown(m))

	w := get(s, "/health")
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}
	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Invalid JSON response: %v", err)
	}
	if resp["status"] != "ok" {
		t.Errorf("Expected status 'ok', got %v", resp["status"])
	}

	m.Shutdown(context.Background())
	if w := get(s, "/health"); w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 while draining, got %d", w.Code)
	}
	if w := get(s, "/sample?source=http://example.com/a.csv"); w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected new requests to be refused while draining, got %d", w.Code)
	}
}

func TestServer_Sample(t *testing.T) {
	s, mem := newEngineServer(t)
	mem.Add("http://example.com/a.csv", []byte("id,street\n1,Main St\n2,Oak Ave\n"))

	w := get(s, "/sample?source=http://example.com/a.csv&size=1")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if w.Header().Get(RequestIDHeader) == "" {
		t.Error("response should carry a request ID")
	}

	var res struct {
		Data     string              `json:"data"`
		Protocol string              `json:"protocol"`
		Conform  map[string]string   `json:"conform"`
		Fields   []string            `json:"fields"`
		Records  []map[string]string `json:"records"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("Invalid JSON response: %v", err)
	}
	if res.Conform["type"] != "csv" || len(res.Fields) != 2 {
		t.Errorf("unexpected result %+v", res)
	}
	if len(res.Records) != 1 || res.Records[0]["street"] != "Main St" {
		t.Errorf("unexpected records %v", res.Records)
	}
}

func TestServer_SampleWindowParams(t *testing.T) {
	tests := []struct {
		query   string
		want    core.Window
		message string
	}{
		{"", core.Window{Size: 7}, ""},
		{"&size=3&offset=4", core.Window{Size: 3, Offset: 4}, ""},
		{"&size=0", core.Window{Size: 0}, ""},
		{"&size=abc", core.Window{}, "invalid size parameter"},
		{"&size=-1", core.Window{}, "invalid size parameter"},
		{"&offset=1.5", core.Window{}, "invalid offset parameter"},
	}

	for _, tt := range tests {
		f := &fakeSampler{}
		s := NewServer(f, WithDefaultSize(7))
		w := get(s, "/sample?source=http://example.com/a.csv"+tt.query)

		if tt.message != "" {
			if w.Code != http.StatusBadRequest {
				t.Errorf("%q: Expected 400, got %d", tt.query, w.Code)
			}
			if e := decodeError(t, w); e.Message != tt.message || e.Code != 400 {
				t.Errorf("%q: unexpected error %+v", tt.query, e)
			}
			if f.calls != 0 {
				t.Errorf("%q: sampler must not run on invalid parameters", tt.query)
			}
			continue
		}
		if w.Code != http.StatusOK || f.window != tt.want {
			t.Errorf("%q: status %d window %+v, want %+v", tt.query, w.Code, f.window, tt.want)
		}
	}
}

func TestServer_LogsErrorContext(t *testing.T) {
	var buf bytes.Buffer
	logger, err := telemetry.NewLogger(&buf, "info", "json")
	if err != nil {
		t.Fatal(err)
	}
	f := &fakeSampler{err: errors.Upstream("http://example.com/a.csv", 502, "").WithContext("content_type", "text/html")}
	s := NewServer(f, WithLogger(logger))

	w := get(s, "/sample?source=http://example.com/a.csv")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d", w.Code)
	}
	if strings.Contains(w.Body.String(), "text/html") {
		t.Errorf("context must not reach the client: %q", w.Body.String())
	}

	var line map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("log line is not JSON: %v (%s)", err, buf.String())
	}
	if line["context"] != "content_type=text/html status=502" {
		t.Errorf("unexpected context %v", line["context"])
	}
	if line["kind"] != "UpstreamError" {
		t.Errorf("unexpected kind %v", line["kind"])
	}
}

func TestServer_SampleErrors(t *testing.T) {
	s, mem := newEngineServer(t)
	mem.Add("http://example.com/bad.geojson", []byte(`{"type":"FeatureCollection","features":[{`))

	tests := []struct {
		name   string
		target string
		status int
		plain  bool
		prefix string
	}{
		{"missing source", "/sample", 400, false, "'source' parameter is required"},
		{"unsupported", "/sample?source=http://example.com/a.xlsx", 400, false, "Unsupported type"},
		{"upstream", "/sample?source=http://example.com/missing.csv", 400, true, "error retrieving file http://example.com/missing.csv"},
		{"malformed", "/sample?source=http://example.com/bad.geojson", 400, true, "error parsing geojson"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := get(s, tt.target)
			if w.Code != tt.status {
				t.Fatalf("Expected %d, got %d", tt.status, w.Code)
			}
			if tt.plain {
				if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
					t.Errorf("Expected text/plain, got %q", ct)
				}
				if !strings.HasPrefix(w.Body.String(), tt.prefix) {
					t.Errorf("unexpected body %q", w.Body.String())
				}
				return
			}
			if e := decodeError(t, w); !strings.HasPrefix(e.Message, tt.prefix) {
				t.Errorf("unexpected message %q", e.Message)
			}
		})
	}
}

func TestServer_RequestIDEchoed(t *testing.T) {
	s := NewServer(&fakeSampler{})
	req := httptest.NewRequest("GET", "/sample?source=http://example.com/a.csv", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	if got := w.Header().Get(RequestIDHeader); got != "abc-123" {
		t.Errorf("request ID = %q", got)
	}
}

func TestServer_MethodNotAllowed(t *testing.T) {
	s := NewServer(&fakeSampler{})
	req := httptest.NewRequest("POST", "/sample?source=http://example.com/a.csv", nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405, got %d", w.Code)
	}
}

func TestResponder_RespondsOnce(t *testing.T) {
	w := httptest.NewRecorder()
	rw := newResponder(w)

	if !rw.fail(errors.Transport("http://example.com/a.csv", io.ErrUnexpectedEOF)) {
		t.Fatal("first response should be sent")
	}
	if rw.fail(errors.New(errors.KindMalformedPayload, "second")) {
		t.Error("second response must be suppressed")
	}
	if rw.json(http.StatusOK, map[string]string{"status": "ok"}) {
		t.Error("completion after failure must be suppressed")
	}
	if strings.Contains(w.Body.String(), "second") || strings.Contains(w.Body.String(), "ok") {
		t.Errorf("suppressed responses leaked into body: %q", w.Body.String())
	}
	if status, e := rw.result(); status != 400 || e.Kind != errors.KindTransport {
		t.Errorf("result() = %d %v", status, e)
	}
}

func TestServer_DownloadNotConfigured(t *testing.T) {
	s := NewServer(&fakeSampler{})
	w := get(s, "/download/us/ca/berkeley.json")
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("Expected 500, got %d", w.Code)
	}
	if e := decodeError(t, w); e.Code != 500 {
		t.Errorf("unexpected envelope %+v", e)
	}
}

func newDownloadServer(t *testing.T) (*Server, *int32) {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	fw, _ := zw.Create("berkeley.csv")
	io.WriteString(fw, "LON,LAT\n1,2\n")
	zw.Close()
	archive := buf.Bytes()

	var hits int32
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		switch r.URL.Path {
		case "/state.txt":
			io.WriteString(w, "source\tprocessed\nus/ca/berkeley.json\t"+srv.URL+"/berkeley.zip\n")
		case "/berkeley.zip":
			w.Write(archive)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	d, err := metadata.NewDownloader(sources.NewHTTPAdapter(sources.HTTPOptions{Client: srv.Client()}), srv.URL+"/state.txt")
	if err != nil {
		t.Fatal(err)
	}
	return NewServer(&fakeSampler{}, WithDownloads(d, nil)), &hits
}

func TestServer_Download(t *testing.T) {
	s, _ := newDownloadServer(t)

	w := get(s, "/download/us/ca/berkeley.json")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/csv" {
		t.Errorf("Content-Type = %q", ct)
	}
	if w.Body.String() != "LON,LAT\n1,2\n" {
		t.Errorf("unexpected body %q", w.Body.String())
	}
}

func TestServer_DownloadErrors(t *testing.T) {
	s, hits := newDownloadServer(t)

	w := get(s, "/download/us/ca/berkeley.json?format=shapefile")
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for unsupported format, got %d", w.Code)
	}
	if atomic.LoadInt32(hits) != 0 {
		t.Error("unsupported format must be rejected before any network access")
	}

	w = get(s, "/download/us/ny/nyc.json")
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for unknown source, got %d", w.Code)
	}
	if e := decodeError(t, w); !strings.Contains(e.Message, "us/ny/nyc.json") {
		t.Errorf("unexpected message %q", e.Message)
	}
}
