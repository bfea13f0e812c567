// Package server provides the HTTP API for sampling and downloading sources.
package server

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/openaddresses/submit-service-sub000/pkg/defaults/metrics"
	"github.com/openaddresses/submit-service-sub000/pkg/errors"
	"github.com/openaddresses/submit-service-sub000/pkg/ingest/core"
	"github.com/openaddresses/submit-service-sub000/pkg/interfaces"
	"github.com/openaddresses/submit-service-sub000/pkg/lifecycle"
	"github.com/openaddresses/submit-service-sub000/pkg/metadata"
	"github.com/openaddresses/submit-service-sub000/pkg/sample"
	"github.com/openaddresses/submit-service-sub000/pkg/telemetry"
)

// RequestIDHeader carries the request ID in both directions.
const RequestIDHeader = "X-Request-Id"

// Sampler previews a source.
type Sampler interface {
	Sample(ctx context.Context, raw string, window core.Window) (*sample.Result, error)
}

// Downloads opens the processed data of a source.
type Downloads interface {
	Open(ctx context.Context, source string, format core.Format) (*metadata.File, error)
}

// Server handles HTTP requests.
type Server struct {
	sampler     Sampler
	downloads   Downloads
	downloadErr error
	defaultSize int

	shutdown *lifecycle.ShutdownManager
	logger   *slog.Logger
	metrics  interfaces.MetricsExporter
	mux      *http.ServeMux
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithMetrics sets the metrics exporter.
func WithMetrics(m interfaces.MetricsExporter) Option {
	return func(s *Server) { s.metrics = m }
}

// WithShutdown enables in-flight tracking and drain-aware health checks.
func WithShutdown(m *lifecycle.ShutdownManager) Option {
	return func(s *Server) { s.shutdown = m }
}

// WithDefaultSize sets the window size used when a request omits size.
func WithDefaultSize(n int) Option {
	return func(s *Server) { s.defaultSize = n }
}

// WithDownloads enables /download/. A non-nil unavailable error is the
// configuration problem found at startup; the route then answers with it
// without doing any work.
func WithDownloads(d Downloads, unavailable error) Option {
	return func(s *Server) {
		s.downloads = d
		s.downloadErr = unavailable
	}
}

// NewServer creates a new HTTP server.
func NewServer(sampler Sampler, opts ...Option) *Server {
	s := &Server{
		sampler:     sampler,
		defaultSize: 10,
		logger:      telemetry.Discard(),
		metrics:     metrics.NewNoopMetrics(),
		mux:         http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.downloads == nil && s.downloadErr == nil {
		s.downloadErr = errors.Configuration("downloads are not configured")
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures HTTP handlers.
func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/sample", s.tracked("sample", s.handleSample))
	s.mux.HandleFunc("/download/", s.tracked("download", s.handleDownload))
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		jsonError(w, http.StatusNotFound, "Not found")
	})
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+RequestIDHeader)

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	s.mux.ServeHTTP(w, r)
}

// requestLog accumulates the fields of the per-request log line.
type requestLog struct {
	attrs  []slog.Attr
	errMsg string
}

func (l *requestLog) add(attrs ...slog.Attr) { l.attrs = append(l.attrs, attrs...) }

type handler func(ctx context.Context, rw *responder, r *http.Request, log *requestLog)

// tracked wraps a route with request IDs, in-flight tracking, metrics and
// the completion log line.
func (s *Server) tracked(route string, h handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set(RequestIDHeader, id)
		rw := newResponder(w)
		log := &requestLog{}

		if r.Method != http.MethodGet {
			rw.json(http.StatusMethodNotAllowed, errorBody{Error: errorDetail{
				Code: http.StatusMethodNotAllowed, Message: "Method not allowed",
			}})
		} else if s.shutdown != nil && !s.shutdown.StartRequest() {
			rw.json(http.StatusServiceUnavailable, errorBody{Error: errorDetail{
				Code: http.StatusServiceUnavailable, Message: "server is shutting down",
			}})
		} else {
			if s.shutdown != nil {
				defer s.shutdown.EndRequest()
				s.metrics.Gauge(interfaces.MetricInFlight, float64(s.shutdown.InFlightCount()), nil)
			}
			h(r.Context(), rw, r, log)
		}

		status, failure := rw.result()
		s.metrics.Counter(interfaces.MetricHTTPRequests, 1, map[string]string{
			interfaces.TagRoute:  route,
			interfaces.TagStatus: strconv.Itoa(status),
		})

		attrs := append([]slog.Attr{
			slog.String("request_id", id),
			slog.String("route", route),
			slog.Int("status", status),
			slog.Duration("duration", time.Since(start)),
		}, log.attrs...)
		if failure != nil {
			attrs = append(attrs, slog.String("kind", failure.Kind.String()), slog.String("error", failure.Error()))
			if detail := failure.ContextString(); detail != "" {
				attrs = append(attrs, slog.String("context", detail))
			}
		} else if log.errMsg != "" {
			attrs = append(attrs, slog.String("error", log.errMsg))
		}
		level := slog.LevelInfo
		if status >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		s.logger.LogAttrs(r.Context(), level, "request", attrs...)
	}
}

// handleSample previews the source named by the source parameter.
func (s *Server) handleSample(ctx context.Context, rw *responder, r *http.Request, log *requestLog) {
	q := r.URL.Query()
	source := q.Get("source")
	log.add(slog.String("source", source))
	if strings.TrimSpace(source) == "" {
		rw.fail(errors.New(errors.KindInvalidSource, "'source' parameter is required"))
		return
	}

	size, err := windowParam(q.Get("size"), s.defaultSize, "size")
	if err != nil {
		rw.fail(err)
		return
	}
	offset, err := windowParam(q.Get("offset"), 0, "offset")
	if err != nil {
		rw.fail(err)
		return
	}

	res, err := s.sampler.Sample(ctx, source, core.Window{Size: size, Offset: offset})
	if err != nil {
		rw.fail(err)
		return
	}
	log.add(
		slog.String("protocol", res.Protocol),
		slog.String("format", res.Conform.Type),
		slog.Int("records", len(res.Records)),
	)
	rw.json(http.StatusOK, res)
}

// windowParam parses a non-negative integer query parameter.
func windowParam(raw string, def int, name string) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.Newf(errors.KindInvalidSource, "invalid %s parameter", name).WithContext(name, raw)
	}
	return n, nil
}

// handleDownload streams the processed data for the source at the path.
func (s *Server) handleDownload(ctx context.Context, rw *responder, r *http.Request, log *requestLog) {
	if s.downloadErr != nil {
		rw.fail(s.downloadErr)
		return
	}

	format, err := metadata.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		rw.fail(err)
		return
	}
	source, err := metadata.NormalizePath(strings.TrimPrefix(r.URL.Path, "/download/"))
	if err != nil {
		rw.fail(err)
		return
	}
	log.add(slog.String("source", source), slog.String("format", format.ConformType()))

	f, err := s.downloads.Open(ctx, source, format)
	if err != nil {
		rw.fail(err)
		return
	}
	defer f.Close()

	h := rw.w.Header()
	h.Set("Content-Type", metadata.ContentType(format))
	h.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", f.Name))
	if f.Size >= 0 {
		h.Set("Content-Length", strconv.FormatInt(f.Size, 10))
	}
	if !rw.stream(http.StatusOK) {
		return
	}
	n, err := io.Copy(rw.w, f)
	log.add(slog.String("entry", f.Name), slog.Int64("bytes", n))
	if err != nil {
		// Headers are gone; the client sees a truncated body.
		log.errMsg = err.Error()
	}
}

// handleHealth reports 503 while draining so load balancers stop routing.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.shutdown != nil && s.shutdown.IsDraining() {
		jsonResponse(w, http.StatusServiceUnavailable, map[string]string{"status": "draining"})
		return
	}
	jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}
