// Package sample assembles the sampling pipeline: classify, open, unpack,
// decode and limit.
package sample

import (
	"context"
	stderrors "errors"
	"io"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/openaddresses/submit-service-sub000/pkg/defaults/metrics"
	"github.com/openaddresses/submit-service-sub000/pkg/errors"
	"github.com/openaddresses/submit-service-sub000/pkg/ingest/archive"
	"github.com/openaddresses/submit-service-sub000/pkg/ingest/core"
	"github.com/openaddresses/submit-service-sub000/pkg/ingest/decoders"
	"github.com/openaddresses/submit-service-sub000/pkg/ingest/detect"
	"github.com/openaddresses/submit-service-sub000/pkg/ingest/limit"
	"github.com/openaddresses/submit-service-sub000/pkg/ingest/tempfs"
	"github.com/openaddresses/submit-service-sub000/pkg/interfaces"
	"github.com/openaddresses/submit-service-sub000/pkg/telemetry"
)

// Options bounds every sample the engine takes.
type Options struct {
	// Timeout covers connect and transfer; 0 disables it.
	Timeout time.Duration

	// MaxSize clamps the requested window size; 0 means no clamp.
	MaxSize int

	// TempDir is where request scopes are created (os.TempDir() when empty).
	TempDir string

	// Delimiter overrides the suffix-implied delimiter for delimited text.
	Delimiter rune
}

// DefaultOptions returns the engine defaults.
func DefaultOptions() Options {
	return Options{
		Timeout: 30 * time.Second,
		MaxSize: 1000,
	}
}

// Engine samples sources. It holds no per-request state and is safe for
// concurrent use.
type Engine struct {
	opener   core.Opener
	registry *decoders.Registry
	opts     Options
	logger   *slog.Logger
	metrics  interfaces.MetricsExporter
	tracer   trace.Tracer
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// WithMetrics sets the metrics exporter.
func WithMetrics(m interfaces.MetricsExporter) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// WithTracer sets the tracer used for pipeline spans.
func WithTracer(t trace.Tracer) EngineOption {
	return func(e *Engine) { e.tracer = t }
}

// WithRegistry replaces the decoder registry.
func WithRegistry(r *decoders.Registry) EngineOption {
	return func(e *Engine) { e.registry = r }
}

// New creates an engine that opens sources through opener.
func New(opener core.Opener, opts Options, options ...EngineOption) *Engine {
	e := &Engine{
		opener:   opener,
		registry: decoders.DefaultRegistry,
		opts:     opts,
		logger:   telemetry.Discard(),
		metrics:  metrics.NewNoopMetrics(),
		tracer:   telemetry.Tracer(),
	}
	for _, opt := range options {
		opt(e)
	}
	return e
}

// Sample classifies raw and previews it.
func (e *Engine) Sample(ctx context.Context, raw string, window core.Window) (*Result, error) {
	src, err := detect.Classify(raw)
	if err != nil {
		e.record(ctx, raw, "", time.Now(), 0, err)
		return nil, err
	}
	return e.SampleSource(ctx, src, window)
}

// SampleSource previews an already classified source. Reaching the window
// size is a normal, successful end.
func (e *Engine) SampleSource(ctx context.Context, src core.SourceDescriptor, window core.Window) (*Result, error) {
	start := time.Now()
	window = e.clamp(window)

	ctx, span := e.tracer.Start(ctx, "sample",
		trace.WithAttributes(
			attribute.String("source", src.Redacted()),
			attribute.String("protocol", src.Protocol()),
			attribute.Int("size", window.Size),
			attribute.Int("offset", window.Offset),
		))
	defer span.End()

	res, err := e.run(ctx, src, window)
	if err != nil {
		telemetry.RecordError(ctx, err)
		e.record(ctx, src.Redacted(), src.Protocol(), start, 0, err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("records", len(res.Records)))
	e.record(ctx, src.Redacted(), src.Protocol(), start, len(res.Records), nil)
	return res, nil
}

func (e *Engine) clamp(w core.Window) core.Window {
	if w.Size < 0 {
		w.Size = 0
	}
	if w.Offset < 0 {
		w.Offset = 0
	}
	if e.opts.MaxSize > 0 && w.Size > e.opts.MaxSize {
		w.Size = e.opts.MaxSize
	}
	return w
}

func (e *Engine) run(ctx context.Context, src core.SourceDescriptor, window core.Window) (*Result, error) {
	if e.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.Timeout)
		defer cancel()
	}

	scope, err := tempfs.NewScope(e.opts.TempDir)
	if err != nil {
		return nil, err
	}
	defer scope.Close()

	stream, err := e.open(ctx, src, window)
	if err != nil {
		return nil, e.settle(ctx, src, err)
	}
	// A timeout closes the stream under a blocked read.
	stop := context.AfterFunc(ctx, func() { stream.Close() })
	defer stop()
	defer func() {
		if cerr := stream.Close(); cerr != nil {
			e.logger.DebugContext(ctx, "stream close", "source", src.Redacted(), "error", cerr)
		}
	}()

	// ESRI servers apply the offset themselves.
	lim := limit.New(window.Size, window.Offset)
	if src.Format() == core.FormatESRI {
		lim = limit.New(window.Size, 0)
	}

	res := newResult(src)
	if src.Compression() == core.CompressionZip {
		err = e.decodeArchive(ctx, src, stream, lim, res, scope)
	} else {
		err = e.decode(ctx, src.Format(), src.Delimiter(), stream, lim, scope)
	}

	if core.Stopped(err) {
		e.logger.DebugContext(ctx, "sample cap reached", "source", src.Redacted(), "records", len(lim.Records()))
		err = nil
	}
	if err != nil {
		return nil, e.settle(ctx, src, err)
	}

	res.Fields = lim.FieldNames()
	res.Records = lim.Records()
	return res, nil
}

func (e *Engine) open(ctx context.Context, src core.SourceDescriptor, window core.Window) (*core.Stream, error) {
	ctx, span := e.tracer.Start(ctx, "sample.open",
		trace.WithAttributes(attribute.String("transport", src.Transport().String())))
	defer span.End()

	stream, err := e.opener.Open(ctx, src, window)
	if err != nil {
		telemetry.RecordError(ctx, err)
		return nil, err
	}
	e.logger.DebugContext(ctx, "transport opened", "source", src.Redacted(), "content_type", stream.ContentType)
	return stream, nil
}

func (e *Engine) decode(ctx context.Context, f core.Format, delimiter rune, r io.Reader, out core.Emitter, scope *tempfs.Scope) error {
	if f == core.FormatDelimited && e.opts.Delimiter != 0 {
		delimiter = e.opts.Delimiter
	}
	dec, err := e.registry.New(f, core.WithDelimiter(delimiter), core.WithStager(scope))
	if err != nil {
		return err
	}

	ctx, span := e.tracer.Start(ctx, "sample.decode", trace.WithAttributes(attribute.String("decoder", dec.Name())))
	defer span.End()

	tr := core.Track(out)
	err = tr.Finish(dec.Decode(ctx, r, tr))
	span.SetAttributes(attribute.String("decoder.state", tr.State().String()))
	e.logger.DebugContext(ctx, "decoder finished", "decoder", dec.Name(), "state", tr.State().String())
	if err != nil && !core.Stopped(err) {
		telemetry.RecordError(ctx, err)
	}
	return err
}

// decodeArchive samples the first entry whose name has a supported suffix.
// Entries before it are drained unread.
func (e *Engine) decodeArchive(ctx context.Context, src core.SourceDescriptor, r io.Reader, out core.Emitter, res *Result, scope *tempfs.Scope) error {
	zr := archive.NewReader(r)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		entry, err := zr.Next()
		if err == io.EOF {
			return errors.Undetermined(src.Redacted())
		}
		if err != nil {
			return err
		}

		format, delimiter, ok := detect.ClassifyEntry(entry.Name)
		if !ok {
			e.logger.DebugContext(ctx, "draining archive entry", "source", src.Redacted(), "entry", entry.Name)
			continue
		}

		e.logger.DebugContext(ctx, "archive entry matched", "source", src.Redacted(), "entry", entry.Name, "format", format.String())
		telemetry.AddSpanEvent(ctx, "archive entry matched", attribute.String("entry", entry.Name))
		if format == core.FormatDelimited && e.opts.Delimiter != 0 {
			delimiter = e.opts.Delimiter
		}
		res.setConform(format, delimiter, entry.Name)
		return e.decode(ctx, format, delimiter, entry, out, scope)
	}
}

// settle turns a pipeline failure into the error reported to the caller.
// Once the deadline has passed, whatever the stages reported is a
// consequence of the stream being torn down.
func (e *Engine) settle(ctx context.Context, src core.SourceDescriptor, err error) error {
	if cerr := ctx.Err(); cerr != nil {
		if stderrors.Is(cerr, context.DeadlineExceeded) {
			return errors.Wrapf(cerr, errors.KindTransport, "timed out sampling %s", src.Redacted())
		}
		return errors.Classify(cerr)
	}
	return errors.Classify(err)
}

func (e *Engine) record(ctx context.Context, source, protocol string, start time.Time, records int, err error) {
	elapsed := time.Since(start)
	tags := map[string]string{interfaces.TagProtocol: protocol}
	e.metrics.Counter(interfaces.MetricSampleTotal, 1, tags)
	e.metrics.Timer(interfaces.MetricSampleDuration, elapsed, tags)

	if err != nil {
		kind := errors.KindOf(err)
		e.metrics.Counter(interfaces.MetricSampleErrors, 1, map[string]string{interfaces.TagKind: kind.String()})
		e.logger.DebugContext(ctx, "sample failed",
			"source", source,
			"protocol", protocol,
			"duration", elapsed,
			"kind", kind.String(),
			"error", err.Error(),
		)
		return
	}

	e.metrics.Histogram(interfaces.MetricSampleRecords, float64(records), tags)
	e.logger.DebugContext(ctx, "sample complete",
		"source", source,
		"protocol", protocol,
		"duration", elapsed,
		"records", records,
	)
}
