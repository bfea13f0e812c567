package metadata

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/openaddresses/submit-service-sub000/pkg/defaults/metrics"
	"github.com/openaddresses/submit-service-sub000/pkg/errors"
	"github.com/openaddresses/submit-service-sub000/pkg/ingest/archive"
	"github.com/openaddresses/submit-service-sub000/pkg/ingest/core"
	"github.com/openaddresses/submit-service-sub000/pkg/ingest/detect"
	"github.com/openaddresses/submit-service-sub000/pkg/interfaces"
	"github.com/openaddresses/submit-service-sub000/pkg/telemetry"
)

// Fetcher retrieves a URL as a byte stream.
type Fetcher interface {
	Get(ctx context.Context, u *url.URL) (*core.Stream, error)
}

// ParseFormat validates a requested download format. Empty means csv.
func ParseFormat(s string) (core.Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "csv":
		return core.FormatDelimited, nil
	case "geojson":
		return core.FormatGeoJSON, nil
	default:
		return core.FormatUnknown, errors.Newf(errors.KindUnsupportedType, "Unsupported output format: %s", s).
			WithContext("format", s)
	}
}

// ContentType returns the media type served for a download format.
func ContentType(f core.Format) string {
	if f == core.FormatGeoJSON {
		return "application/geo+json"
	}
	return "text/csv"
}

// NormalizePath turns a request path into the index key: surrounding
// slashes removed and dot segments resolved. Paths escaping the root are
// rejected.
func NormalizePath(p string) (string, error) {
	trimmed := strings.Trim(strings.TrimSpace(p), "/")
	if trimmed == "" {
		return "", errors.New(errors.KindInvalidSource, "source path is required")
	}
	for _, seg := range strings.Split(trimmed, "/") {
		if seg == ".." {
			return "", errors.Newf(errors.KindInvalidSource, "invalid source path: %s", p)
		}
	}
	return strings.TrimPrefix(path.Clean("/"+trimmed), "/"), nil
}

// Downloader streams the data file of a source's last processed run.
type Downloader struct {
	fetcher Fetcher
	index   *url.URL
	logger  *slog.Logger
	metrics interfaces.MetricsExporter
}

// Option configures a Downloader.
type Option func(*Downloader)

// WithLogger sets the downloader logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Downloader) { d.logger = l }
}

// WithMetrics sets the metrics exporter.
func WithMetrics(m interfaces.MetricsExporter) Option {
	return func(d *Downloader) { d.metrics = m }
}

// NewDownloader creates a downloader reading the index at indexURL.
func NewDownloader(fetcher Fetcher, indexURL string, opts ...Option) (*Downloader, error) {
	if strings.TrimSpace(indexURL) == "" {
		return nil, errors.Configuration("metadata index URL is not configured")
	}
	u, err := url.Parse(indexURL)
	if err != nil || u.Host == "" {
		return nil, errors.Configuration(fmt.Sprintf("invalid metadata index URL %q", indexURL))
	}

	d := &Downloader{
		fetcher: fetcher,
		index:   u,
		logger:  telemetry.Discard(),
		metrics: metrics.NewNoopMetrics(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Lookup finds the processed run for source in the index.
func (d *Downloader) Lookup(ctx context.Context, source string) (Run, error) {
	stream, err := d.fetcher.Get(ctx, d.index)
	if err != nil {
		return Run{}, err
	}
	defer stream.Close()

	run, ok, err := Lookup(ctx, stream, source)
	if err != nil {
		return Run{}, err
	}
	if !ok || run.Processed == "" {
		return Run{}, errors.Newf(errors.KindInvalidSource, "Unable to find processed run for %s", source).
			WithContext("source", source)
	}
	return run, nil
}

// Open resolves source and returns the first archive entry of the
// requested format. The caller must close the returned File.
func (d *Downloader) Open(ctx context.Context, source string, format core.Format) (*File, error) {
	start := time.Now()
	tags := map[string]string{interfaces.TagFormat: format.ConformType()}
	d.metrics.Counter(interfaces.MetricDownloadTotal, 1, tags)

	f, err := d.open(ctx, source, format)
	if err != nil {
		kind := errors.KindOf(err)
		d.metrics.Counter(interfaces.MetricDownloadErrors, 1, map[string]string{interfaces.TagKind: kind.String()})
		d.logger.DebugContext(ctx, "download failed", "source", source, "kind", kind.String(), "error", err.Error())
		return nil, err
	}
	f.done = func(n int64) {
		d.metrics.Counter(interfaces.MetricDownloadBytes, n, tags)
		d.logger.DebugContext(ctx, "download complete",
			"source", source,
			"entry", f.Name,
			"bytes", n,
			"duration", time.Since(start),
		)
	}
	return f, nil
}

func (d *Downloader) open(ctx context.Context, source string, format core.Format) (*File, error) {
	run, err := d.Lookup(ctx, source)
	if err != nil {
		return nil, err
	}
	u, err := url.Parse(run.Processed)
	if err != nil || u.Host == "" {
		return nil, errors.InvalidSource(run.Processed, err)
	}

	stream, err := d.fetcher.Get(ctx, u)
	if err != nil {
		return nil, err
	}

	zr := archive.NewReader(stream)
	for {
		entry, err := zr.Next()
		if err == io.EOF {
			stream.Close()
			return nil, errors.Newf(errors.KindUndeterminedFormat, "Unable to find %s file in %s",
				format.ConformType(), u.Redacted())
		}
		if err != nil {
			stream.Close()
			return nil, err
		}
		if matches(entry.Name, format) {
			d.logger.DebugContext(ctx, "download entry matched", "source", source, "entry", entry.Name)
			return &File{
				Name:      path.Base(entry.Name),
				Source:    source,
				Processed: u.Redacted(),
				Format:    format,
				Size:      entry.Size,
				r:         entry,
				closer:    stream,
			}, nil
		}
	}
}

// matches reports whether an archive entry holds data of the requested
// format. Only comma-separated files count as csv.
func matches(name string, format core.Format) bool {
	f, delim, ok := detect.ClassifyEntry(name)
	if !ok || f != format {
		return false
	}
	return f != core.FormatDelimited || delim == ','
}

// File is the data file of a processed run, read straight out of the
// remote archive.
type File struct {
	Name      string
	Source    string
	Processed string
	Format    core.Format
	// Size is the uncompressed size, or -1 when unknown.
	Size int64

	r      io.Reader
	closer io.Closer
	n      int64
	once   sync.Once
	done   func(int64)
}

func (f *File) Read(p []byte) (int, error) {
	n, err := f.r.Read(p)
	f.n += int64(n)
	return n, err
}

// Close aborts the transfer if it has not finished.
func (f *File) Close() error {
	var err error
	f.once.Do(func() {
		err = f.closer.Close()
		if f.done != nil {
			f.done(f.n)
		}
	})
	return err
}
