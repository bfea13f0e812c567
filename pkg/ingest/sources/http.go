package sources

import (
	"context"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/openaddresses/submit-service-sub000/pkg/errors"
	"github.com/openaddresses/submit-service-sub000/pkg/ingest/core"
)

// maxUpstreamBody bounds how much of a text/plain error body is echoed.
const maxUpstreamBody = 64 * 1024

// HTTPOptions configures the HTTP adapter.
type HTTPOptions struct {
	// Client overrides the HTTP client (tests inject httptest clients).
	Client *http.Client

	// Timeout applies to dial and response headers when Client is nil.
	Timeout time.Duration

	// UserAgent header sent with every request.
	UserAgent string

	// RateLimit caps outbound requests per second; 0 means unlimited.
	RateLimit float64
	RateBurst int

	// Headers added to every request.
	Headers map[string]string
}

// DefaultHTTPOptions returns the options used when none are configured.
func DefaultHTTPOptions() HTTPOptions {
	return HTTPOptions{
		Timeout:   30 * time.Second,
		UserAgent: "submitd",
	}
}

// HTTPAdapter fetches sources over HTTP(S).
type HTTPAdapter struct {
	client    *http.Client
	limiter   *rate.Limiter
	userAgent string
	headers   map[string]string
}

// NewHTTPAdapter creates an HTTP adapter.
func NewHTTPAdapter(opts HTTPOptions) *HTTPAdapter {
	client := opts.Client
	if client == nil {
		timeout := opts.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		// No overall client timeout: bodies are streamed and the request
		// context bounds the transfer.
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.ResponseHeaderTimeout = timeout
		transport.TLSHandshakeTimeout = timeout
		client = &http.Client{Transport: transport}
	}

	limit := rate.Inf
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
	}
	burst := opts.RateBurst
	if burst <= 0 {
		burst = 1
	}

	headers := make(map[string]string, len(opts.Headers))
	for k, v := range opts.Headers {
		headers[k] = v
	}

	return &HTTPAdapter{
		client:    client,
		limiter:   rate.NewLimiter(limit, burst),
		userAgent: opts.UserAgent,
		headers:   headers,
	}
}

// Open fetches src. ESRI services are queried for the requested window
// rather than fetched directly.
func (a *HTTPAdapter) Open(ctx context.Context, src core.SourceDescriptor, window core.Window) (*core.Stream, error) {
	u := src.URL()
	if src.Format() == core.FormatESRI {
		u = ESRIQueryURL(u, window)
	}
	return a.Get(ctx, u)
}

// Get issues a GET and returns the body as a stream. Non-2xx responses
// become Upstream errors; the body text is kept only for text/plain.
func (a *HTTPAdapter) Get(ctx context.Context, u *url.URL) (*core.Stream, error) {
	display := u.Redacted()

	if err := a.limiter.Wait(ctx); err != nil {
		return nil, errors.Transport(display, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, errors.InvalidSource(display, err)
	}
	if a.userAgent != "" {
		req.Header.Set("User-Agent", a.userAgent)
	}
	for k, v := range a.headers {
		req.Header.Set(k, v)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, errors.Transport(display, unwrapURLError(err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		body := ""
		if isPlainText(resp.Header.Get("Content-Type")) {
			b, _ := io.ReadAll(io.LimitReader(resp.Body, maxUpstreamBody))
			body = strings.TrimSpace(string(b))
		}
		return nil, errors.Upstream(display, resp.StatusCode, body).
			WithContext("content_type", resp.Header.Get("Content-Type"))
	}

	return &core.Stream{
		ReadCloser:  &transportBody{rc: resp.Body, uri: display},
		ContentType: resp.Header.Get("Content-Type"),
		Size:        resp.ContentLength,
	}, nil
}

func isPlainText(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	return err == nil && mt == "text/plain"
}

// unwrapURLError drops the *url.Error wrapper, whose message repeats the
// method and URL already present in the Transport message.
func unwrapURLError(err error) error {
	if ue, ok := err.(*url.Error); ok {
		return ue.Err
	}
	return err
}

// transportBody reports mid-transfer read failures as Transport errors.
type transportBody struct {
	rc  io.ReadCloser
	uri string
}

func (b *transportBody) Read(p []byte) (int, error) {
	n, err := b.rc.Read(p)
	if err != nil && err != io.EOF {
		return n, errors.Transport(b.uri, err)
	}
	return n, err
}

func (b *transportBody) Close() error {
	return b.rc.Close()
}

var _ core.Opener = (*HTTPAdapter)(nil)
