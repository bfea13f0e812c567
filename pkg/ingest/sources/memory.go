package sources

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/openaddresses/submit-service-sub000/pkg/errors"
	"github.com/openaddresses/submit-service-sub000/pkg/ingest/core"
)

// MemoryOpener serves sources from memory, keyed by URI. It records every
// open so tests can check windows and that streams were closed.
type MemoryOpener struct {
	mu      sync.Mutex
	data    map[string][]byte
	readers map[string]func() io.Reader
	opened  []core.Window
	open    int
}

// NewMemoryOpener creates an empty opener.
func NewMemoryOpener() *MemoryOpener {
	return &MemoryOpener{
		data:    make(map[string][]byte),
		readers: make(map[string]func() io.Reader),
	}
}

// Add registers data under uri.
func (m *MemoryOpener) Add(uri string, data []byte) *MemoryOpener {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[uri] = data
	return m
}

// AddReader registers a reader factory under uri, for streams that should
// misbehave part way through.
func (m *MemoryOpener) AddReader(uri string, fn func() io.Reader) *MemoryOpener {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readers[uri] = fn
	return m
}

// Open returns the registered bytes, or an Upstream 404 for unknown URIs.
func (m *MemoryOpener) Open(ctx context.Context, src core.SourceDescriptor, window core.Window) (*core.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Transport(src.Redacted(), err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var r io.Reader
	size := int64(-1)
	if data, ok := m.data[src.String()]; ok {
		r = bytes.NewReader(data)
		size = int64(len(data))
	} else if fn, ok := m.readers[src.String()]; ok {
		r = fn()
	} else {
		return nil, errors.Upstream(src.Redacted(), 404, "not found")
	}

	m.opened = append(m.opened, window)
	m.open++
	return &core.Stream{
		ReadCloser: &memoryStream{r: r, m: m},
		Size:       size,
	}, nil
}

// Windows returns the windows passed to Open, in order.
func (m *MemoryOpener) Windows() []core.Window {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]core.Window(nil), m.opened...)
}

// OpenStreams reports how many opened streams have not been closed.
func (m *MemoryOpener) OpenStreams() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.open
}

type memoryStream struct {
	r    io.Reader
	m    *MemoryOpener
	once sync.Once
}

func (s *memoryStream) Read(p []byte) (int, error) { return s.r.Read(p) }

func (s *memoryStream) Close() error {
	s.once.Do(func() {
		if c, ok := s.r.(io.Closer); ok {
			c.Close()
		}
		s.m.mu.Lock()
		s.m.open--
		s.m.mu.Unlock()
	})
	return nil
}

var _ core.Opener = (*MemoryOpener)(nil)
