// Package tempfs provides per-request scratch storage that is removed when
// the request finishes, however it finishes.
package tempfs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/openaddresses/submit-service-sub000/pkg/errors"
)

// Scope owns a private temporary directory. It is not shared between requests.
type Scope struct {
	mu     sync.Mutex
	dir    string
	files  int
	closed bool
}

// NewScope creates a scope under base (os.TempDir() when empty).
func NewScope(base string) (*Scope, error) {
	if base != "" {
		if err := os.MkdirAll(base, 0o755); err != nil {
			return nil, errors.Wrap(err, errors.KindInternal, "failed to create temp base directory")
		}
	}
	dir, err := os.MkdirTemp(base, "sample-*")
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "failed to create temp directory")
	}
	return &Scope{dir: dir}, nil
}

// Dir returns the scope directory.
func (s *Scope) Dir() string { return s.dir }

// Create opens a new file inside the scope. name is reduced to its base name.
func (s *Scope) Create(name string) (*os.File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, errors.New(errors.KindInternal, "temp scope already closed")
	}
	s.files++
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if base == "." || base == "/" || base == "" {
		base = "entry"
	}
	path := filepath.Join(s.dir, fmt.Sprintf("%03d-%s", s.files, base))
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "failed to create temp file")
	}
	return f, nil
}

// Stage copies r into a new file and returns its path. The copy stops when
// ctx is done.
func (s *Scope) Stage(ctx context.Context, name string, r io.Reader) (string, error) {
	f, err := s.Create(name)
	if err != nil {
		return "", err
	}

	_, copyErr := io.Copy(f, contextReader{ctx: ctx, r: r})
	closeErr := f.Close()
	if copyErr != nil {
		return "", copyErr
	}
	if closeErr != nil {
		return "", errors.Wrap(closeErr, errors.KindInternal, "failed to write temp file")
	}
	return f.Name(), nil
}

// Close removes the scope directory and everything in it. It is safe to
// call more than once.
func (s *Scope) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if err := os.RemoveAll(s.dir); err != nil {
		return errors.Wrap(err, errors.KindInternal, "failed to remove temp directory")
	}
	return nil
}

type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
