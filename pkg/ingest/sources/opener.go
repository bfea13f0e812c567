// Package sources opens byte streams for classified sources.
package sources

import (
	"context"

	"github.com/openaddresses/submit-service-sub000/pkg/errors"
	"github.com/openaddresses/submit-service-sub000/pkg/ingest/core"
)

// Opener dispatches to the adapter for a source's transport.
type Opener struct {
	http core.Opener
	ftp  core.Opener
}

// NewOpener creates an opener from the two transport adapters.
func NewOpener(httpAdapter, ftpAdapter core.Opener) *Opener {
	return &Opener{http: httpAdapter, ftp: ftpAdapter}
}

// Open opens src with the adapter matching its transport.
func (o *Opener) Open(ctx context.Context, src core.SourceDescriptor, window core.Window) (*core.Stream, error) {
	switch src.Transport() {
	case core.TransportHTTP:
		if o.http != nil {
			return o.http.Open(ctx, src, window)
		}
	case core.TransportFTP:
		if o.ftp != nil {
			return o.ftp.Open(ctx, src, window)
		}
	}
	return nil, errors.Unsupported(src.Redacted())
}

var _ core.Opener = (*Opener)(nil)
