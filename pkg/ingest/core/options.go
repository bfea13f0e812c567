package core

import (
	"context"
	"io"
)

// Stager materializes a stream to local disk for decoders that need random
// access. Staged files live until the owning scope is closed.
type Stager interface {
	Stage(ctx context.Context, name string, r io.Reader) (path string, err error)
}

// DecodeOptions configures decoder construction.
type DecodeOptions struct {
	// Delimiter for delimited text (default ',').
	Delimiter rune

	// Stager for decoders that cannot stream (DBF).
	Stager Stager
}

// DefaultDecodeOptions returns sensible defaults.
func DefaultDecodeOptions() DecodeOptions {
	return DecodeOptions{
		Delimiter: ',',
	}
}

// Option is a functional option for DecodeOptions.
type Option func(*DecodeOptions)

// WithDelimiter sets the delimited-text separator.
func WithDelimiter(d rune) Option {
	return func(o *DecodeOptions) {
		if d != 0 {
			o.Delimiter = d
		}
	}
}

// WithStager sets the disk stager.
func WithStager(s Stager) Option {
	return func(o *DecodeOptions) {
		o.Stager = s
	}
}

// Apply applies functional options to DecodeOptions.
func (o *DecodeOptions) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(o)
	}
}
