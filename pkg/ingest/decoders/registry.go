package decoders

import (
	"sort"
	"sync"

	"github.com/openaddresses/submit-service-sub000/pkg/errors"
	"github.com/openaddresses/submit-service-sub000/pkg/ingest/core"
)

// Factory builds a decoder for one run.
type Factory func(opts core.DecodeOptions) core.Decoder

// Registry maps formats to decoder factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[core.Format]Factory
}

// DefaultRegistry holds the built-in decoders.
var DefaultRegistry = NewRegistry()

func init() {
	DefaultRegistry.Register(core.FormatESRI, func(core.DecodeOptions) core.Decoder { return NewESRIDecoder() })
	DefaultRegistry.Register(core.FormatGeoJSON, func(core.DecodeOptions) core.Decoder { return NewGeoJSONDecoder() })
	DefaultRegistry.Register(core.FormatDelimited, func(o core.DecodeOptions) core.Decoder { return NewCSVDecoder(o.Delimiter) })
	DefaultRegistry.Register(core.FormatShapefile, func(o core.DecodeOptions) core.Decoder { return NewDBFDecoder(o.Stager) })
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[core.Format]Factory),
	}
}

// Register sets the factory for format, replacing any previous one.
func (r *Registry) Register(format core.Format, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[format] = factory
}

// New builds a decoder for format.
func (r *Registry) New(format core.Format, opts ...core.Option) (core.Decoder, error) {
	r.mu.RLock()
	factory, ok := r.factories[format]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.Newf(errors.KindUnsupportedType, "no decoder for format: %s", format)
	}

	o := core.DefaultDecodeOptions()
	o.Apply(opts...)
	return factory(o), nil
}

// Formats returns all registered formats.
func (r *Registry) Formats() []core.Format {
	r.mu.RLock()
	defer r.mu.RUnlock()

	formats := make([]core.Format, 0, len(r.factories))
	for f := range r.factories {
		formats = append(formats, f)
	}
	sort.Slice(formats, func(i, j int) bool { return formats[i] < formats[j] })
	return formats
}

// New builds a decoder from the default registry.
func New(format core.Format, opts ...core.Option) (core.Decoder, error) {
	return DefaultRegistry.New(format, opts...)
}
