package decoders

import (
	"context"
	"io"

	"github.com/openaddresses/submit-service-sub000/pkg/ingest/core"
)

// GeoJSONDecoder reads a FeatureCollection and emits features[].properties
// as records. Fields are the first feature's property keys.
type GeoJSONDecoder struct{}

// NewGeoJSONDecoder creates a GeoJSON decoder.
func NewGeoJSONDecoder() *GeoJSONDecoder { return &GeoJSONDecoder{} }

func (d *GeoJSONDecoder) Name() string { return "geojson" }

// Decode streams the collection; geometries are skipped token by token.
func (d *GeoJSONDecoder) Decode(ctx context.Context, r io.Reader, out core.Emitter) error {
	t := core.Track(out)
	return t.Finish(decodeFailure(d.Name(), d.decode(ctx, newTokenStream(r), t)))
}

func (d *GeoJSONDecoder) decode(ctx context.Context, s *tokenStream, t *core.Tracker) error {
	if err := s.expect('{'); err != nil {
		return err
	}
	for s.more() {
		k, err := s.key()
		if err != nil {
			return err
		}
		if k == "features" {
			err = s.eachElement(ctx, func() error {
				return featureMember(s, t, "properties")
			})
		} else {
			err = s.skip()
		}
		if err != nil {
			return err
		}
	}
	return s.expect('}')
}
