package decoders

import (
	"context"
	"io"

	"github.com/openaddresses/submit-service-sub000/pkg/errors"
	"github.com/openaddresses/submit-service-sub000/pkg/ingest/core"
)

// ESRIDecoder reads an ArcGIS REST query response: field names from
// fields[].name and one record per features[].attributes.
type ESRIDecoder struct{}

// NewESRIDecoder creates an ESRI JSON decoder.
func NewESRIDecoder() *ESRIDecoder { return &ESRIDecoder{} }

func (d *ESRIDecoder) Name() string { return "ESRI response" }

// Decode streams the response. A body of the form {"error": {...}} is
// reported as a RemoteApplication error.
func (d *ESRIDecoder) Decode(ctx context.Context, r io.Reader, out core.Emitter) error {
	t := core.Track(out)
	return t.Finish(decodeFailure(d.Name(), d.decode(ctx, newTokenStream(r), t)))
}

func (d *ESRIDecoder) decode(ctx context.Context, s *tokenStream, t *core.Tracker) error {
	if err := s.expect('{'); err != nil {
		return err
	}
	for s.more() {
		k, err := s.key()
		if err != nil {
			return err
		}
		switch k {
		case "error":
			return remoteError(s)
		case "fields":
			names := []string{}
			err = s.eachElement(ctx, func() error {
				var field struct {
					Name string `json:"name"`
				}
				if err := s.dec.Decode(&field); err != nil {
					return err
				}
				names = append(names, field.Name)
				return nil
			})
			if err == nil {
				err = t.Fields(names)
			}
		case "features":
			err = s.eachElement(ctx, func() error {
				return featureMember(s, t, "attributes")
			})
		default:
			err = s.skip()
		}
		if err != nil {
			return err
		}
	}
	return s.expect('}')
}

// remoteError decodes the error object an ArcGIS server returns with a
// 200 status.
func remoteError(s *tokenStream) error {
	var body struct {
		Code    int      `json:"code"`
		Message string   `json:"message"`
		Details []string `json:"details"`
	}
	if err := s.dec.Decode(&body); err != nil {
		return err
	}
	e := errors.RemoteApplication(body.Code, body.Message)
	if len(body.Details) > 0 {
		e = e.WithContext("details", body.Details)
	}
	return e
}

// featureMember reads one feature object and emits its member named
// member as a record. A feature without that member yields an empty record.
func featureMember(s *tokenStream, t *core.Tracker, member string) error {
	ok, err := s.openObject()
	if err != nil {
		return err
	}
	if !ok {
		return t.Record(core.NewRecord(0))
	}
	emitted := false
	for s.more() {
		k, err := s.key()
		if err != nil {
			return err
		}
		if k != member || emitted {
			if err := s.skip(); err != nil {
				return err
			}
			continue
		}
		rec, err := s.record()
		if err != nil {
			return err
		}
		emitted = true
		if err := t.Record(rec); err != nil {
			return err
		}
	}
	if err := s.expect('}'); err != nil {
		return err
	}
	if !emitted {
		return t.Record(core.NewRecord(0))
	}
	return nil
}
