// Package decoders turns source byte streams into fields and records.
package decoders

import (
	"context"
	"encoding/csv"
	"io"
	"unicode/utf8"

	"github.com/openaddresses/submit-service-sub000/pkg/ingest/core"
	"github.com/openaddresses/submit-service-sub000/pkg/ingest/detect"
)

// CSVDecoder decodes delimited text. The first row is the header; every
// following row must have exactly as many columns.
type CSVDecoder struct {
	delimiter rune
}

// NewCSVDecoder creates a delimited-text decoder. A zero delimiter means comma.
func NewCSVDecoder(delimiter rune) *CSVDecoder {
	if delimiter == 0 {
		delimiter = ','
	}
	return &CSVDecoder{delimiter: delimiter}
}

func (d *CSVDecoder) Name() string { return "csv" }

// Delimiter returns the field separator in use.
func (d *CSVDecoder) Delimiter() rune { return d.delimiter }

// Decode reads rows until the input ends or out stops it. A column count
// mismatch fails the whole stream.
func (d *CSVDecoder) Decode(ctx context.Context, r io.Reader, out core.Emitter) error {
	t := core.Track(out)
	return t.Finish(decodeFailure(d.Name(), d.decode(ctx, r, t)))
}

func (d *CSVDecoder) decode(ctx context.Context, r io.Reader, t *core.Tracker) error {
	cr := csv.NewReader(r)
	cr.Comma = d.delimiter
	cr.LazyQuotes = true
	cr.FieldsPerRecord = 0

	header, err := cr.Read()
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return err
	}
	for i := range header {
		header[i] = text(header[i])
	}
	header[0] = detect.TrimBOM(header[0])
	// A repeated header name keeps its first column.
	names, cols := core.UniqueNames(header)
	if err := t.Fields(names); err != nil {
		return err
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		row, err := cr.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		rec := core.NewRecord(len(names))
		for i, name := range names {
			rec.Set(name, core.String(text(row[cols[i]])))
		}
		if err := t.Record(rec); err != nil {
			return err
		}
	}
}

func text(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	return detect.DecodeText([]byte(s))
}
