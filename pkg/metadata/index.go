// Package metadata resolves source paths against the published run index
// and streams the data of the last processed run.
package metadata

import (
	"context"
	"encoding/csv"
	stderrors "errors"
	"fmt"
	"io"
	"strings"

	"github.com/openaddresses/submit-service-sub000/pkg/errors"
	"github.com/openaddresses/submit-service-sub000/pkg/ingest/detect"
)

const (
	columnSource    = "source"
	columnProcessed = "processed"
)

// Run is one row of the index.
type Run struct {
	Source    string
	Processed string
}

// Lookup scans a tab-separated index for the row whose source column equals
// source exactly. It stops reading at the first match. The returned bool is
// false when no row matches.
func Lookup(ctx context.Context, r io.Reader, source string) (Run, bool, error) {
	cr := csv.NewReader(r)
	cr.Comma = '\t'
	cr.LazyQuotes = true
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err == io.EOF {
		return Run{}, false, errors.Malformed("metadata index", fmt.Errorf("missing header row"))
	}
	if err != nil {
		return Run{}, false, indexFailure(err)
	}

	srcCol, procCol := -1, -1
	for i, name := range header {
		switch strings.TrimSpace(detect.TrimBOM(name)) {
		case columnSource:
			srcCol = i
		case columnProcessed:
			procCol = i
		}
	}
	if srcCol < 0 || procCol < 0 {
		return Run{}, false, errors.Malformed("metadata index",
			fmt.Errorf("header must contain %q and %q columns", columnSource, columnProcessed))
	}

	for {
		if err := ctx.Err(); err != nil {
			return Run{}, false, err
		}
		row, err := cr.Read()
		if err == io.EOF {
			return Run{}, false, nil
		}
		if err != nil {
			return Run{}, false, indexFailure(err)
		}
		if srcCol >= len(row) || row[srcCol] != source {
			continue
		}
		run := Run{Source: row[srcCol]}
		if procCol < len(row) {
			run.Processed = strings.TrimSpace(row[procCol])
		}
		return run, true, nil
	}
}

// indexFailure keeps transport errors from the body and reports anything
// else as an unreadable index.
func indexFailure(err error) error {
	var typed *errors.Error
	if stderrors.As(err, &typed) {
		return err
	}
	return errors.Malformed("metadata index", err)
}
