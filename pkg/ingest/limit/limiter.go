// Package limit truncates a decoder's record stream to a window.
package limit

import (
	"github.com/openaddresses/submit-service-sub000/pkg/ingest/core"
)

// DefaultSize is the number of records sampled when the caller gives none.
const DefaultSize = 10

// Limiter is a core.Emitter that keeps records offset+1 through offset+size
// in decode order and asks the producer to stop once it has them.
type Limiter struct {
	size   int
	offset int

	seen      int
	fields    []string
	fieldsSet bool
	records   []core.Record
	capped    bool
}

// New creates a limiter. Negative arguments are treated as zero.
func New(size, offset int) *Limiter {
	if size < 0 {
		size = 0
	}
	if offset < 0 {
		offset = 0
	}
	return &Limiter{
		size:    size,
		offset:  offset,
		records: make([]core.Record, 0, min(size, 1024)),
	}
}

// Fields keeps the first field list it is given.
func (l *Limiter) Fields(names []string) error {
	if !l.fieldsSet {
		l.fieldsSet = true
		l.fields = append([]string(nil), names...)
	}
	if l.size == 0 {
		l.capped = true
		return core.ErrStop
	}
	return nil
}

// Record counts rec and keeps it if it falls inside the window.
func (l *Limiter) Record(rec core.Record) error {
	if l.capped {
		return core.ErrStop
	}
	l.seen++
	if l.seen <= l.offset {
		return nil
	}
	l.records = append(l.records, rec)
	if len(l.records) >= l.size {
		l.capped = true
		return core.ErrStop
	}
	return nil
}

// FieldNames returns the field list, or an empty list if none arrived.
func (l *Limiter) FieldNames() []string {
	if l.fields == nil {
		return []string{}
	}
	return l.fields
}

// Records returns the kept records in source order.
func (l *Limiter) Records() []core.Record { return l.records }

// Seen returns how many records were decoded, including skipped ones.
func (l *Limiter) Seen() int { return l.seen }

// Capped reports whether the limiter stopped the producer.
func (l *Limiter) Capped() bool { return l.capped }

var _ core.Emitter = (*Limiter)(nil)
