package core

import (
	"context"
	"errors"
	"io"
)

// ErrStop is returned by an Emitter that needs no further input. Decoders
// return it unchanged and stop reading; it is not a failure.
var ErrStop = errors.New("sample complete")

// Emitter receives decoded output. Fields is delivered at most once and
// always before the first record.
type Emitter interface {
	Fields(names []string) error
	Record(rec Record) error
}

// Decoder transforms a byte stream of one format into fields and records.
type Decoder interface {
	// Name identifies the decoder in error messages.
	Name() string

	// Decode reads r until it is exhausted, the emitter returns ErrStop,
	// or ctx is done. It must not read past the point where ErrStop is seen.
	Decode(ctx context.Context, r io.Reader, out Emitter) error
}

// State of a decoder run.
type State uint8

const (
	StateStart State = iota
	StateStreamingFields
	StateStreamingRecords
	StateCompleted
	StateAborted
	StateFailed
)

func (s State) String() string {
	names := []string{"start", "streaming_fields", "streaming_records", "completed", "aborted", "failed"}
	if int(s) < len(names) {
		return names[s]
	}
	return "unknown"
}

// Tracker wraps an Emitter for one decoder run. It enforces the field-first
// ordering and records the state the run ended in.
type Tracker struct {
	out        Emitter
	state      State
	fieldsSent bool
}

// Track starts tracking a decoder run. An Emitter that is already a
// Tracker is returned as is, so a caller can observe the state a decoder
// leaves it in.
func Track(out Emitter) *Tracker {
	if t, ok := out.(*Tracker); ok {
		return t
	}
	return &Tracker{out: out}
}

// Fields forwards the field list once, without repeated names; later calls
// are dropped.
func (t *Tracker) Fields(names []string) error {
	if t.fieldsSent {
		return nil
	}
	t.fieldsSent = true
	t.state = StateStreamingFields
	unique, _ := UniqueNames(names)
	return t.out.Fields(unique)
}

// UniqueNames drops repeated names, keeping first-seen order. cols holds the
// position in names of each kept name, so a column reader can take the first
// column of a repeated name.
func UniqueNames(names []string) (unique []string, cols []int) {
	unique = make([]string, 0, len(names))
	cols = make([]int, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for i, n := range names {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		unique = append(unique, n)
		cols = append(cols, i)
	}
	return unique, cols
}

// Record forwards a record. Without a prior field list, the record's own
// keys become the fields.
func (t *Tracker) Record(rec Record) error {
	if !t.fieldsSent {
		if err := t.Fields(rec.Keys()); err != nil {
			return err
		}
	}
	t.state = StateStreamingRecords
	return t.out.Record(rec)
}

// Finish records the terminal state for err and returns err.
func (t *Tracker) Finish(err error) error {
	switch {
	case err == nil:
		t.state = StateCompleted
	case errors.Is(err, ErrStop):
		t.state = StateAborted
	default:
		t.state = StateFailed
	}
	return err
}

// State returns the current state.
func (t *Tracker) State() State { return t.state }

// Stopped reports whether err is the early-termination signal.
func Stopped(err error) bool {
	return errors.Is(err, ErrStop)
}
