package decoders

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"

	"github.com/openaddresses/submit-service-sub000/pkg/errors"
	"github.com/openaddresses/submit-service-sub000/pkg/ingest/core"
)

// tokenStream walks a JSON document token by token so that large feature
// arrays never have to be held in memory.
type tokenStream struct {
	dec *json.Decoder
}

func newTokenStream(r io.Reader) *tokenStream {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	return &tokenStream{dec: dec}
}

func (s *tokenStream) more() bool { return s.dec.More() }

func (s *tokenStream) expect(want json.Delim) error {
	tok, err := s.dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return fmt.Errorf("expected %q, found %v", want, tok)
	}
	return nil
}

// openObject consumes '{' and reports false for a JSON null.
func (s *tokenStream) openObject() (bool, error) {
	tok, err := s.dec.Token()
	if err != nil {
		return false, err
	}
	if tok == nil {
		return false, nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return false, fmt.Errorf("expected object, found %v", tok)
	}
	return true, nil
}

// key reads an object member name.
func (s *tokenStream) key() (string, error) {
	tok, err := s.dec.Token()
	if err != nil {
		return "", err
	}
	k, ok := tok.(string)
	if !ok {
		return "", fmt.Errorf("expected object key, found %v", tok)
	}
	return k, nil
}

// skip discards the next value, however deeply nested.
func (s *tokenStream) skip() error {
	depth := 0
	for {
		tok, err := s.dec.Token()
		if err != nil {
			return err
		}
		if d, ok := tok.(json.Delim); ok {
			switch d {
			case '{', '[':
				depth++
			case '}', ']':
				depth--
			}
		}
		if depth == 0 {
			return nil
		}
	}
}

func (s *tokenStream) raw() (json.RawMessage, error) {
	var raw json.RawMessage
	if err := s.dec.Decode(&raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// record reads an object into a Record, keeping member order. A null
// object yields an empty record.
func (s *tokenStream) record() (core.Record, error) {
	ok, err := s.openObject()
	if err != nil || !ok {
		return core.NewRecord(0), err
	}
	rec := core.NewRecord(16)
	for s.more() {
		k, err := s.key()
		if err != nil {
			return rec, err
		}
		raw, err := s.raw()
		if err != nil {
			return rec, err
		}
		rec.Set(k, core.ValueFromJSON(raw))
	}
	return rec, s.expect('}')
}

// eachElement calls fn once per element of the array at the current
// position, leaving the stream positioned after ']'.
func (s *tokenStream) eachElement(ctx context.Context, fn func() error) error {
	if err := s.expect('['); err != nil {
		return err
	}
	for s.more() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(); err != nil {
			return err
		}
	}
	return s.expect(']')
}

// decodeFailure classifies an error coming out of a decoder. Early stop,
// cancellation and typed errors pass through; anything else is a parse
// failure attributed to the named decoder.
func decodeFailure(name string, err error) error {
	if err == nil || core.Stopped(err) {
		return err
	}
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var typed *errors.Error
	if stderrors.As(err, &typed) {
		return err
	}
	if err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	return errors.Malformed(name, err)
}
