package core

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// ValueKind enumerates the shapes a record value can take.
type ValueKind uint8

const (
	KindNull ValueKind = iota
	KindString
	KindNumber
	KindBool
	// KindRaw holds a nested JSON object or array verbatim.
	KindRaw
)

func (k ValueKind) String() string {
	names := []string{"null", "string", "number", "bool", "raw"}
	if int(k) < len(names) {
		return names[k]
	}
	return "unknown"
}

// Value is a single record value. Numbers keep their source literal.
type Value struct {
	kind ValueKind
	text string
	b    bool
}

func Null() Value             { return Value{kind: KindNull} }
func String(s string) Value   { return Value{kind: KindString, text: s} }
func Bool(b bool) Value       { return Value{kind: KindBool, b: b} }
func Number(lit string) Value { return Value{kind: KindNumber, text: lit} }

// Raw wraps nested JSON. The bytes are compacted.
func Raw(raw []byte) Value {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return String(string(raw))
	}
	return Value{kind: KindRaw, text: buf.String()}
}

// ValueFromJSON converts one JSON value into a Value.
func ValueFromJSON(raw json.RawMessage) Value {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return Null()
	}
	switch trimmed[0] {
	case 'n':
		return Null()
	case 't':
		return Bool(true)
	case 'f':
		return Bool(false)
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return String(string(trimmed))
		}
		return String(s)
	case '{', '[':
		return Raw(trimmed)
	default:
		return Number(string(trimmed))
	}
}

func (v Value) Kind() ValueKind { return v.kind }
func (v Value) IsNull() bool    { return v.kind == KindNull }

// Text renders the value as plain text; null renders as "".
func (v Value) Text() string {
	switch v.kind {
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindNull:
		return ""
	default:
		return v.text
	}
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindString:
		return json.Marshal(v.text)
	case KindNumber:
		if !json.Valid([]byte(v.text)) {
			return json.Marshal(v.text)
		}
		return []byte(v.text), nil
	case KindBool:
		return []byte(strconv.FormatBool(v.b)), nil
	case KindRaw:
		return []byte(v.text), nil
	default:
		return []byte("null"), nil
	}
}

// Record is an ordered mapping of field name to value.
type Record struct {
	keys   []string
	values map[string]Value
}

// NewRecord returns an empty record sized for n fields.
func NewRecord(n int) Record {
	return Record{
		keys:   make([]string, 0, n),
		values: make(map[string]Value, n),
	}
}

// Set stores a value. A repeated key keeps its first position.
func (r *Record) Set(key string, v Value) {
	if r.values == nil {
		r.values = make(map[string]Value)
	}
	if _, ok := r.values[key]; !ok {
		r.keys = append(r.keys, key)
	}
	r.values[key] = v
}

// Get returns the value stored under key.
func (r Record) Get(key string) (Value, bool) {
	v, ok := r.values[key]
	return v, ok
}

// Keys returns the field names in insertion order.
func (r Record) Keys() []string {
	out := make([]string, len(r.keys))
	copy(out, r.keys)
	return out
}

// Len returns the number of fields.
func (r Record) Len() int { return len(r.keys) }

// MarshalJSON writes the record as a JSON object in insertion order.
func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range r.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := r.values[k].MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
