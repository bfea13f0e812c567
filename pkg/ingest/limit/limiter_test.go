package limit

import (
	"strconv"
	"testing"

	"github.com/openaddresses/submit-service-sub000/pkg/ingest/core"
)

func record(i int) core.Record {
	rec := core.NewRecord(1)
	rec.Set("n", core.Number(strconv.Itoa(i)))
	return rec
}

// feed pushes available records into l the way a decoder would, stopping
// when the limiter asks it to. It returns how many records were produced.
func feed(t *testing.T, l *Limiter, available int) int {
	t.Helper()
	if err := l.Fields([]string{"n"}); err != nil {
		if !core.Stopped(err) {
			t.Fatalf("unexpected error: %v", err)
		}
		return 0
	}
	for i := 0; i < available; i++ {
		if err := l.Record(record(i)); err != nil {
			if !core.Stopped(err) {
				t.Fatalf("unexpected error: %v", err)
			}
			return i + 1
		}
	}
	return available
}

func TestLimiter_Window(t *testing.T) {
	tests := []struct {
		name      string
		size      int
		offset    int
		available int
		wantFirst int
		wantLen   int
		produced  int
	}{
		{"default cap", DefaultSize, 0, 11, 0, 10, 10},
		{"fewer than cap", 10, 0, 1, 0, 1, 1},
		{"empty source", 10, 0, 0, 0, 0, 0},
		{"offset", 3, 2, 10, 2, 3, 5},
		{"offset past end", 5, 20, 7, 0, 0, 7},
		{"offset equals available", 5, 7, 7, 0, 0, 7},
		{"zero size", 0, 0, 10, 0, 0, 0},
		{"exact fit", 4, 0, 4, 0, 4, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := New(tt.size, tt.offset)
			produced := feed(t, l, tt.available)

			if produced != tt.produced {
				t.Errorf("producer emitted %d records, want %d", produced, tt.produced)
			}
			recs := l.Records()
			if len(recs) != tt.wantLen {
				t.Fatalf("got %d records, want %d", len(recs), tt.wantLen)
			}
			for i, rec := range recs {
				v, _ := rec.Get("n")
				if v.Text() != strconv.Itoa(tt.wantFirst+i) {
					t.Errorf("record %d = %s, want %d", i, v.Text(), tt.wantFirst+i)
				}
			}
		})
	}
}

func TestLimiter_FieldsKeptOnce(t *testing.T) {
	l := New(2, 0)
	if err := l.Fields([]string{"a", "b"}); err != nil {
		t.Fatal(err)
	}
	if err := l.Fields([]string{"c"}); err != nil {
		t.Fatal(err)
	}
	got := l.FieldNames()
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("unexpected fields %v", got)
	}
}

func TestLimiter_NoFields(t *testing.T) {
	l := New(1, 0)
	if got := l.FieldNames(); got == nil || len(got) != 0 {
		t.Errorf("expected empty non-nil fields, got %#v", got)
	}
	if l.Capped() {
		t.Error("fresh limiter should not be capped")
	}
}

func TestLimiter_StopsAfterCap(t *testing.T) {
	l := New(1, 0)
	if err := l.Record(record(0)); !core.Stopped(err) {
		t.Fatalf("Expected ErrStop on reaching cap, got %v", err)
	}
	if err := l.Record(record(1)); !core.Stopped(err) {
		t.Fatalf("Expected ErrStop after cap, got %v", err)
	}
	if len(l.Records()) != 1 || l.Seen() != 1 {
		t.Errorf("records after cap must not be counted: records=%d seen=%d", len(l.Records()), l.Seen())
	}
	if !l.Capped() {
		t.Error("limiter should report capped")
	}
}
