package archive

import (
	"archive/zip"
	"bytes"
	"hash/crc32"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/openaddresses/submit-service-sub000/pkg/errors"
)

type testEntry struct {
	name   string
	data   string
	stored bool
	badCRC bool
	// streamed entries are stored with their sizes in a trailing descriptor.
	streamed bool
}

func buildZip(t *testing.T, entries ...testEntry) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for _, te := range entries {
		if te.streamed {
			fw, err := w.CreateHeader(&zip.FileHeader{Name: te.name, Method: zip.Store})
			if err != nil {
				t.Fatalf("CreateHeader failed: %v", err)
			}
			if _, err := io.WriteString(fw, te.data); err != nil {
				t.Fatal(err)
			}
			continue
		}
		if te.stored {
			crc := crc32.ChecksumIEEE([]byte(te.data))
			if te.badCRC {
				crc++
			}
			fw, err := w.CreateRaw(&zip.FileHeader{
				Name:               te.name,
				Method:             zip.Store,
				CRC32:              crc,
				CompressedSize64:   uint64(len(te.data)),
				UncompressedSize64: uint64(len(te.data)),
			})
			if err != nil {
				t.Fatalf("CreateRaw failed: %v", err)
			}
			if _, err := io.WriteString(fw, te.data); err != nil {
				t.Fatal(err)
			}
			continue
		}
		fw, err := w.Create(te.name)
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		if _, err := io.WriteString(fw, te.data); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	return buf.Bytes()
}

func readAll(t *testing.T, z *Reader) map[string]string {
	t.Helper()
	out := make(map[string]string)
	for {
		e, err := z.Next()
		if err == io.EOF {
			return out
		}
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		data, err := io.ReadAll(e)
		if err != nil {
			t.Fatalf("reading %s failed: %v", e.Name, err)
		}
		out[e.Name] = string(data)
	}
}

func TestReader_DeflateAndStored(t *testing.T) {
	long := strings.Repeat("id,street\n1,Main St\n", 500)
	data := buildZip(t,
		testEntry{name: "README.txt", data: "hello", stored: true},
		testEntry{name: "folder/addresses.csv", data: long},
		testEntry{name: "empty.txt", data: ""},
	)

	got := readAll(t, NewReader(bytes.NewReader(data)))
	if len(got) != 3 {
		t.Fatalf("Expected 3 entries, got %d", len(got))
	}
	if got["README.txt"] != "hello" {
		t.Errorf("stored entry = %q", got["README.txt"])
	}
	if got["folder/addresses.csv"] != long {
		t.Errorf("deflated entry differs (len %d vs %d)", len(got["folder/addresses.csv"]), len(long))
	}
	if got["empty.txt"] != "" {
		t.Errorf("empty entry = %q", got["empty.txt"])
	}
}

func TestReader_UnbufferedSource(t *testing.T) {
	data := buildZip(t,
		testEntry{name: "a.geojson", data: `{"type":"FeatureCollection","features":[]}`},
		testEntry{name: "b.csv", data: "x,y\n1,2\n"},
	)

	got := readAll(t, NewReader(iotest.OneByteReader(bytes.NewReader(data))))
	if got["b.csv"] != "x,y\n1,2\n" {
		t.Errorf("unexpected b.csv contents %q", got["b.csv"])
	}
}

func TestReader_SkipsUnreadEntries(t *testing.T) {
	data := buildZip(t,
		testEntry{name: "skip-deflate.txt", data: strings.Repeat("x", 4096)},
		testEntry{name: "skip-stored.txt", data: "stored", stored: true},
		testEntry{name: "partial.txt", data: strings.Repeat("y", 4096)},
		testEntry{name: "wanted.csv", data: "a,b\n"},
	)

	z := NewReader(bytes.NewReader(data))
	for i := 0; i < 2; i++ {
		if _, err := z.Next(); err != nil {
			t.Fatalf("Next failed: %v", err)
		}
	}

	e, err := z.Next()
	if err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 10)
	if _, err := io.ReadFull(e, buf); err != nil {
		t.Fatalf("partial read failed: %v", err)
	}

	e, err = z.Next()
	if err != nil {
		t.Fatalf("Next after partial read failed: %v", err)
	}
	if e.Name != "wanted.csv" {
		t.Fatalf("Expected wanted.csv, got %s", e.Name)
	}
	body, err := io.ReadAll(e)
	if err != nil {
		t.Fatal(err)
	}
	if string(body) != "a,b\n" {
		t.Errorf("unexpected body %q", body)
	}
	if _, err := z.Next(); err != io.EOF {
		t.Errorf("Expected io.EOF at central directory, got %v", err)
	}
}

func TestReader_StoredWithDescriptor(t *testing.T) {
	// Embedded descriptor signatures that do not match the entry must be
	// treated as data.
	shp := "\x00\x00\x27\x0aPK\x07\x08" + strings.Repeat("\x01\x02PK\x07\x08\x00\x00\x00\x00", 300)
	data := buildZip(t,
		testEntry{name: "parcels.shp", data: shp, streamed: true},
		testEntry{name: "empty.txt", streamed: true},
		testEntry{name: "data.csv", data: "id\n1\n"},
	)

	t.Run("drain", func(t *testing.T) {
		z := NewReader(iotest.HalfReader(bytes.NewReader(data)))
		for _, want := range []string{"parcels.shp", "empty.txt", "data.csv"} {
			e, err := z.Next()
			if err != nil {
				t.Fatalf("Next failed before %s: %v", want, err)
			}
			if e.Name != want {
				t.Fatalf("Expected %s, got %s", want, e.Name)
			}
			if e.Size != -1 && e.Name != "data.csv" {
				t.Errorf("%s: size should be unknown, got %d", e.Name, e.Size)
			}
		}
		if _, err := z.Next(); err != io.EOF {
			t.Errorf("Expected io.EOF, got %v", err)
		}
	})

	t.Run("read", func(t *testing.T) {
		got := readAll(t, NewReader(bytes.NewReader(data)))
		if got["parcels.shp"] != shp {
			t.Errorf("parcels.shp: got %d bytes, want %d", len(got["parcels.shp"]), len(shp))
		}
		if got["empty.txt"] != "" {
			t.Errorf("empty.txt: got %q", got["empty.txt"])
		}
		if got["data.csv"] != "id\n1\n" {
			t.Errorf("data.csv: got %q", got["data.csv"])
		}
	})
}

func TestReader_StoredWithDescriptorTruncated(t *testing.T) {
	data := buildZip(t, testEntry{name: "data.csv", data: strings.Repeat("a,b\n", 100), streamed: true})

	z := NewReader(bytes.NewReader(data[:200]))
	e, err := z.Next()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := io.ReadAll(e); !errors.IsKind(err, errors.KindMalformedPayload) {
		t.Fatalf("Expected MalformedPayload, got %v", err)
	}
}

func TestReader_EmptyArchive(t *testing.T) {
	data := buildZip(t)
	if _, err := NewReader(bytes.NewReader(data)).Next(); err != io.EOF {
		t.Errorf("Expected io.EOF for an archive with no entries, got %v", err)
	}
}

func TestReader_Malformed(t *testing.T) {
	valid := buildZip(t, testEntry{name: "a.csv", data: strings.Repeat("abc,def\n", 200)})

	tests := []struct {
		name string
		data []byte
	}{
		{"not a zip", []byte("<html>not found</html>")},
		{"empty input", nil},
		{"truncated header", valid[:12]},
		{"truncated data", valid[:60]},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			z := NewReader(bytes.NewReader(tt.data))
			var err error
			for err == nil {
				var e *Entry
				e, err = z.Next()
				if err == nil {
					_, err = io.ReadAll(e)
				}
			}
			if !errors.IsKind(err, errors.KindMalformedPayload) {
				t.Errorf("Expected MalformedPayload, got %v", err)
			}
		})
	}
}

func TestReader_ChecksumMismatch(t *testing.T) {
	data := buildZip(t, testEntry{name: "a.csv", data: "a,b\n", stored: true, badCRC: true})

	e, err := NewReader(bytes.NewReader(data)).Next()
	if err != nil {
		t.Fatal(err)
	}
	_, err = io.ReadAll(e)
	if !errors.IsKind(err, errors.KindMalformedPayload) {
		t.Errorf("Expected MalformedPayload for bad checksum, got %v", err)
	}
}

func TestReader_DirectoryEntry(t *testing.T) {
	data := buildZip(t,
		testEntry{name: "dir/"},
		testEntry{name: "dir/a.csv", data: "a\n"},
	)

	z := NewReader(bytes.NewReader(data))
	e, err := z.Next()
	if err != nil {
		t.Fatal(err)
	}
	if !e.IsDir() {
		t.Errorf("Expected %s to be a directory", e.Name)
	}
	e, err = z.Next()
	if err != nil {
		t.Fatal(err)
	}
	if e.IsDir() || e.Name != "dir/a.csv" {
		t.Errorf("unexpected entry %s", e.Name)
	}
}
