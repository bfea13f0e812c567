package decoders

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/openaddresses/submit-service-sub000/pkg/errors"
	"github.com/openaddresses/submit-service-sub000/pkg/ingest/core"
	"github.com/openaddresses/submit-service-sub000/pkg/ingest/detect"
)

const (
	dbfHeaderSize     = 32
	dbfDescriptorSize = 32
	dbfTerminator     = 0x0D
	dbfEOF            = 0x1A
	dbfDeleted        = '*'
)

// DBFDecoder reads the attribute table of a shapefile. The table is staged
// to disk first; deleted rows are skipped and never counted.
type DBFDecoder struct {
	stager core.Stager
}

// NewDBFDecoder creates a DBF decoder that stages input through stager.
func NewDBFDecoder(stager core.Stager) *DBFDecoder {
	return &DBFDecoder{stager: stager}
}

func (d *DBFDecoder) Name() string { return "dbf" }

type dbfField struct {
	name     string
	kind     byte
	length   int
	decimals int
}

// Decode stages r and then walks the table header and rows.
func (d *DBFDecoder) Decode(ctx context.Context, r io.Reader, out core.Emitter) error {
	t := core.Track(out)
	if d.stager == nil {
		return t.Finish(errors.New(errors.KindInternal, "dbf decoder has no temp scope"))
	}

	path, err := d.stager.Stage(ctx, "table.dbf", r)
	if err != nil {
		return t.Finish(decodeFailure(d.Name(), err))
	}
	f, err := os.Open(path)
	if err != nil {
		return t.Finish(errors.Wrap(err, errors.KindInternal, "failed to open staged table"))
	}
	defer f.Close()

	return t.Finish(decodeFailure(d.Name(), d.decode(ctx, bufio.NewReaderSize(f, 64*1024), t)))
}

func (d *DBFDecoder) decode(ctx context.Context, br *bufio.Reader, t *core.Tracker) error {
	var hdr [dbfHeaderSize]byte
	if _, err := io.ReadFull(br, hdr[:]); err != nil {
		return err
	}
	numRecords := binary.LittleEndian.Uint32(hdr[4:8])
	headerLen := int(binary.LittleEndian.Uint16(hdr[8:10]))
	recordLen := int(binary.LittleEndian.Uint16(hdr[10:12]))
	if headerLen < dbfHeaderSize+1 || recordLen < 1 {
		return fmt.Errorf("invalid header: header length %d, record length %d", headerLen, recordLen)
	}

	fields, err := readDBFFields(br, headerLen)
	if err != nil {
		return err
	}
	width := 1
	names := make([]string, len(fields))
	for i, f := range fields {
		width += f.length
		names[i] = f.name
	}
	if width > recordLen {
		return fmt.Errorf("field widths %d exceed record length %d", width, recordLen)
	}
	if err := t.Fields(names); err != nil {
		return err
	}

	buf := make([]byte, recordLen)
	for i := uint32(0); i < numRecords; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if b, err := br.Peek(1); err == io.EOF || (err == nil && b[0] == dbfEOF) {
			return nil
		}
		if _, err := io.ReadFull(br, buf); err != nil {
			return err
		}
		if buf[0] == dbfDeleted {
			continue
		}

		rec := core.NewRecord(len(fields))
		off := 1
		for _, f := range fields {
			if _, dup := rec.Get(f.name); !dup {
				rec.Set(f.name, dbfValue(f, buf[off:off+f.length]))
			}
			off += f.length
		}
		if err := t.Record(rec); err != nil {
			return err
		}
	}
	return nil
}

// readDBFFields reads field descriptors up to the header terminator and
// leaves br at the first record.
func readDBFFields(br *bufio.Reader, headerLen int) ([]dbfField, error) {
	var fields []dbfField
	consumed := dbfHeaderSize
	for consumed+dbfDescriptorSize <= headerLen {
		b, err := br.Peek(1)
		if err != nil {
			return nil, err
		}
		if b[0] == dbfTerminator {
			break
		}
		var fd [dbfDescriptorSize]byte
		if _, err := io.ReadFull(br, fd[:]); err != nil {
			return nil, err
		}
		consumed += dbfDescriptorSize

		name := fd[:11]
		if i := bytes.IndexByte(name, 0); i >= 0 {
			name = name[:i]
		}
		fields = append(fields, dbfField{
			name:     strings.TrimSpace(detect.DecodeText(name)),
			kind:     fd[11],
			length:   int(fd[16]),
			decimals: int(fd[17]),
		})
	}
	// Terminator plus any trailing header bytes (FoxPro backlink).
	if _, err := br.Discard(headerLen - consumed); err != nil {
		return nil, err
	}
	return fields, nil
}

func dbfValue(f dbfField, raw []byte) core.Value {
	switch f.kind {
	case 'C':
		return core.String(detect.DecodeText(bytes.TrimRight(raw, " \x00")))
	case 'N', 'F':
		return dbfNumber(strings.TrimSpace(string(raw)))
	case 'L':
		switch strings.TrimSpace(string(raw)) {
		case "T", "t", "Y", "y":
			return core.Bool(true)
		case "F", "f", "N", "n":
			return core.Bool(false)
		default:
			return core.Null()
		}
	case 'D':
		s := strings.TrimSpace(string(raw))
		if s == "" || strings.Trim(s, "0") == "" {
			return core.Null()
		}
		if len(s) == 8 {
			return core.String(s[0:4] + "-" + s[4:6] + "-" + s[6:8])
		}
		return core.String(s)
	case 'I':
		if len(raw) == 4 {
			return core.Number(strconv.FormatInt(int64(int32(binary.LittleEndian.Uint32(raw))), 10))
		}
		return core.String(strings.TrimSpace(string(raw)))
	default:
		return core.String(strings.TrimSpace(detect.DecodeText(raw)))
	}
}

// dbfNumber converts a numeric column. Blank and overflow ("****") cells
// are null; literals JSON cannot carry verbatim are reformatted.
func dbfNumber(s string) core.Value {
	if s == "" || strings.Trim(s, "*") == "" {
		return core.Null()
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return core.String(s)
	}
	if json.Valid([]byte(s)) {
		return core.Number(s)
	}
	return core.Number(strconv.FormatFloat(v, 'f', -1, 64))
}
