// Package archive reads zip archives front to back from a non-seekable
// stream. Entries are decoded from their local headers as they arrive; the
// central directory at the end of the file is never needed.
package archive

import (
	"bufio"
	"bytes"
	"encoding/binary"
	stderrors "errors"
	"fmt"
	"hash"
	"hash/crc32"
	"io"
	"math"
	"unicode/utf8"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zstd"
	"golang.org/x/text/encoding/charmap"

	"github.com/openaddresses/submit-service-sub000/pkg/errors"
)

const (
	sigLocalHeader    = 0x04034b50
	sigCentralDir     = 0x02014b50
	sigEndOfCentral   = 0x06054b50
	sigZip64End       = 0x06064b50
	sigDataDescriptor = 0x08074b50

	methodStore   = 0
	methodDeflate = 8
	methodZstd    = 93

	flagEncrypted  = 0x1
	flagDescriptor = 0x8
	flagUTF8       = 0x800

	extraZip64 = 0x0001
)

var le = binary.LittleEndian

// Reader yields the entries of a zip stream in archive order.
type Reader struct {
	br      *bufio.Reader
	cur     *Entry
	started bool
	err     error
}

// NewReader wraps r. Nothing is read until Next is called.
func NewReader(r io.Reader) *Reader {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReaderSize(r, 32*1024)
	}
	return &Reader{br: br}
}

// Next skips whatever is left of the current entry and returns the next
// one. It returns io.EOF once the central directory is reached.
func (z *Reader) Next() (*Entry, error) {
	if z.err != nil {
		return nil, z.err
	}
	if z.cur != nil {
		if err := z.cur.Drain(); err != nil {
			z.err = err
			return nil, err
		}
		z.cur = nil
	}

	e, err := z.readHeader()
	if err != nil {
		z.err = err
		return nil, err
	}
	z.started = true
	z.cur = e
	return e, nil
}

func (z *Reader) readHeader() (*Entry, error) {
	var sig [4]byte
	if _, err := io.ReadFull(z.br, sig[:]); err != nil {
		if err == io.EOF && z.started {
			// Archive truncated after the last entry; nothing more to offer.
			return nil, io.EOF
		}
		return nil, structural(err)
	}

	switch le.Uint32(sig[:]) {
	case sigLocalHeader:
	case sigCentralDir, sigEndOfCentral, sigZip64End:
		return nil, io.EOF
	default:
		if !z.started {
			return nil, errors.MalformedArchive(fmt.Errorf("not a zip archive"))
		}
		return nil, errors.MalformedArchive(fmt.Errorf("bad local header signature %#08x", le.Uint32(sig[:])))
	}

	var hdr [26]byte
	if _, err := io.ReadFull(z.br, hdr[:]); err != nil {
		return nil, structural(err)
	}
	e := &Entry{
		z:      z,
		flags:  le.Uint16(hdr[2:4]),
		Method: le.Uint16(hdr[4:6]),
		crc:    le.Uint32(hdr[10:14]),
		csize:  uint64(le.Uint32(hdr[14:18])),
		usize:  uint64(le.Uint32(hdr[18:22])),
		Size:   -1,
	}

	name := make([]byte, le.Uint16(hdr[22:24]))
	if _, err := io.ReadFull(z.br, name); err != nil {
		return nil, structural(err)
	}
	extra := make([]byte, le.Uint16(hdr[24:26]))
	if _, err := io.ReadFull(z.br, extra); err != nil {
		return nil, structural(err)
	}
	e.Name = decodeName(name, e.flags)
	e.parseExtra(extra)

	sized := e.flags&flagDescriptor == 0 || e.csize > 0
	if sized {
		e.raw = io.LimitReader(z.br, int64(e.csize))
	}
	if e.flags&flagDescriptor == 0 {
		e.Size = int64(e.usize)
	}
	return e, nil
}

// Entry is one file in the archive. It is only valid until the next call
// to Reader.Next.
type Entry struct {
	Name   string
	Method uint16
	// Size is the uncompressed size, or -1 when it trails the data.
	Size int64

	z     *Reader
	flags uint16
	crc   uint32
	csize uint64
	usize uint64
	zip64 bool

	raw     io.Reader
	counter *countingReader
	stored  *storedScanner
	body    io.Reader
	closer  func()
	hash    hash.Hash32
	n       uint64

	opened bool
	done   bool
	err    error
}

// IsDir reports whether the entry is a directory.
func (e *Entry) IsDir() bool {
	return len(e.Name) > 0 && e.Name[len(e.Name)-1] == '/'
}

// Read returns decompressed entry bytes. The checksum is verified when the
// entry is exhausted.
func (e *Entry) Read(p []byte) (int, error) {
	if e.err != nil {
		return 0, e.err
	}
	if !e.opened {
		if err := e.open(); err != nil {
			e.err = err
			return 0, err
		}
	}

	n, err := e.body.Read(p)
	e.hash.Write(p[:n])
	e.n += uint64(n)
	switch {
	case err == io.EOF:
		if ferr := e.finish(); ferr != nil {
			e.err = ferr
			return n, ferr
		}
		e.err = io.EOF
		return n, io.EOF
	case err != nil:
		e.closeBody()
		e.err = structural(err)
		return n, e.err
	}
	return n, nil
}

// Drain discards the rest of the entry. Sized entries are skipped without
// being decompressed.
func (e *Entry) Drain() error {
	if e.done {
		return nil
	}
	if e.err != nil && e.err != io.EOF {
		return e.err
	}
	if e.raw != nil {
		e.closeBody()
		if _, err := io.Copy(io.Discard, e.raw); err != nil {
			return structural(err)
		}
		if e.flags&flagDescriptor != 0 {
			if _, err := e.readDescriptor(); err != nil {
				return err
			}
		}
		e.done = true
		return nil
	}
	if _, err := io.Copy(io.Discard, e); err != nil {
		return err
	}
	return nil
}

func (e *Entry) open() error {
	e.opened = true
	e.hash = crc32.NewIEEE()

	if e.flags&flagEncrypted != 0 {
		return errors.MalformedArchive(fmt.Errorf("entry %s is encrypted", e.Name))
	}

	switch e.Method {
	case methodStore:
		if e.raw == nil {
			e.stored = &storedScanner{br: e.z.br, zip64: e.zip64, hash: crc32.NewIEEE()}
			e.body = e.stored
			break
		}
		e.body = e.raw
	case methodDeflate:
		src := e.raw
		if src == nil {
			// flate reads byte by byte from an io.ByteReader, so it stops
			// exactly at the end of the compressed stream.
			e.counter = &countingReader{br: e.z.br}
			src = e.counter
		}
		fr := flate.NewReader(src)
		e.body = fr
		e.closer = func() { fr.Close() }
	case methodZstd:
		if e.raw == nil {
			return errors.MalformedArchive(fmt.Errorf("zstd entry %s has no size", e.Name))
		}
		dec, err := zstd.NewReader(e.raw, zstd.WithDecoderConcurrency(1), zstd.WithDecoderLowmem(true))
		if err != nil {
			return errors.MalformedArchive(err)
		}
		e.body = dec
		e.closer = dec.Close
	default:
		return errors.MalformedArchive(fmt.Errorf("entry %s uses unsupported compression method %d", e.Name, e.Method))
	}
	return nil
}

func (e *Entry) finish() error {
	e.closeBody()
	if e.raw != nil {
		if _, err := io.Copy(io.Discard, e.raw); err != nil {
			return structural(err)
		}
	}

	want := e.crc
	switch {
	case e.stored != nil:
		want = e.stored.crc
	case e.flags&flagDescriptor != 0:
		crc, err := e.readDescriptor()
		if err != nil {
			return err
		}
		want = crc
	}
	e.done = true

	if got := e.hash.Sum32(); got != want {
		return errors.MalformedArchive(fmt.Errorf("checksum mismatch for %s", e.Name))
	}
	return nil
}

// readDescriptor consumes the data descriptor following the entry data and
// returns its CRC-32. The descriptor signature is optional.
func (e *Entry) readDescriptor() (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(e.z.br, b[:]); err != nil {
		return 0, structural(err)
	}
	if le.Uint32(b[:]) == sigDataDescriptor {
		if _, err := io.ReadFull(e.z.br, b[:]); err != nil {
			return 0, structural(err)
		}
	}
	crc := le.Uint32(b[:])

	sizes := 8
	if e.zip64 || e.n > math.MaxUint32 || (e.counter != nil && e.counter.n > math.MaxUint32) {
		sizes = 16
	}
	if _, err := e.z.br.Discard(sizes); err != nil {
		return 0, structural(err)
	}
	return crc, nil
}

func (e *Entry) closeBody() {
	if e.closer != nil {
		e.closer()
		e.closer = nil
	}
}

func (e *Entry) parseExtra(extra []byte) {
	for len(extra) >= 4 {
		id := le.Uint16(extra[0:2])
		size := int(le.Uint16(extra[2:4]))
		extra = extra[4:]
		if size > len(extra) {
			return
		}
		field := extra[:size]
		extra = extra[size:]
		if id != extraZip64 {
			continue
		}
		e.zip64 = true
		if e.usize == math.MaxUint32 && len(field) >= 8 {
			e.usize = le.Uint64(field)
			field = field[8:]
		}
		if e.csize == math.MaxUint32 && len(field) >= 8 {
			e.csize = le.Uint64(field)
		}
	}
}

// decodeName interprets an entry name. Names without the UTF-8 flag are
// CP437 unless they already happen to be valid UTF-8.
func decodeName(b []byte, flags uint16) string {
	if flags&flagUTF8 != 0 || utf8.Valid(b) {
		return string(b)
	}
	s, err := charmap.CodePage437.NewDecoder().Bytes(b)
	if err != nil {
		return string(b)
	}
	return string(s)
}

// structural maps read failures during archive parsing. End of input is a
// truncated archive and typed errors from the transport pass through.
// Anything else came from a decompressor.
func structural(err error) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return errors.MalformedArchive(io.ErrUnexpectedEOF)
	}
	var typed *errors.Error
	if stderrors.As(err, &typed) {
		return err
	}
	return errors.MalformedArchive(err)
}

type countingReader struct {
	br *bufio.Reader
	n  uint64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.br.Read(p)
	c.n += uint64(n)
	return n, err
}

func (c *countingReader) ReadByte() (byte, error) {
	b, err := c.br.ReadByte()
	if err == nil {
		c.n++
	}
	return b, err
}

var descriptorSig = []byte{0x50, 0x4b, 0x07, 0x08}

// storedScanner reads a stored entry whose sizes trail the data. The data
// ends at the first descriptor whose signature, CRC-32 and sizes agree with
// the bytes read so far; that descriptor is consumed.
type storedScanner struct {
	br    *bufio.Reader
	zip64 bool
	hash  hash.Hash32
	n     uint64
	crc   uint32
	done  bool
}

func (s *storedScanner) Read(p []byte) (int, error) {
	if s.done {
		return 0, io.EOF
	}
	if len(p) == 0 {
		return 0, nil
	}

	size := 16
	if s.zip64 || s.n > math.MaxUint32 {
		size = 24
	}
	head, err := s.br.Peek(size)
	if len(head) < size {
		if err == nil || err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return 0, err
	}
	if s.isDescriptor(head) {
		s.crc = le.Uint32(head[4:8])
		s.done = true
		s.br.Discard(size)
		return 0, io.EOF
	}

	// Offset 0 is data; so is everything before the next signature. A
	// signature split across the buffer end is left for the next read.
	window, _ := s.br.Peek(s.br.Buffered())
	n := len(window) - (len(descriptorSig) - 1)
	if i := bytes.Index(window[1:], descriptorSig); i >= 0 {
		n = i + 1
	}
	n = copy(p, window[:n])
	s.br.Discard(n)
	s.hash.Write(p[:n])
	s.n += uint64(n)
	return n, nil
}

func (s *storedScanner) isDescriptor(b []byte) bool {
	if le.Uint32(b[0:4]) != sigDataDescriptor || le.Uint32(b[4:8]) != s.hash.Sum32() {
		return false
	}
	if len(b) == 24 {
		return le.Uint64(b[8:16]) == s.n && le.Uint64(b[16:24]) == s.n
	}
	return uint64(le.Uint32(b[8:12])) == s.n && uint64(le.Uint32(b[12:16])) == s.n
}
