// Package core provides the fundamental abstractions for the sampling pipeline.
package core

import (
	"context"
	"io"
	"net/url"
)

// Transport identifies how source bytes are fetched.
type Transport uint8

const (
	TransportUnknown Transport = iota
	TransportHTTP
	TransportFTP
)

func (t Transport) String() string {
	names := []string{"unknown", "http", "ftp"}
	if int(t) < len(names) {
		return names[t]
	}
	return "unknown"
}

// Format represents the encoded format of a source.
type Format uint8

const (
	FormatUnknown Format = iota
	FormatESRI
	FormatGeoJSON
	FormatDelimited
	FormatShapefile
)

func (f Format) String() string {
	names := []string{"unknown", "ESRI", "geojson", "csv", "shapefile"}
	if int(f) < len(names) {
		return names[f]
	}
	return "unknown"
}

// ConformType returns the conform type reported for samples of this format.
// ESRI services are queried for GeoJSON-shaped features.
func (f Format) ConformType() string {
	switch f {
	case FormatESRI, FormatGeoJSON:
		return "geojson"
	case FormatDelimited:
		return "csv"
	case FormatShapefile:
		return "shapefile"
	default:
		return ""
	}
}

// Compression is the container the payload is wrapped in.
type Compression uint8

const (
	CompressionNone Compression = iota
	CompressionZip
)

func (c Compression) String() string {
	if c == CompressionZip {
		return "zip"
	}
	return "none"
}

// SourceDescriptor is the classification of a source URI. It is computed once
// by the classifier and never modified afterwards.
type SourceDescriptor struct {
	uri         *url.URL
	transport   Transport
	format      Format
	compression Compression
	delimiter   rune
}

// NewSourceDescriptor builds a descriptor. The URL is copied.
func NewSourceDescriptor(u *url.URL, t Transport, f Format, c Compression, delimiter rune) SourceDescriptor {
	cp := *u
	if u.User != nil {
		user := *u.User
		cp.User = &user
	}
	return SourceDescriptor{uri: &cp, transport: t, format: f, compression: c, delimiter: delimiter}
}

// URL returns a copy of the source URL.
func (d SourceDescriptor) URL() *url.URL {
	if d.uri == nil {
		return &url.URL{}
	}
	cp := *d.uri
	return &cp
}

// String returns the source URI.
func (d SourceDescriptor) String() string {
	if d.uri == nil {
		return ""
	}
	return d.uri.String()
}

// Redacted returns the source URI with any password masked.
func (d SourceDescriptor) Redacted() string {
	if d.uri == nil {
		return ""
	}
	return d.uri.Redacted()
}

func (d SourceDescriptor) Transport() Transport     { return d.transport }
func (d SourceDescriptor) Format() Format           { return d.format }
func (d SourceDescriptor) Compression() Compression { return d.compression }

// Delimiter is the field separator for delimited-text sources, 0 otherwise.
func (d SourceDescriptor) Delimiter() rune { return d.delimiter }

// Protocol is the protocol name reported to callers: "ESRI" for feature
// services, otherwise the transport.
func (d SourceDescriptor) Protocol() string {
	if d.format == FormatESRI {
		return "ESRI"
	}
	return d.transport.String()
}

// Window bounds the records requested from a source.
type Window struct {
	Size   int
	Offset int
}

// Stream is an open byte stream for a source. Closing it releases the
// underlying connection; closing before EOF aborts the transfer.
type Stream struct {
	io.ReadCloser

	// ContentType as reported by the server, if any.
	ContentType string

	// Size in bytes, or -1 if unknown.
	Size int64
}

// Opener opens a byte stream for a classified source.
type Opener interface {
	Open(ctx context.Context, src SourceDescriptor, window Window) (*Stream, error)
}
