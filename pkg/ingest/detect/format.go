// Package detect classifies sources and archive entries before any bytes
// are decoded.
package detect

import (
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/openaddresses/submit-service-sub000/pkg/errors"
	"github.com/openaddresses/submit-service-sub000/pkg/ingest/core"
)

// esriPath matches ArcGIS map and feature service layer endpoints.
var esriPath = regexp.MustCompile(`(Map|Feature)Server/\d+/?$`)

// Classify inspects a URI's scheme and path. It performs no I/O.
func Classify(raw string) (core.SourceDescriptor, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return core.SourceDescriptor{}, errors.InvalidSource(raw, nil)
	}

	u, err := url.Parse(raw)
	if err != nil {
		return core.SourceDescriptor{}, errors.InvalidSource(raw, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return core.SourceDescriptor{}, errors.InvalidSource(raw, nil)
	}

	var transport core.Transport
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		transport = core.TransportHTTP
	case "ftp":
		transport = core.TransportFTP
	default:
		return core.SourceDescriptor{}, errors.Unsupported(raw)
	}

	// ESRI wins over any suffix.
	if transport == core.TransportHTTP && esriPath.MatchString(u.Path) {
		return core.NewSourceDescriptor(u, transport, core.FormatESRI, core.CompressionNone, 0), nil
	}

	ext := strings.ToLower(path.Ext(u.Path))
	if ext == ".zip" {
		return core.NewSourceDescriptor(u, transport, core.FormatUnknown, core.CompressionZip, 0), nil
	}

	format, delimiter, ok := formatForExt(ext)
	if !ok || format == core.FormatShapefile {
		return core.SourceDescriptor{}, errors.Unsupported(raw)
	}
	return core.NewSourceDescriptor(u, transport, format, core.CompressionNone, delimiter), nil
}

// ClassifyEntry determines the format of an archive entry from its name.
// Directories and AppleDouble metadata files never match.
func ClassifyEntry(name string) (core.Format, rune, bool) {
	if name == "" || strings.HasSuffix(name, "/") {
		return core.FormatUnknown, 0, false
	}
	if strings.HasPrefix(name, "__MACOSX/") || strings.HasPrefix(path.Base(name), "._") {
		return core.FormatUnknown, 0, false
	}
	return formatForExt(strings.ToLower(path.Ext(name)))
}

// DelimiterForExt returns the field separator implied by a delimited-text suffix.
func DelimiterForExt(ext string) rune {
	switch strings.ToLower(ext) {
	case ".tsv":
		return '\t'
	case ".psv":
		return '|'
	default:
		return ','
	}
}

func formatForExt(ext string) (core.Format, rune, bool) {
	switch ext {
	case ".geojson":
		return core.FormatGeoJSON, 0, true
	case ".csv", ".tsv", ".psv":
		return core.FormatDelimited, DelimiterForExt(ext), true
	case ".dbf":
		return core.FormatShapefile, 0, true
	default:
		return core.FormatUnknown, 0, false
	}
}
