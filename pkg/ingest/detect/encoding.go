package detect

import (
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// Encoding represents character encoding.
type Encoding uint8

const (
	EncodingUnknown Encoding = iota
	EncodingUTF8
	EncodingUTF8BOM
	EncodingUTF16LE
	EncodingUTF16BE
	EncodingLatin1
	EncodingASCII
)

// DetectEncoding identifies character encoding.
func DetectEncoding(sample []byte) Encoding {
	if len(sample) == 0 {
		return EncodingUnknown
	}

	// Check BOM
	if len(sample) >= 3 && sample[0] == 0xEF && sample[1] == 0xBB && sample[2] == 0xBF {
		return EncodingUTF8BOM
	}
	if len(sample) >= 2 {
		if sample[0] == 0xFF && sample[1] == 0xFE {
			return EncodingUTF16LE
		}
		if sample[0] == 0xFE && sample[1] == 0xFF {
			return EncodingUTF16BE
		}
	}

	if utf8.Valid(sample) {
		for _, b := range sample {
			if b > 127 {
				return EncodingUTF8
			}
		}
		return EncodingASCII
	}

	return EncodingLatin1
}

// DecodeText returns b as a UTF-8 string. Bytes that are not valid UTF-8 are
// read as Windows-1252, the usual code page of legacy DBF tables.
func DecodeText(b []byte) string {
	switch DetectEncoding(b) {
	case EncodingLatin1:
		s, err := charmap.Windows1252.NewDecoder().Bytes(b)
		if err != nil {
			return string(b)
		}
		return string(s)
	case EncodingUTF8BOM:
		return string(b[3:])
	default:
		return string(b)
	}
}

// TrimBOM strips a leading UTF-8 byte order mark.
func TrimBOM(s string) string {
	if len(s) >= 3 && s[0] == 0xEF && s[1] == 0xBB && s[2] == 0xBF {
		return s[3:]
	}
	return s
}
