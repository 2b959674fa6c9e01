// Package textenc detects the text encoding of leak files and decodes them
// to UTF-8, replacing malformed input instead of failing.
package textenc

import (
	"io"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Kind is a detected source encoding.
type Kind string

const (
	UTF8        Kind = "utf-8"
	UTF8BOM     Kind = "utf-8-bom"
	UTF16LE     Kind = "utf-16le"
	UTF16LEBOM  Kind = "utf-16le-bom"
	UTF16BE     Kind = "utf-16be"
	UTF16BEBOM  Kind = "utf-16be-bom"
	Windows1252 Kind = "windows-1252"
)

// sniffLen bounds how much of the sample the NUL heuristic inspects.
const sniffLen = 4096

// Detect guesses the encoding of content from its first bytes.
// Order: byte-order mark, UTF-16 NUL pattern, UTF-8 validity, and finally
// Windows-1252, which accepts every byte.
func Detect(sample []byte) Kind {
	switch {
	case len(sample) >= 3 && sample[0] == 0xEF && sample[1] == 0xBB && sample[2] == 0xBF:
		return UTF8BOM
	case len(sample) >= 2 && sample[0] == 0xFF && sample[1] == 0xFE:
		return UTF16LEBOM
	case len(sample) >= 2 && sample[0] == 0xFE && sample[1] == 0xFF:
		return UTF16BEBOM
	}

	if k, ok := detectUTF16(sample); ok {
		return k
	}
	if validUTF8(sample) {
		return UTF8
	}
	return Windows1252
}

// detectUTF16 recognizes BOM-less UTF-16 from the distribution of NUL bytes:
// mostly-ASCII UTF-16 text has a NUL in every other byte.
func detectUTF16(sample []byte) (Kind, bool) {
	if len(sample) > sniffLen {
		sample = sample[:sniffLen]
	}
	pairs := len(sample) / 2
	if pairs < 2 {
		return "", false
	}
	var evenNUL, oddNUL int
	for i := 0; i+1 < len(sample); i += 2 {
		if sample[i] == 0 {
			evenNUL++
		}
		if sample[i+1] == 0 {
			oddNUL++
		}
	}
	switch {
	case oddNUL*10 >= pairs*4 && evenNUL*10 < pairs:
		return UTF16LE, true
	case evenNUL*10 >= pairs*4 && oddNUL*10 < pairs:
		return UTF16BE, true
	}
	return "", false
}

// validUTF8 is utf8.Valid except that a rune cut off by the end of the
// sample does not count as invalid.
func validUTF8(b []byte) bool {
	for len(b) > 0 {
		r, size := utf8.DecodeRune(b)
		if r == utf8.RuneError && size == 1 {
			return !utf8.FullRune(b)
		}
		b = b[size:]
	}
	return true
}

// Encoding returns the x/text encoding for k.
func (k Kind) Encoding() encoding.Encoding {
	switch k {
	case UTF8BOM:
		return unicode.UTF8BOM
	case UTF16LE:
		return unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)
	case UTF16LEBOM:
		return unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM)
	case UTF16BE:
		return unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM)
	case UTF16BEBOM:
		return unicode.UTF16(unicode.BigEndian, unicode.ExpectBOM)
	case Windows1252:
		return charmap.Windows1252
	default:
		return unicode.UTF8
	}
}

// NewReader returns a reader producing UTF-8 decoded from r. Invalid input
// is replaced with U+FFFD.
func NewReader(r io.Reader, k Kind) io.Reader {
	return transform.NewReader(r, k.Encoding().NewDecoder())
}
