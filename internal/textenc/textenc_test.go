package textenc

import (
	"bytes"
	"io"
	"testing"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

func TestDetect(t *testing.T) {
	utf16le, _ := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewEncoder().Bytes([]byte("user:pass\n"))
	utf16be, _ := unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM).NewEncoder().Bytes([]byte("user:pass\n"))
	latin, _ := charmap.Windows1252.NewEncoder().Bytes([]byte("josé:contraseña\n"))

	tests := []struct {
		name   string
		sample []byte
		want   Kind
	}{
		{name: "plain ascii", sample: []byte("user:pass\n"), want: UTF8},
		{name: "utf-8 multibyte", sample: []byte("jürgen:пароль\n"), want: UTF8},
		{name: "utf-8 cut mid rune", sample: []byte("abc\xd0"), want: UTF8},
		{name: "utf-8 bom", sample: []byte("\xef\xbb\xbfuser:pass"), want: UTF8BOM},
		{name: "utf-16le bom", sample: append([]byte{0xFF, 0xFE}, utf16le...), want: UTF16LEBOM},
		{name: "utf-16be bom", sample: append([]byte{0xFE, 0xFF}, utf16be...), want: UTF16BEBOM},
		{name: "utf-16le without bom", sample: utf16le, want: UTF16LE},
		{name: "utf-16be without bom", sample: utf16be, want: UTF16BE},
		{name: "windows-1252", sample: latin, want: Windows1252},
		{name: "empty", sample: nil, want: UTF8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Detect(tt.sample); got != tt.want {
				t.Errorf("Detect() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNewReader(t *testing.T) {
	utf16, _ := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewEncoder().Bytes([]byte("user:pass\n"))
	latin, _ := charmap.Windows1252.NewEncoder().Bytes([]byte("josé:contraseña"))

	tests := []struct {
		name  string
		input []byte
		kind  Kind
		want  string
	}{
		{name: "utf-8 passthrough", input: []byte("user:pass"), kind: UTF8, want: "user:pass"},
		{name: "utf-8 bom stripped", input: []byte("\xef\xbb\xbfuser:pass"), kind: UTF8BOM, want: "user:pass"},
		{name: "utf-16 decoded", input: utf16, kind: UTF16LEBOM, want: "user:pass\n"},
		{name: "windows-1252 decoded", input: latin, kind: Windows1252, want: "josé:contraseña"},
		{name: "invalid utf-8 replaced", input: []byte("ab\xffcd"), kind: UTF8, want: "ab\ufffdcd"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := io.ReadAll(NewReader(bytes.NewReader(tt.input), tt.kind))
			if err != nil {
				t.Fatalf("ReadAll() error = %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("decoded = %q, want %q", got, tt.want)
			}
		})
	}
}
