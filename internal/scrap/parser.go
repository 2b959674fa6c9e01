package scrap

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode"
	"unicode/utf8"

	"scrapidx/internal/textenc"
)

const (
	// DefaultChunkSize is the read size for hashing and parsing.
	DefaultChunkSize = 128 << 10

	// maxPendingBytes bounds the carry-over buffer. A "line" that grows past
	// it without a newline is emitted as-is and left to the overlong split.
	maxPendingBytes = 1 << 20
)

// ParseStats describes one pass of the LineParser over an object.
type ParseStats struct {
	Encoding textenc.Kind
	// Lines counts non-empty lines after normalization.
	Lines int64
	// Fragments counts emitted records; it exceeds Lines when lines were split.
	Fragments int64
	Empty     int64
	Split     int64
	Truncated int64
}

// LineParser turns a byte stream into normalized credential lines.
type LineParser struct {
	maxLen    int
	chunkSize int
}

// NewLineParser creates a parser emitting lines of at most maxLen runes,
// reading chunkSize bytes at a time.
func NewLineParser(maxLen, chunkSize int) *LineParser {
	if maxLen <= 0 {
		maxLen = MaxLineLength
	}
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &LineParser{maxLen: maxLen, chunkSize: chunkSize}
}

// MaxLen returns the maximum emitted line length in runes.
func (p *LineParser) MaxLen() int { return p.maxLen }

// Parse reads r to the end and calls fn for every normalized fragment.
// An error returned by fn stops the pass and is returned as-is.
func (p *LineParser) Parse(r io.Reader, fn func(line string) error) (*ParseStats, error) {
	stats := &ParseStats{}
	kind, err := p.ReadLines(r, func(raw string) error {
		frags, split, truncated := p.Normalize(raw)
		if len(frags) == 0 {
			stats.Empty++
			return nil
		}
		stats.Lines++
		if split {
			stats.Split++
		}
		stats.Truncated += int64(truncated)
		for _, f := range frags {
			stats.Fragments++
			if err := fn(f); err != nil {
				return err
			}
		}
		return nil
	})
	stats.Encoding = kind
	return stats, err
}

// ReadLines decodes r and calls fn with every raw line, without the trailing
// newline. The encoding is detected from the first chunk. Bytes after the
// last newline are retained across reads and emitted at end of stream.
func (p *LineParser) ReadLines(r io.Reader, fn func(raw string) error) (textenc.Kind, error) {
	br := bufio.NewReaderSize(r, p.chunkSize)
	head, err := br.Peek(p.chunkSize)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return "", fmt.Errorf("reading content: %w", err)
	}
	kind := textenc.Detect(head)
	dec := textenc.NewReader(br, kind)

	buf := make([]byte, p.chunkSize)
	var pending []byte
	for {
		n, rerr := dec.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			rest := pending
			for {
				i := bytes.IndexByte(rest, '\n')
				if i < 0 {
					break
				}
				if err := fn(string(rest[:i])); err != nil {
					return kind, err
				}
				rest = rest[i+1:]
			}
			if len(rest) > maxPendingBytes {
				cut := runeBoundary(rest, maxPendingBytes)
				if err := fn(string(rest[:cut])); err != nil {
					return kind, err
				}
				rest = rest[cut:]
			}
			// Copy the remainder down so pending does not pin consumed bytes.
			pending = append(pending[:0], rest...)
		}
		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			return kind, fmt.Errorf("reading content: %w", rerr)
		}
	}
	if len(pending) > 0 {
		if err := fn(string(pending)); err != nil {
			return kind, err
		}
	}
	return kind, nil
}

// Normalize strips control characters and surrounding whitespace from a raw
// line and splits it if it is too long. It returns no fragments for a line
// that is empty after normalization.
func (p *LineParser) Normalize(raw string) (frags []string, split bool, truncated int) {
	line := strings.TrimSpace(strings.Map(dropControl, raw))
	if line == "" {
		return nil, false, 0
	}
	if utf8.RuneCountInString(line) <= p.maxLen {
		return []string{line}, false, 0
	}
	frags, truncated = SplitOverlong(line, p.maxLen)
	return frags, true, truncated
}

func dropControl(r rune) rune {
	switch r {
	case '\t', '\r', '\n':
		return r
	}
	if unicode.IsControl(r) || r == '\uFEFF' {
		return -1
	}
	return r
}

// runeBoundary returns the largest index <= n that starts a rune in b.
func runeBoundary(b []byte, n int) int {
	for i := n; i > 0 && i > n-utf8.UTFMax; i-- {
		if utf8.RuneStart(b[i]) {
			return i
		}
	}
	return n
}
