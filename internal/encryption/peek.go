package encryption

import (
	"bufio"
	"bytes"
	"io"
)

type peekReader struct {
	*bufio.Reader
}

func newPeekReader(r io.Reader) *peekReader {
	return &peekReader{bufio.NewReader(r)}
}

// hasPrefix reports whether the unread input starts with prefix. Nothing is
// consumed.
func (p *peekReader) hasPrefix(prefix []byte) bool {
	b, _ := p.Peek(len(prefix))
	return bytes.Equal(b, prefix)
}
