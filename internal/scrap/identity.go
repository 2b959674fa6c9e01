package scrap

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/google/uuid"
)

// recordNamespace roots the name-based UUIDs used as credential identifiers.
var recordNamespace = uuid.MustParse("5b0c3f0e-8a47-4c8e-9d4b-2f6a1c7e9b10")

// Identity derives credential identifiers for one aggregate. Identifiers are
// UUIDv5 values of the normalized line within a namespace derived from the
// aggregate's content hash, so they depend on content only.
type Identity struct {
	ns uuid.UUID
}

// NewIdentity returns the Identity for the aggregate with the given hash.
func NewIdentity(contentHash string) Identity {
	return Identity{ns: uuid.NewSHA1(recordNamespace, []byte(contentHash))}
}

// RecordID returns the identifier of line.
func (i Identity) RecordID(line string) string {
	return uuid.NewSHA1(i.ns, []byte(line)).String()
}

// RecordID is a shorthand for NewIdentity(contentHash).RecordID(line).
func RecordID(contentHash, line string) string {
	return NewIdentity(contentHash).RecordID(line)
}

// HashReader computes the SHA-256 of everything read from r, reading
// chunkSize bytes at a time. It returns the hex digest and the byte count.
func HashReader(r io.Reader, chunkSize int) (string, int64, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	h := sha256.New()
	n, err := io.CopyBuffer(h, r, make([]byte, chunkSize))
	if err != nil {
		return "", n, fmt.Errorf("hashing content: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}
