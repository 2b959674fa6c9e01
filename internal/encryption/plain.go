package encryption

import (
	"io"

	"scrapidx/internal/scrap"
)

// PlainEncryptor copies data through unchanged. It backs encryption type
// "none", for stores whose snapshots are protected some other way.
type PlainEncryptor struct{}

var _ scrap.Encryptor = PlainEncryptor{}

func (PlainEncryptor) Setup(string) error { return nil }

func (PlainEncryptor) Encrypt(r io.Reader, w io.Writer) error {
	_, err := io.Copy(w, r)
	return err
}

func (PlainEncryptor) Unlock(string) (scrap.DecryptionContext, error) {
	return plainDecryption{}, nil
}

func (PlainEncryptor) IsConfigured() bool { return true }

type plainDecryption struct{}

func (plainDecryption) Decrypt(r io.Reader, w io.Writer) error {
	_, err := io.Copy(w, r)
	return err
}
