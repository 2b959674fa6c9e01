package testutil

import (
	"scrapidx/internal/encryption"
	"scrapidx/internal/scrap"
)

// NewTestEncryptor creates a new test encryptor for testing.
func NewTestEncryptor() scrap.Encryptor {
	return encryption.NewTestEncryptor()
}
