package encryption

import (
	"fmt"

	"scrapidx/internal/config"
	"scrapidx/internal/scrap"
)

// NewEncryptorFromConfig creates an Encryptor based on the configuration type.
func NewEncryptorFromConfig(cfg config.EncryptionConfig) (scrap.Encryptor, error) {
	switch cfg.Type {
	case "age", "":
		return NewAgeEncryptor(cfg), nil
	case "armor":
		return NewAgeEncryptor(cfg).WithArmor(), nil
	case "test":
		return NewTestEncryptor(), nil
	case "none":
		return PlainEncryptor{}, nil
	default:
		return nil, fmt.Errorf("unknown encryption type: %q", cfg.Type)
	}
}

// SnapshotSuffix is the file suffix for snapshots sealed by an encryptor of
// the given type.
func SnapshotSuffix(encType string) string {
	if encType == "none" {
		return ""
	}
	return ".age"
}
