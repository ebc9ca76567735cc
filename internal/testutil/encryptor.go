package testutil

import (
	"reel-go/internal/encryption"
	"reel-go/internal/reel"
)

// NewTestEncryptor creates a keyless encryptor for sealing edit assets in tests.
func NewTestEncryptor() reel.Encryptor {
	return encryption.NewTestEncryptor()
}
