package encryption

import (
	"bytes"
	"fmt"
	"io"

	"reel-go/internal/reel"
)

// sealHeader marks data sealed by TestEncryptor.
var sealHeader = []byte("REELSEAL")

// TestEncryptor is a deterministic stand-in for AgeEncryptor: it prefixes a
// fixed header on Encrypt and strips it on Decrypt. No keys are involved.
type TestEncryptor struct{}

var _ reel.Encryptor = (*TestEncryptor)(nil)

func NewTestEncryptor() *TestEncryptor {
	return &TestEncryptor{}
}

func (e *TestEncryptor) Setup(string) error { return nil }

func (e *TestEncryptor) Encrypt(r io.Reader, w io.Writer) error {
	if _, err := w.Write(sealHeader); err != nil {
		return fmt.Errorf("writing seal header: %w", err)
	}
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("copying data: %w", err)
	}
	return nil
}

func (e *TestEncryptor) Unlock(string) (reel.DecryptionContext, error) {
	return testDecryptionContext{}, nil
}

func (e *TestEncryptor) IsConfigured() bool { return true }

type testDecryptionContext struct{}

func (testDecryptionContext) Decrypt(r io.Reader, w io.Writer) error {
	header := make([]byte, len(sealHeader))
	if _, err := io.ReadFull(r, header); err != nil {
		return fmt.Errorf("reading seal header: %w", err)
	}
	if !bytes.Equal(header, sealHeader) {
		return fmt.Errorf("data was not sealed by the test encryptor")
	}
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("copying data: %w", err)
	}
	return nil
}
