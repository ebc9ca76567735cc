package encryption

import (
	"bytes"
	"testing"
)

func TestTestEncryptor_SealUnseal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input []byte
	}{
		{name: "edit asset", input: []byte("edited video bytes")},
		{name: "empty", input: []byte{}},
		{name: "binary data", input: []byte{0x00, 0xff, 0x01, 0xfe}},
		{name: "large data", input: bytes.Repeat([]byte("frame"), 10000)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			e := NewTestEncryptor()

			var sealed bytes.Buffer
			if err := e.Encrypt(bytes.NewReader(tt.input), &sealed); err != nil {
				t.Fatalf("Encrypt() error = %v", err)
			}
			if !bytes.HasPrefix(sealed.Bytes(), sealHeader) {
				t.Error("sealed output does not start with the seal header")
			}

			dec, err := e.Unlock("any-passphrase")
			if err != nil {
				t.Fatalf("Unlock() error = %v", err)
			}

			var out bytes.Buffer
			if err := dec.Decrypt(bytes.NewReader(sealed.Bytes()), &out); err != nil {
				t.Fatalf("Decrypt() error = %v", err)
			}
			if !bytes.Equal(out.Bytes(), tt.input) {
				t.Errorf("round-trip failed: got %q, want %q", out.Bytes(), tt.input)
			}
		})
	}
}

func TestTestEncryptor_Configured(t *testing.T) {
	t.Parallel()
	e := NewTestEncryptor()
	if err := e.Setup("any-passphrase"); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	if !e.IsConfigured() {
		t.Error("IsConfigured() = false, want true")
	}
}

func TestTestDecryptionContext_Rejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input []byte
	}{
		{name: "unsealed data", input: []byte("NOT_SEALED_video")},
		{name: "truncated header", input: []byte("REEL")},
		{name: "empty input", input: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var out bytes.Buffer
			if err := (testDecryptionContext{}).Decrypt(bytes.NewReader(tt.input), &out); err == nil {
				t.Error("Decrypt() expected error")
			}
		})
	}
}
