package encryption

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"

	"reel-go/internal/config"
)

func newTestAgeEncryptor(t *testing.T) *AgeEncryptor {
	t.Helper()
	dir := t.TempDir()
	return NewAgeEncryptor(config.EncryptionConfig{
		PublicKeyPath:  filepath.Join(dir, "keys", "reel.pub"),
		PrivateKeyPath: filepath.Join(dir, "keys", "reel.key"),
	})
}

func TestAgeEncryptor_Setup(t *testing.T) {
	t.Parallel()

	t.Run("configures keys", func(t *testing.T) {
		e := newTestAgeEncryptor(t)
		if e.IsConfigured() {
			t.Fatal("IsConfigured() = true before Setup")
		}
		if err := e.Setup("test-passphrase"); err != nil {
			t.Fatalf("Setup() error = %v", err)
		}
		if !e.IsConfigured() {
			t.Error("IsConfigured() = false after Setup")
		}
	})

	t.Run("refuses to replace keys", func(t *testing.T) {
		e := newTestAgeEncryptor(t)
		if err := e.Setup("first"); err != nil {
			t.Fatalf("Setup() error = %v", err)
		}
		if err := e.Setup("second"); !errors.Is(err, ErrKeysExist) {
			t.Errorf("second Setup() error = %v, want ErrKeysExist", err)
		}
		if _, err := e.Unlock("first"); err != nil {
			t.Errorf("original passphrase no longer unlocks: %v", err)
		}
	})

	t.Run("rejects empty passphrase", func(t *testing.T) {
		e := newTestAgeEncryptor(t)
		if err := e.Setup(""); err == nil {
			t.Error("Setup(\"\") expected error")
		}
	})
}

func TestAgeEncryptor_EncryptDecryptRoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input []byte
	}{
		{name: "short clip", input: []byte("ftypisom")},
		{name: "empty", input: []byte{}},
		{name: "binary", input: []byte{0x00, 0xff, 0x01, 0xfe}},
		{name: "large", input: bytes.Repeat([]byte("mdat"), 50000)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			e := newTestAgeEncryptor(t)
			if err := e.Setup("pw"); err != nil {
				t.Fatalf("Setup() error = %v", err)
			}

			var sealed bytes.Buffer
			if err := e.Encrypt(bytes.NewReader(tt.input), &sealed); err != nil {
				t.Fatalf("Encrypt() error = %v", err)
			}
			if len(tt.input) > 0 && bytes.Contains(sealed.Bytes(), tt.input) {
				t.Error("ciphertext contains the plaintext")
			}

			dec, err := e.Unlock("pw")
			if err != nil {
				t.Fatalf("Unlock() error = %v", err)
			}
			var plain bytes.Buffer
			if err := dec.Decrypt(bytes.NewReader(sealed.Bytes()), &plain); err != nil {
				t.Fatalf("Decrypt() error = %v", err)
			}
			if !bytes.Equal(plain.Bytes(), tt.input) {
				t.Errorf("round trip: got %d bytes, want %d", plain.Len(), len(tt.input))
			}
		})
	}
}

func TestAgeEncryptor_FreshInstanceReadsKeys(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfg := config.EncryptionConfig{
		PublicKeyPath:  filepath.Join(dir, "reel.pub"),
		PrivateKeyPath: filepath.Join(dir, "reel.key"),
	}
	if err := NewAgeEncryptor(cfg).Setup("pw"); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}

	e := NewAgeEncryptor(cfg)
	var sealed bytes.Buffer
	if err := e.Encrypt(bytes.NewReader([]byte("edit")), &sealed); err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	dec, err := e.Unlock("pw")
	if err != nil {
		t.Fatalf("Unlock() error = %v", err)
	}
	var plain bytes.Buffer
	if err := dec.Decrypt(&sealed, &plain); err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if plain.String() != "edit" {
		t.Errorf("Decrypt() = %q, want %q", plain.String(), "edit")
	}
}

func TestAgeEncryptor_Errors(t *testing.T) {
	t.Parallel()

	t.Run("wrong passphrase", func(t *testing.T) {
		e := newTestAgeEncryptor(t)
		if err := e.Setup("correct"); err != nil {
			t.Fatalf("Setup() error = %v", err)
		}
		if _, err := e.Unlock("wrong"); err == nil {
			t.Error("Unlock() with wrong passphrase should fail")
		}
	})

	t.Run("encrypt before setup", func(t *testing.T) {
		e := newTestAgeEncryptor(t)
		var buf bytes.Buffer
		if err := e.Encrypt(bytes.NewReader([]byte("data")), &buf); err == nil {
			t.Error("Encrypt() before Setup should fail")
		}
	})

	t.Run("unlock before setup", func(t *testing.T) {
		e := newTestAgeEncryptor(t)
		if _, err := e.Unlock("pw"); err == nil {
			t.Error("Unlock() before Setup should fail")
		}
	})
}

func TestTestEncryptor_RoundTrip(t *testing.T) {
	t.Parallel()

	e := NewTestEncryptor()
	var sealed bytes.Buffer
	if err := e.Encrypt(bytes.NewReader([]byte("clip")), &sealed); err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if sealed.String() != "REELSEALclip" {
		t.Errorf("sealed = %q", sealed.String())
	}

	dec, _ := e.Unlock("")
	var plain bytes.Buffer
	if err := dec.Decrypt(&sealed, &plain); err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if plain.String() != "clip" {
		t.Errorf("Decrypt() = %q, want clip", plain.String())
	}

	if err := dec.Decrypt(bytes.NewReader([]byte("plain data")), &plain); err == nil {
		t.Error("Decrypt() of unsealed data should fail")
	}
}

func TestNewEncryptorFromConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		typ     string
		want    string
		wantErr bool
	}{
		{typ: "", want: "*encryption.AgeEncryptor"},
		{typ: "age", want: "*encryption.AgeEncryptor"},
		{typ: "test", want: "*encryption.TestEncryptor"},
		{typ: "rot13", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.typ, func(t *testing.T) {
			enc, err := NewEncryptorFromConfig(config.EncryptionConfig{Type: tt.typ})
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewEncryptorFromConfig() error = %v", err)
			}
			if got := typeName(enc); got != tt.want {
				t.Errorf("type = %s, want %s", got, tt.want)
			}
		})
	}
}

func typeName(v any) string {
	switch v.(type) {
	case *AgeEncryptor:
		return "*encryption.AgeEncryptor"
	case *TestEncryptor:
		return "*encryption.TestEncryptor"
	}
	return "unknown"
}
