package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"reel-go/internal/reel"
)

// ErrLocked is returned when a sealed object is fetched before Unlock.
var ErrLocked = errors.New("sealed store is locked")

// SealedStore encrypts objects under a path prefix before they reach the
// wrapped store and decrypts them on Fetch. Edit assets are sealed this way
// until promotion copies them, in plaintext, to a canonical path.
type SealedStore struct {
	inner  reel.BlobStore
	enc    reel.Encryptor
	prefix string

	mu  sync.RWMutex
	dec reel.DecryptionContext
}

// NewSealedStore seals every object whose path starts with prefix + "/".
func NewSealedStore(inner reel.BlobStore, enc reel.Encryptor, prefix string) *SealedStore {
	return &SealedStore{inner: inner, enc: enc, prefix: strings.Trim(prefix, "/") + "/"}
}

// Unlock supplies the key used to open sealed objects.
func (s *SealedStore) Unlock(dec reel.DecryptionContext) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dec = dec
}

// Sealed reports whether objectPath is stored encrypted.
func (s *SealedStore) Sealed(objectPath string) bool {
	return strings.HasPrefix(objectPath, s.prefix)
}

func (s *SealedStore) Upload(ctx context.Context, objectPath string, r io.Reader, size int64, contentType string) error {
	if !s.Sealed(objectPath) {
		return s.inner.Upload(ctx, objectPath, r, size, contentType)
	}

	var sealed bytes.Buffer
	if err := s.enc.Encrypt(io.LimitReader(r, size), &sealed); err != nil {
		return fmt.Errorf("sealing %s: %w", objectPath, err)
	}
	return s.inner.Upload(ctx, objectPath, &sealed, int64(sealed.Len()), "application/age-encrypted")
}

func (s *SealedStore) ResolveURL(ctx context.Context, objectPath string) (string, error) {
	return s.inner.ResolveURL(ctx, objectPath)
}

func (s *SealedStore) Fetch(ctx context.Context, objectPath string, w io.Writer) error {
	if !s.Sealed(objectPath) {
		return s.inner.Fetch(ctx, objectPath, w)
	}

	s.mu.RLock()
	dec := s.dec
	s.mu.RUnlock()
	if dec == nil {
		return fmt.Errorf("fetching %s: %w", objectPath, ErrLocked)
	}

	var sealed bytes.Buffer
	if err := s.inner.Fetch(ctx, objectPath, &sealed); err != nil {
		return err
	}
	if err := dec.Decrypt(&sealed, w); err != nil {
		return fmt.Errorf("opening %s: %w", objectPath, err)
	}
	return nil
}

func (s *SealedStore) Delete(ctx context.Context, objectPath string) error {
	return s.inner.Delete(ctx, objectPath)
}

func (s *SealedStore) Close() error {
	return s.inner.Close()
}

var _ reel.BlobStore = (*SealedStore)(nil)
