package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"reel-go/internal/reel"
)

const memoryBaseURL = "memory://reel"

// MemoryStore is an in-memory implementation of reel.BlobStore, useful for
// testing. A visibility delay makes fresh uploads unresolvable until the
// store's clock has moved past it, which mimics an eventually consistent CDN.
// This implementation is safe for concurrent use.
type MemoryStore struct {
	bucket     string
	clock      reel.Clock
	visibility time.Duration

	mu       sync.RWMutex
	objects  map[string]memoryObject
	uploaded int
}

type memoryObject struct {
	data        []byte
	contentType string
	visibleAt   time.Time
}

// NewMemoryStore creates an empty store. clock may be nil when visibility is zero.
func NewMemoryStore(bucket string, clock reel.Clock, visibility time.Duration) *MemoryStore {
	if clock == nil {
		clock = reel.RealClock{}
	}
	return &MemoryStore{
		bucket:     bucket,
		clock:      clock,
		visibility: visibility,
		objects:    make(map[string]memoryObject),
	}
}

func (m *MemoryStore) Upload(ctx context.Context, objectPath string, r io.Reader, size int64, contentType string) error {
	if err := reel.ValidateObjectPath(objectPath); err != nil {
		return err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read content: %w", err)
	}
	if int64(len(data)) != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[objectPath] = memoryObject{
		data:        data,
		contentType: contentType,
		visibleAt:   m.clock.Now().Add(m.visibility),
	}
	m.uploaded++
	return nil
}

func (m *MemoryStore) ResolveURL(ctx context.Context, objectPath string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	obj, ok := m.objects[objectPath]
	if !ok {
		return "", fmt.Errorf("object %s: %w", objectPath, reel.ErrNotFound)
	}
	if m.clock.Now().Before(obj.visibleAt) {
		return "", fmt.Errorf("object %s: %w", objectPath, reel.ErrNotYetAvailable)
	}
	return reel.ObjectURL(memoryBaseURL, m.bucket, objectPath), nil
}

func (m *MemoryStore) Fetch(ctx context.Context, objectPath string, w io.Writer) error {
	m.mu.RLock()
	obj, ok := m.objects[objectPath]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("object %s: %w", objectPath, reel.ErrNotFound)
	}

	if _, err := io.Copy(w, bytes.NewReader(obj.data)); err != nil {
		return fmt.Errorf("failed to write content: %w", err)
	}
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, objectPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[objectPath]; !ok {
		return fmt.Errorf("object %s: %w", objectPath, reel.ErrNotFound)
	}
	delete(m.objects, objectPath)
	return nil
}

func (m *MemoryStore) Close() error { return nil }

// Has reports whether an object exists at objectPath.
func (m *MemoryStore) Has(objectPath string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.objects[objectPath]
	return ok
}

// Paths lists the stored object paths.
func (m *MemoryStore) Paths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	paths := make([]string, 0, len(m.objects))
	for p := range m.objects {
		paths = append(paths, p)
	}
	return paths
}

// ContentType returns the content type recorded for objectPath.
func (m *MemoryStore) ContentType(objectPath string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.objects[objectPath].contentType
}

// Uploads counts Upload calls that stored an object.
func (m *MemoryStore) Uploads() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.uploaded
}

// URL returns the object URL this store hands out for objectPath.
func (m *MemoryStore) URL(objectPath string) string {
	return reel.ObjectURL(memoryBaseURL, m.bucket, objectPath)
}

var _ reel.BlobStore = (*MemoryStore)(nil)
