package testutil

import (
	"context"
	"fmt"
	"io"
	"sync"

	"reel-go/internal/reel"
)

// FaultyBlobStore wraps a BlobStore and injects failures per operation.
// Every call is recorded as "<op> <path>" before any fault is applied.
type FaultyBlobStore struct {
	Inner reel.BlobStore

	mu sync.Mutex
	// FailFetch, FailUpload and FailDelete make the matching operation return the error.
	FailFetch  error
	FailUpload error
	FailDelete error
	// ResolveMisses answers ResolveURL with ErrNotYetAvailable this many times
	// before delegating. -1 never delegates.
	ResolveMisses int
	// ResolveErr, when set, is returned by ResolveURL instead.
	ResolveErr error

	calls []string
}

func NewFaultyBlobStore(inner reel.BlobStore) *FaultyBlobStore {
	return &FaultyBlobStore{Inner: inner}
}

// Reset clears every injected fault.
func (f *FaultyBlobStore) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.FailFetch, f.FailUpload, f.FailDelete = nil, nil, nil
	f.ResolveMisses = 0
	f.ResolveErr = nil
}

// Calls returns the recorded operations.
func (f *FaultyBlobStore) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// Count returns how many times op was called.
func (f *FaultyBlobStore) Count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if len(c) > len(op) && c[:len(op)] == op && c[len(op)] == ' ' {
			n++
		}
	}
	return n
}

func (f *FaultyBlobStore) record(op, path string) {
	f.calls = append(f.calls, op+" "+path)
}

func (f *FaultyBlobStore) Upload(ctx context.Context, path string, r io.Reader, size int64, contentType string) error {
	f.mu.Lock()
	f.record("upload", path)
	err := f.FailUpload
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.Inner.Upload(ctx, path, r, size, contentType)
}

func (f *FaultyBlobStore) ResolveURL(ctx context.Context, path string) (string, error) {
	f.mu.Lock()
	f.record("resolve", path)
	if f.ResolveErr != nil {
		err := f.ResolveErr
		f.mu.Unlock()
		return "", err
	}
	if f.ResolveMisses != 0 {
		if f.ResolveMisses > 0 {
			f.ResolveMisses--
		}
		f.mu.Unlock()
		return "", fmt.Errorf("object %s: %w", path, reel.ErrNotYetAvailable)
	}
	f.mu.Unlock()
	return f.Inner.ResolveURL(ctx, path)
}

func (f *FaultyBlobStore) Fetch(ctx context.Context, path string, w io.Writer) error {
	f.mu.Lock()
	f.record("fetch", path)
	err := f.FailFetch
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.Inner.Fetch(ctx, path, w)
}

func (f *FaultyBlobStore) Delete(ctx context.Context, path string) error {
	f.mu.Lock()
	f.record("delete", path)
	err := f.FailDelete
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.Inner.Delete(ctx, path)
}

func (f *FaultyBlobStore) Close() error {
	return f.Inner.Close()
}

var _ reel.BlobStore = (*FaultyBlobStore)(nil)
