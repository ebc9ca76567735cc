package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"reel-go/internal/reel"
)

// FileSystemStore keeps objects as files below a root directory:
//
//	<root>/<bucket>/<object path>
//
// Writes go to a temp file that is renamed into place, so a reader never sees
// a partial object and ResolveURL succeeds as soon as Upload returns.
type FileSystemStore struct {
	root    string
	bucket  string
	baseURL string
}

// NewFileSystemStore creates the bucket directory under root.
// baseURL defaults to a file:// URL of root.
func NewFileSystemStore(root, bucket, baseURL string) (*FileSystemStore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving blob root: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(abs, bucket), 0755); err != nil {
		return nil, fmt.Errorf("failed to create bucket directory: %w", err)
	}
	if baseURL == "" {
		baseURL = "file://" + filepath.ToSlash(abs)
	}
	return &FileSystemStore{root: abs, bucket: bucket, baseURL: baseURL}, nil
}

func (s *FileSystemStore) Upload(ctx context.Context, objectPath string, r io.Reader, size int64, contentType string) error {
	dest, err := s.filePath(objectPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("failed to create object directory: %w", err)
	}
	return writeFile(dest, r, size)
}

func (s *FileSystemStore) ResolveURL(ctx context.Context, objectPath string) (string, error) {
	p, err := s.filePath(objectPath)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("object %s: %w", objectPath, reel.ErrNotFound)
		}
		return "", fmt.Errorf("stat object: %w", err)
	}
	return reel.ObjectURL(s.baseURL, s.bucket, objectPath), nil
}

func (s *FileSystemStore) Fetch(ctx context.Context, objectPath string, w io.Writer) error {
	p, err := s.filePath(objectPath)
	if err != nil {
		return err
	}
	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("object %s: %w", objectPath, reel.ErrNotFound)
		}
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}
	return nil
}

func (s *FileSystemStore) Delete(ctx context.Context, objectPath string) error {
	p, err := s.filePath(objectPath)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("object %s: %w", objectPath, reel.ErrNotFound)
		}
		return fmt.Errorf("failed to remove file: %w", err)
	}
	return nil
}

func (s *FileSystemStore) Close() error { return nil }

func (s *FileSystemStore) filePath(objectPath string) (string, error) {
	if err := reel.ValidateObjectPath(objectPath); err != nil {
		return "", err
	}
	return filepath.Join(s.root, s.bucket, filepath.FromSlash(objectPath)), nil
}

// writeFile writes r to destPath through a temp file and rename.
func writeFile(destPath string, r io.Reader, expectedSize int64) error {
	tmpFile, err := os.CreateTemp(filepath.Dir(destPath), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmpFile, r)
	if err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if written != expectedSize {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", expectedSize, written)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	success = true
	return nil
}

var _ reel.BlobStore = (*FileSystemStore)(nil)
