package blob

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"reel-go/internal/reel"
)

// Firebase-style download URLs use exactly the object URL layout.
const gcsBaseURL = "https://firebasestorage.googleapis.com"

// GCSStore implements reel.BlobStore on a Google Cloud Storage bucket.
type GCSStore struct {
	client  *storage.Client
	bucket  *storage.BucketHandle
	name    string
	baseURL string
}

// NewGCSStore creates a client from credentialsFile, or from the default
// credentials when it is empty.
func NewGCSStore(ctx context.Context, bucket, credentialsFile, baseURL string) (*GCSStore, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating gcs client: %w", err)
	}
	if baseURL == "" {
		baseURL = gcsBaseURL
	}
	return &GCSStore{client: client, bucket: client.Bucket(bucket), name: bucket, baseURL: baseURL}, nil
}

func (s *GCSStore) Upload(ctx context.Context, objectPath string, r io.Reader, size int64, contentType string) error {
	if err := reel.ValidateObjectPath(objectPath); err != nil {
		return err
	}

	w := s.bucket.Object(objectPath).NewWriter(ctx)
	w.ContentType = contentType
	written, err := io.Copy(w, r)
	if err != nil {
		w.Close()
		return fmt.Errorf("writing gcs object: %w", err)
	}
	if written != size {
		w.Close()
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, written)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalizing gcs object: %w", err)
	}
	return nil
}

func (s *GCSStore) ResolveURL(ctx context.Context, objectPath string) (string, error) {
	if _, err := s.bucket.Object(objectPath).Attrs(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return "", fmt.Errorf("object %s: %w", objectPath, reel.ErrNotYetAvailable)
		}
		return "", fmt.Errorf("reading gcs object attrs: %w", err)
	}
	return reel.ObjectURL(s.baseURL, s.name, objectPath), nil
}

func (s *GCSStore) Fetch(ctx context.Context, objectPath string, w io.Writer) error {
	r, err := s.bucket.Object(objectPath).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return fmt.Errorf("object %s: %w", objectPath, reel.ErrNotFound)
		}
		return fmt.Errorf("opening gcs object: %w", err)
	}
	defer r.Close()

	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("reading gcs object: %w", err)
	}
	return nil
}

func (s *GCSStore) Delete(ctx context.Context, objectPath string) error {
	if err := s.bucket.Object(objectPath).Delete(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return fmt.Errorf("object %s: %w", objectPath, reel.ErrNotFound)
		}
		return fmt.Errorf("deleting gcs object: %w", err)
	}
	return nil
}

func (s *GCSStore) Close() error {
	return s.client.Close()
}

var _ reel.BlobStore = (*GCSStore)(nil)
