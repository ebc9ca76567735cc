package blob

import (
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"reel-go/internal/reel"
)

// MinioStore implements reel.BlobStore on a MinIO (or other S3-compatible) bucket.
type MinioStore struct {
	client  *minio.Client
	bucket  string
	baseURL string
}

// NewMinioStore connects to endpoint with static credentials and creates the
// bucket if it does not exist.
func NewMinioStore(ctx context.Context, endpoint, accessKey, secretKey, bucket string, useSSL bool, baseURL string) (*MinioStore, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("creating minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("checking bucket %s: %w", bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("creating bucket %s: %w", bucket, err)
		}
	}

	if baseURL == "" {
		scheme := "http"
		if useSSL {
			scheme = "https"
		}
		baseURL = scheme + "://" + endpoint
	}
	return &MinioStore{client: client, bucket: bucket, baseURL: baseURL}, nil
}

func (s *MinioStore) Upload(ctx context.Context, objectPath string, r io.Reader, size int64, contentType string) error {
	if err := reel.ValidateObjectPath(objectPath); err != nil {
		return err
	}
	_, err := s.client.PutObject(ctx, s.bucket, objectPath, r, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("uploading to minio: %w", err)
	}
	return nil
}

func (s *MinioStore) ResolveURL(ctx context.Context, objectPath string) (string, error) {
	if _, err := s.client.StatObject(ctx, s.bucket, objectPath, minio.StatObjectOptions{}); err != nil {
		if isMinioNotFound(err) {
			return "", fmt.Errorf("object %s: %w", objectPath, reel.ErrNotYetAvailable)
		}
		return "", fmt.Errorf("stat minio object: %w", err)
	}
	return reel.ObjectURL(s.baseURL, s.bucket, objectPath), nil
}

func (s *MinioStore) Fetch(ctx context.Context, objectPath string, w io.Writer) error {
	obj, err := s.client.GetObject(ctx, s.bucket, objectPath, minio.GetObjectOptions{})
	if err != nil {
		return fmt.Errorf("opening minio object: %w", err)
	}
	defer obj.Close()

	// GetObject is lazy; a missing key surfaces on the first read.
	if _, err := io.Copy(w, obj); err != nil {
		if isMinioNotFound(err) {
			return fmt.Errorf("object %s: %w", objectPath, reel.ErrNotFound)
		}
		return fmt.Errorf("reading minio object: %w", err)
	}
	return nil
}

func (s *MinioStore) Delete(ctx context.Context, objectPath string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, objectPath, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("removing minio object: %w", err)
	}
	return nil
}

func (s *MinioStore) Close() error { return nil }

func isMinioNotFound(err error) bool {
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}

var _ reel.BlobStore = (*MinioStore)(nil)
