package blob

import (
	"context"
	"fmt"

	"reel-go/internal/config"
	"reel-go/internal/reel"
)

// NewBlobStoreFromConfig creates a BlobStore based on the blob config type.
// With SealEdits set, objects under editPrefix are sealed with enc.
func NewBlobStoreFromConfig(ctx context.Context, cfg config.BlobConfig, enc reel.Encryptor, editPrefix string, clock reel.Clock) (reel.BlobStore, error) {
	bucket := cfg.Bucket
	if bucket == "" {
		bucket = "reel"
	}

	var (
		store reel.BlobStore
		err   error
	)
	switch cfg.Type {
	case "memory":
		store = NewMemoryStore(bucket, clock, cfg.Visibility.Duration)
	case "filesystem":
		if cfg.FSRoot == "" {
			return nil, fmt.Errorf("filesystem blob store requires fs_root to be set")
		}
		store, err = NewFileSystemStore(cfg.FSRoot, bucket, cfg.BaseURL)
	case "s3":
		store, err = NewS3Store(ctx, bucket, cfg.S3Region, cfg.S3Endpoint, cfg.BaseURL, cfg.S3AccessKey, cfg.S3SecretKey)
	case "gcs":
		store, err = NewGCSStore(ctx, bucket, cfg.GCSCredentialsFile, cfg.BaseURL)
	case "minio":
		store, err = NewMinioStore(ctx, cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, bucket, cfg.MinioUseSSL, cfg.BaseURL)
	default:
		return nil, fmt.Errorf("unknown blob store type: %s", cfg.Type)
	}
	if err != nil {
		return nil, err
	}

	if cfg.SealEdits {
		if enc == nil || !enc.IsConfigured() {
			store.Close()
			return nil, fmt.Errorf("seal_edits requires encryption keys (run `reel keys init`)")
		}
		store = NewSealedStore(store, enc, editPrefix)
	}
	return store, nil
}
