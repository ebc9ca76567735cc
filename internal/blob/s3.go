package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"reel-go/internal/reel"
)

// S3Store implements reel.BlobStore on an S3 bucket. Uploads go through the
// multipart upload manager; ResolveURL reports ErrNotYetAvailable until
// HeadObject sees the object.
type S3Store struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	baseURL  string
}

// NewS3Store loads the default AWS configuration. endpoint overrides the
// service URL for S3-compatible services and switches to path-style addressing.
// Static keys are used when accessKey is set; otherwise the default
// credential chain applies.
func NewS3Store(ctx context.Context, bucket, region, endpoint, baseURL, accessKey, secretKey string) (*S3Store, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	if accessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, ""),
		))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})

	if baseURL == "" {
		baseURL = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", bucket, cfg.Region)
		if endpoint != "" {
			baseURL = strings.TrimRight(endpoint, "/")
		}
	}
	return NewS3StoreFromClient(client, bucket, baseURL), nil
}

// NewS3StoreFromClient wraps an existing client.
func NewS3StoreFromClient(client *s3.Client, bucket, baseURL string) *S3Store {
	return &S3Store{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   bucket,
		baseURL:  baseURL,
	}
}

func (s *S3Store) Upload(ctx context.Context, objectPath string, r io.Reader, size int64, contentType string) error {
	if err := reel.ValidateObjectPath(objectPath); err != nil {
		return err
	}
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(objectPath),
		Body:          r,
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return fmt.Errorf("failed to upload to S3: %w", err)
	}
	return nil
}

func (s *S3Store) ResolveURL(ctx context.Context, objectPath string) (string, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectPath),
	})
	if err != nil {
		if isS3NotFound(err) {
			return "", fmt.Errorf("object %s: %w", objectPath, reel.ErrNotYetAvailable)
		}
		return "", fmt.Errorf("failed to head S3 object: %w", err)
	}
	return reel.ObjectURL(s.baseURL, s.bucket, objectPath), nil
}

func (s *S3Store) Fetch(ctx context.Context, objectPath string, w io.Writer) error {
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectPath),
	})
	if err != nil {
		if isS3NotFound(err) {
			return fmt.Errorf("object %s: %w", objectPath, reel.ErrNotFound)
		}
		return fmt.Errorf("failed to download from S3: %w", err)
	}
	defer result.Body.Close()

	if _, err := io.Copy(w, result.Body); err != nil {
		return fmt.Errorf("failed to read S3 object: %w", err)
	}
	return nil
}

// Delete removes the object. S3 does not report missing keys on delete.
func (s *S3Store) Delete(ctx context.Context, objectPath string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectPath),
	})
	if err != nil {
		return fmt.Errorf("failed to delete %s from S3: %w", objectPath, err)
	}
	return nil
}

func (s *S3Store) Close() error { return nil }

func isS3NotFound(err error) bool {
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	return errors.As(err, &nsk) || errors.As(err, &nf)
}

var _ reel.BlobStore = (*S3Store)(nil)
