// Package storage provides the S3-compatible object store for submitted
// document images.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	appextraction "github.com/facturio/backend/internal/application/extraction"
	infraconfig "github.com/facturio/backend/internal/infrastructure/config"
	"go.uber.org/zap"
)

var _ appextraction.DocumentStore = (*S3DocumentStorage)(nil)

// S3DocumentStorage stores document images in any S3-compatible backend
// (AWS S3, MinIO, etc.). Documents are written server-side after upload;
// reads go through presigned URLs so image bytes never pass back through
// the API.
type S3DocumentStorage struct {
	client            *s3.Client
	presignClient     *s3.PresignClient
	bucket            string
	presignExpiration time.Duration
	logger            *zap.Logger
}

// S3DocumentStorageOption is a functional option for configuring S3DocumentStorage
type S3DocumentStorageOption func(*S3DocumentStorage)

// WithLogger sets a custom logger for S3DocumentStorage
func WithLogger(logger *zap.Logger) S3DocumentStorageOption {
	return func(s *S3DocumentStorage) {
		s.logger = logger
	}
}

// WithPresignExpiration sets a custom presign expiration duration
func WithPresignExpiration(d time.Duration) S3DocumentStorageOption {
	return func(s *S3DocumentStorage) {
		s.presignExpiration = d
	}
}

// resolveEndpoint normalizes the configured endpoint to a full URL,
// defaulting to the local MinIO used in development.
func resolveEndpoint(cfg *infraconfig.StorageConfig) (string, error) {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = "http://localhost:9000"
	}
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		scheme := "http://"
		if cfg.UseSSL {
			scheme = "https://"
		}
		endpoint = scheme + endpoint
	}
	if _, err := url.Parse(endpoint); err != nil {
		return "", fmt.Errorf("invalid storage endpoint: %w", err)
	}
	return endpoint, nil
}

// NewS3DocumentStorage creates a new S3DocumentStorage from configuration
func NewS3DocumentStorage(cfg *infraconfig.StorageConfig, opts ...S3DocumentStorageOption) (*S3DocumentStorage, error) {
	switch {
	case cfg == nil:
		return nil, errors.New("storage configuration is required")
	case cfg.Bucket == "":
		return nil, errors.New("storage bucket is required")
	case cfg.AccessKey == "":
		return nil, errors.New("storage access key is required")
	case cfg.SecretKey == "":
		return nil, errors.New("storage secret key is required")
	}

	endpoint, err := resolveEndpoint(cfg)
	if err != nil {
		return nil, err
	}

	region := cfg.Region
	if region == "" {
		region = "eu-central-1"
	}

	awsCfg, err := config.LoadDefaultConfig(context.Background(),
		config.WithRegion(region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKey,
			cfg.SecretKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
		o.BaseEndpoint = aws.String(endpoint)
	})

	store := &S3DocumentStorage{
		client:            client,
		presignClient:     s3.NewPresignClient(client),
		bucket:            cfg.Bucket,
		presignExpiration: cfg.PresignExpiration,
		logger:            zap.NewNop(),
	}
	for _, opt := range opts {
		opt(store)
	}
	if store.presignExpiration == 0 {
		store.presignExpiration = 15 * time.Minute
	}

	return store, nil
}

// EnsureBucket creates the bucket if it doesn't exist. Called during
// application startup.
func (s *S3DocumentStorage) EnsureBucket(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err == nil {
		return nil
	}

	var notFound *types.NotFound
	var noSuchBucket *types.NoSuchBucket
	if !errors.As(err, &notFound) && !errors.As(err, &noSuchBucket) {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}

	s.logger.Info("Creating storage bucket", zap.String("bucket", s.bucket))
	if _, err := s.client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(s.bucket),
	}); err != nil {
		// Concurrent startup of a second replica can win the creation race
		var alreadyOwned *types.BucketAlreadyOwnedByYou
		if errors.As(err, &alreadyOwned) {
			return nil
		}
		return fmt.Errorf("failed to create bucket: %w", err)
	}

	return nil
}

// Upload writes a submitted document to the store
func (s *S3DocumentStorage) Upload(ctx context.Context, storageKey string, data []byte, contentType string) error {
	if storageKey == "" {
		return errors.New("storage key is required")
	}

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(storageKey),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("failed to upload document: %w", err)
	}

	return nil
}

// GenerateDownloadURL generates a presigned URL for retrieving a stored
// document. A non-positive expiresIn falls back to the configured default.
func (s *S3DocumentStorage) GenerateDownloadURL(ctx context.Context, storageKey string, expiresIn time.Duration) (string, time.Time, error) {
	if storageKey == "" {
		return "", time.Time{}, errors.New("storage key is required")
	}
	if expiresIn <= 0 {
		expiresIn = s.presignExpiration
	}

	presignReq, err := s.presignClient.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(storageKey),
	}, s3.WithPresignExpires(expiresIn))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to generate download URL: %w", err)
	}

	return presignReq.URL, time.Now().Add(expiresIn), nil
}

// DeleteObject removes a stored document
func (s *S3DocumentStorage) DeleteObject(ctx context.Context, storageKey string) error {
	if storageKey == "" {
		return errors.New("storage key is required")
	}

	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(storageKey),
	})
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}

	return nil
}

// isObjectMissing reports whether an S3 error means the object does not
// exist. Some S3-compatible services report this as a plain API error
// rather than a typed one.
func isObjectMissing(err error) bool {
	var notFound *types.NotFound
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &notFound) || errors.As(err, &noSuchKey) {
		return true
	}
	return strings.Contains(err.Error(), "NotFound") || strings.Contains(err.Error(), "NoSuchKey")
}

// ObjectExists checks if a stored document exists
func (s *S3DocumentStorage) ObjectExists(ctx context.Context, storageKey string) (bool, error) {
	if storageKey == "" {
		return false, errors.New("storage key is required")
	}

	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(storageKey),
	})
	if err != nil {
		if isObjectMissing(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check document existence: %w", err)
	}

	return true, nil
}
