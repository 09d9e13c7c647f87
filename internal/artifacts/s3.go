// Package artifacts mirrors produced job artifacts to S3-compatible storage.
package artifacts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Mirror copies an artifact to secondary storage and returns its object key.
type Mirror interface {
	Upload(ctx context.Context, key string, data []byte, contentType string, metadata map[string]string) (string, error)
}

// S3Config holds configuration for S3-compatible storage.
type S3Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
}

// S3Mirror uploads artifacts with minio-go.
type S3Mirror struct {
	client *minio.Client
	bucket string
	region string
}

// NewS3Mirror builds a mirror. No network call happens until EnsureBucket or Upload.
func NewS3Mirror(cfg S3Config) (*S3Mirror, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, errors.New("artifacts: endpoint is required")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("artifacts: bucket is required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("artifacts: new client: %w", err)
	}
	return &S3Mirror{client: client, bucket: cfg.Bucket, region: cfg.Region}, nil
}

// Bucket returns the destination bucket.
func (s *S3Mirror) Bucket() string { return s.bucket }

// EnsureBucket creates the bucket if it does not exist.
func (s *S3Mirror) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("artifacts: bucket exists: %w", err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
		return fmt.Errorf("artifacts: make bucket: %w", err)
	}
	return nil
}

// Upload puts data under key.
func (s *S3Mirror) Upload(ctx context.Context, key string, data []byte, contentType string, metadata map[string]string) (string, error) {
	opts := minio.PutObjectOptions{
		ContentType:  contentType,
		UserMetadata: metadata,
	}
	info, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), opts)
	if err != nil {
		return "", fmt.Errorf("artifacts: put %s: %w", key, err)
	}
	return info.Key, nil
}

// ObjectKey builds the object key of an artifact from its storage key and
// file name, e.g. 2025-11-26/<job_id>/output.png.
func ObjectKey(folderKey, name string) string {
	return path.Join(strings.Trim(folderKey, "/"), name)
}

// ContentType guesses the MIME type from the artifact name.
func ContentType(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".webp":
		return "image/webp"
	case ".json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}
