package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"time"

	"auction-engine/internal/config"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

//go:generate mockgen -source=minio.go -destination=mock_storage.go -package=storage

// ImageStore persists auction images and returns a retrievable URL
type ImageStore interface {
	Upload(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error)
}

// MinIOStore is a thin wrapper around the minio client. Objects are addressed
// by path-style URLs, so the bucket is expected to allow anonymous reads.
type MinIOStore struct {
	client *minio.Client
	bucket string
	base   *url.URL
}

// NewMinIOStore creates the client and ensures the bucket exists
func NewMinIOStore(ctx context.Context, cfg config.MinIOConfig) (*MinIOStore, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("minio config missing endpoint")
	}
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio new: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := mc.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
		exists, xerr := mc.BucketExists(ctx, cfg.Bucket)
		if xerr != nil || !exists {
			return nil, fmt.Errorf("minio bucket ensure: %w", err)
		}
	}

	return &MinIOStore{client: mc, bucket: cfg.Bucket, base: ObjectBaseURL(cfg)}, nil
}

func (s *MinIOStore) Upload(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error) {
	if _, err := s.client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{ContentType: contentType}); err != nil {
		return "", fmt.Errorf("minio put %s: %w", key, err)
	}
	return ObjectURL(s.base, key), nil
}

// ObjectBaseURL is the path-style URL of the configured bucket
func ObjectBaseURL(cfg config.MinIOConfig) *url.URL {
	scheme := "http"
	if cfg.UseSSL {
		scheme = "https"
	}
	return &url.URL{Scheme: scheme, Host: cfg.Endpoint, Path: "/" + cfg.Bucket}
}

// ObjectURL joins an object key onto a bucket URL
func ObjectURL(base *url.URL, key string) string {
	u := *base
	u.Path = path.Join(base.Path, key)
	return u.String()
}
