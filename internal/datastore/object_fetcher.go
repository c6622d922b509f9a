package datastore

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ObjectStoreConfig holds the S3-compatible endpoint settings
type ObjectStoreConfig struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	Region          string
}

// ObjectFetcher reads s3://bucket/key locations from an S3-compatible store
type ObjectFetcher struct {
	client *minio.Client
}

// NewObjectFetcher creates a fetcher backed by a minio client
func NewObjectFetcher(cfg ObjectStoreConfig) (*ObjectFetcher, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object store client: %w", err)
	}
	return &ObjectFetcher{client: client}, nil
}

// Fetch downloads the whole object
func (f *ObjectFetcher) Fetch(ctx context.Context, location string) ([]byte, error) {
	bucket, key, err := ParseObjectLocation(location)
	if err != nil {
		return nil, err
	}

	obj, err := f.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get object %s/%s: %w", bucket, key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("failed to read object %s/%s: %w", bucket, key, err)
	}
	return data, nil
}

// ParseObjectLocation splits s3://bucket/key into its parts
func ParseObjectLocation(location string) (bucket, key string, err error) {
	rest := strings.TrimPrefix(location, "s3://")
	if rest == location {
		return "", "", fmt.Errorf("object location %q must start with s3://", location)
	}

	bucket, key, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("object location %q must be s3://bucket/key", location)
	}
	return bucket, key, nil
}
