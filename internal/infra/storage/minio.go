package storage

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	domain "github.com/bryanwahyu/labelscan/internal/domain/scans"
)

const defaultPresignExpiry = 15 * time.Minute

type MinioStore struct {
	client     *minio.Client
	bucketName string
	prefix     string
	expiry     time.Duration
}

type MinioOptions struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Prefix    string        // object key prefix, e.g. "previews/"
	Expiry    time.Duration // lifetime of presigned preview URLs
}

// NewMinio buat koneksi MinIO and makes sure the bucket exists
func NewMinio(ctx context.Context, o MinioOptions) (*MinioStore, error) {
	cli, err := minio.New(o.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(o.AccessKey, o.SecretKey, ""),
		Secure: o.UseSSL,
		Region: o.Region,
	})
	if err != nil {
		return nil, err
	}

	exists, err := cli.BucketExists(ctx, o.Bucket)
	if err != nil {
		return nil, err
	}
	if !exists {
		if err := cli.MakeBucket(ctx, o.Bucket, minio.MakeBucketOptions{Region: o.Region}); err != nil {
			return nil, err
		}
	}

	expiry := o.Expiry
	if expiry <= 0 {
		expiry = defaultPresignExpiry
	}
	return &MinioStore{client: cli, bucketName: o.Bucket, prefix: o.Prefix, expiry: expiry}, nil
}

// Put uploads the image and returns a presigned URL the front-end can display directly.
func (s *MinioStore) Put(ctx context.Context, key string, data []byte, mimeType string) (domain.PreviewRef, error) {
	object := s.prefix + key
	_, err := s.client.PutObject(ctx, s.bucketName, object, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: mimeType,
	})
	if err != nil {
		return domain.PreviewRef{}, fmt.Errorf("upload preview: %w", err)
	}

	u, err := s.client.PresignedGetObject(ctx, s.bucketName, object, s.expiry, nil)
	if err != nil {
		return domain.PreviewRef{}, fmt.Errorf("presign preview: %w", err)
	}
	return domain.PreviewRef{Key: key, URL: u.String()}, nil
}

// Delete removes the preview object once the run that owns it is discarded.
func (s *MinioStore) Delete(ctx context.Context, key string) error {
	return s.client.RemoveObject(ctx, s.bucketName, s.prefix+key, minio.RemoveObjectOptions{})
}

// Check verifies the bucket is reachable.
func (s *MinioStore) Check(ctx context.Context) error {
	ok, err := s.client.BucketExists(ctx, s.bucketName)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("bucket %s not found", s.bucketName)
	}
	return nil
}
