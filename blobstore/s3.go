package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"path"

	"productfinder/config"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Store keeps blobs in an S3-compatible bucket (MinIO, AWS S3).
type S3Store struct {
	client *minio.Client
	bucket string
}

// NewS3Store connects to cfg.Endpoint and creates cfg.Bucket when missing.
func NewS3Store(ctx context.Context, cfg config.Blob) (*S3Store, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 blob store needs an endpoint and a bucket")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("cannot create s3 client for %s: %w", cfg.Endpoint, err)
	}
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("cannot reach bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("cannot create bucket %s: %w", cfg.Bucket, err)
		}
	}
	return &S3Store{client: client, bucket: cfg.Bucket}, nil
}

// Get downloads the object stored under key.
func (s *S3Store) Get(ctx context.Context, key string) ([]byte, error) {
	k, err := CleanKey(key)
	if err != nil {
		return nil, err
	}
	obj, err := s.client.GetObject(ctx, s.bucket, k, minio.GetObjectOptions{})
	if err != nil {
		return nil, s.translate(k, err)
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, s.translate(k, err)
	}
	return data, nil
}

// Put uploads data under key.
func (s *S3Store) Put(ctx context.Context, key string, data []byte) error {
	k, err := CleanKey(key)
	if err != nil {
		return err
	}
	opts := minio.PutObjectOptions{ContentType: mime.TypeByExtension(path.Ext(k))}
	if _, err := s.client.PutObject(ctx, s.bucket, k, bytes.NewReader(data), int64(len(data)), opts); err != nil {
		return fmt.Errorf("cannot upload %s to bucket %s: %w", k, s.bucket, err)
	}
	return nil
}

func (s *S3Store) translate(key string, err error) error {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket":
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return fmt.Errorf("cannot download %s from bucket %s: %w", key, s.bucket, err)
}
