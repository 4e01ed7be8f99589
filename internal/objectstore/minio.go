package objectstore

import (
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type minioStore struct {
	client *minio.Client
	bucket string
}

// newMinioStore builds a Store against any S3-compatible endpoint (used
// for on-prem object storage deployments that are not AWS itself).
func newMinioStore(cfg Config) (Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("objectstore: building minio client: %w", err)
	}
	return &minioStore{client: client, bucket: cfg.Bucket}, nil
}

func (m *minioStore) Put(ctx context.Context, name string, r io.Reader, size int64) error {
	_, err := m.client.PutObject(ctx, m.bucket, name, r, size, minio.PutObjectOptions{})
	if err != nil {
		return fmt.Errorf("objectstore: minio put %s: %w", name, err)
	}
	return nil
}

func (m *minioStore) Get(ctx context.Context, name string) (io.ReadCloser, error) {
	obj, err := m.client.GetObject(ctx, m.bucket, name, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("objectstore: minio get %s: %w", name, err)
	}
	return obj, nil
}

func (m *minioStore) Stat(ctx context.Context, name string) (int64, error) {
	info, err := m.client.StatObject(ctx, m.bucket, name, minio.StatObjectOptions{})
	if err != nil {
		return 0, fmt.Errorf("objectstore: minio stat %s: %w", name, err)
	}
	return info.Size, nil
}

func (m *minioStore) Close() error { return nil }
