// Package objectstore abstracts the Received-File Storage destination
// that the Chunked File Assembler publishes completed files to. Backends
// are pluggable: local filesystem, S3-compatible, Azure Blob, and GCS.
package objectstore

import (
	"context"
	"fmt"
	"io"
)

// Store publishes an assembled file's bytes under name, and serves reads
// back out for the File Stream Service's source side.
type Store interface {
	Put(ctx context.Context, name string, r io.Reader, size int64) error
	Get(ctx context.Context, name string) (io.ReadCloser, error)
	Stat(ctx context.Context, name string) (size int64, err error)
	Close() error
}

// Kind selects a backend implementation.
type Kind string

const (
	KindLocal Kind = "local"
	KindS3    Kind = "s3"
	KindMinio Kind = "minio"
	KindAzure Kind = "azure"
	KindGCS   Kind = "gcs"
)

// Config is the superset of fields any backend may need; unused fields
// for a given Kind are ignored.
type Config struct {
	Kind Kind

	LocalDir string

	Bucket          string
	Region          string
	Endpoint        string // S3-compatible endpoints (minio) and Azure account URL
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool

	GCSProjectID string
}

// New builds the Store for cfg.Kind.
func New(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Kind {
	case KindLocal, "":
		return newLocalStore(cfg.LocalDir)
	case KindS3:
		return newS3Store(ctx, cfg)
	case KindMinio:
		return newMinioStore(cfg)
	case KindAzure:
		return newAzureStore(cfg)
	case KindGCS:
		return newGCSStore(ctx, cfg)
	default:
		return nil, fmt.Errorf("objectstore: unknown backend kind %q", cfg.Kind)
	}
}
