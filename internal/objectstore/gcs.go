package objectstore

import (
	"context"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
)

type gcsStore struct {
	client *storage.Client
	bucket string
}

func newGCSStore(ctx context.Context, cfg Config) (Store, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("objectstore: building gcs client: %w", err)
	}
	return &gcsStore{client: client, bucket: cfg.Bucket}, nil
}

func (g *gcsStore) Put(ctx context.Context, name string, r io.Reader, _ int64) error {
	w := g.client.Bucket(g.bucket).Object(name).NewWriter(ctx)
	if _, err := io.Copy(w, r); err != nil {
		w.Close()
		return fmt.Errorf("objectstore: gcs put %s: %w", name, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("objectstore: gcs finalize %s: %w", name, err)
	}
	return nil
}

func (g *gcsStore) Get(ctx context.Context, name string) (io.ReadCloser, error) {
	r, err := g.client.Bucket(g.bucket).Object(name).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("objectstore: gcs get %s: %w", name, err)
	}
	return r, nil
}

func (g *gcsStore) Stat(ctx context.Context, name string) (int64, error) {
	attrs, err := g.client.Bucket(g.bucket).Object(name).Attrs(ctx)
	if err != nil {
		return 0, fmt.Errorf("objectstore: gcs attrs %s: %w", name, err)
	}
	return attrs.Size, nil
}

func (g *gcsStore) Close() error {
	return g.client.Close()
}
