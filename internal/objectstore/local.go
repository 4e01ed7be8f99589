package objectstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

type localStore struct {
	dir string
}

func newLocalStore(dir string) (Store, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("objectstore: creating local dir %s: %w", dir, err)
	}
	return &localStore{dir: dir}, nil
}

func (l *localStore) Put(_ context.Context, name string, r io.Reader, _ int64) error {
	dest := filepath.Join(l.dir, filepath.Base(name))
	tmp := dest + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("objectstore: creating %s: %w", tmp, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("objectstore: writing %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("objectstore: closing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		return fmt.Errorf("objectstore: publishing %s: %w", dest, err)
	}
	return nil
}

func (l *localStore) Get(_ context.Context, name string) (io.ReadCloser, error) {
	f, err := os.Open(filepath.Join(l.dir, filepath.Base(name)))
	if err != nil {
		return nil, fmt.Errorf("objectstore: opening %s: %w", name, err)
	}
	return f, nil
}

func (l *localStore) Stat(_ context.Context, name string) (int64, error) {
	info, err := os.Stat(filepath.Join(l.dir, filepath.Base(name)))
	if err != nil {
		return 0, fmt.Errorf("objectstore: stat %s: %w", name, err)
	}
	return info.Size(), nil
}

func (l *localStore) Close() error { return nil }
