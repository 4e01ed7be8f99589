package objectstore

import (
	"context"
	"fmt"
	"io"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
)

type azureStore struct {
	client    *azblob.Client
	container string
}

func newAzureStore(cfg Config) (Store, error) {
	if cfg.AccessKeyID == "" {
		return nil, fmt.Errorf("objectstore: azure backend requires a shared key (access_key_id/secret_access_key)")
	}

	cred, err := azblob.NewSharedKeyCredential(cfg.AccessKeyID, cfg.SecretAccessKey)
	if err != nil {
		return nil, fmt.Errorf("objectstore: building azure shared key credential: %w", err)
	}
	client, err := azblob.NewClientWithSharedKeyCredential(cfg.Endpoint, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("objectstore: building azure client: %w", err)
	}

	return &azureStore{client: client, container: cfg.Bucket}, nil
}

func (a *azureStore) Put(ctx context.Context, name string, r io.Reader, _ int64) error {
	_, err := a.client.UploadStream(ctx, a.container, name, r, nil)
	if err != nil {
		return fmt.Errorf("objectstore: azure put %s: %w", name, err)
	}
	return nil
}

func (a *azureStore) Get(ctx context.Context, name string) (io.ReadCloser, error) {
	resp, err := a.client.DownloadStream(ctx, a.container, name, nil)
	if err != nil {
		return nil, fmt.Errorf("objectstore: azure get %s: %w", name, err)
	}
	return resp.Body, nil
}

func (a *azureStore) Stat(ctx context.Context, name string) (int64, error) {
	blobClient := a.client.ServiceClient().NewContainerClient(a.container).NewBlobClient(name)
	props, err := blobClient.GetProperties(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("objectstore: azure get properties %s: %w", name, err)
	}
	if props.ContentLength == nil {
		return 0, nil
	}
	return *props.ContentLength, nil
}

func (a *azureStore) Close() error { return nil }
