// Package objectstore provides the key-value blob stores backing the asset stores.
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/book-expert/speech-server/internal/core"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// NatsObjectStore implements the core.ObjectStore interface using NATS JetStream.
type NatsObjectStore struct {
	bucket string
	store  nats.ObjectStore
}

// New creates the bucket, or binds to it if it already exists.
func New(jetstreamContext nats.JetStreamContext, bucketName string) (*NatsObjectStore, error) {
	store, err := jetstreamContext.CreateObjectStore(&nats.ObjectStoreConfig{
		Bucket:      bucketName,
		Description: "Speech server assets: " + bucketName,
		Storage:     nats.FileStorage,
		Replicas:    1,
	})
	if err != nil {
		if !errors.Is(err, jetstream.ErrBucketExists) && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
			return nil, fmt.Errorf("failed to create object store bucket '%s': %w", bucketName, err)
		}

		store, err = jetstreamContext.ObjectStore(bucketName)
		if err != nil {
			return nil, fmt.Errorf("failed to bind to existing object store bucket '%s': %w", bucketName, err)
		}
	}

	return &NatsObjectStore{bucket: bucketName, store: store}, nil
}

// Download retrieves an object from the NATS object store.
func (n *NatsObjectStore) Download(ctx context.Context, key string) ([]byte, error) {
	obj, err := n.store.Get(key, nats.Context(ctx))
	if err != nil {
		return nil, n.wrap("get", key, err)
	}

	data, readErr := io.ReadAll(obj)
	closeErr := obj.Close()

	if readErr != nil {
		return nil, fmt.Errorf("failed to read object '%s': %w", key, readErr)
	}

	if closeErr != nil {
		return data, fmt.Errorf("failed to close object '%s': %w", key, closeErr)
	}

	return data, nil
}

// Upload saves an object to the NATS object store.
func (n *NatsObjectStore) Upload(ctx context.Context, key string, data []byte) error {
	_, err := n.store.Put(&nats.ObjectMeta{Name: key}, bytes.NewReader(data), nats.Context(ctx))
	if err != nil {
		return fmt.Errorf("failed to put object '%s' to bucket '%s': %w", key, n.bucket, err)
	}

	return nil
}

// Delete removes an object from the bucket.
func (n *NatsObjectStore) Delete(_ context.Context, key string) error {
	err := n.store.Delete(key)
	if err != nil {
		return n.wrap("delete", key, err)
	}

	return nil
}

// List returns the names of every live object in the bucket.
func (n *NatsObjectStore) List(ctx context.Context) ([]string, error) {
	infos, err := n.store.List(nats.Context(ctx))
	if err != nil {
		if errors.Is(err, nats.ErrNoObjectsFound) {
			return []string{}, nil
		}

		return nil, fmt.Errorf("failed to list bucket '%s': %w", n.bucket, err)
	}

	keys := make([]string, 0, len(infos))

	for _, info := range infos {
		if info.Deleted {
			continue
		}

		keys = append(keys, info.Name)
	}

	return keys, nil
}

func (n *NatsObjectStore) wrap(op, key string, err error) error {
	if errors.Is(err, nats.ErrObjectNotFound) {
		return fmt.Errorf("%s '%s' in bucket '%s': %w", op, key, n.bucket, core.ErrObjectNotFound)
	}

	return fmt.Errorf("failed to %s object '%s' in bucket '%s': %w", op, key, n.bucket, err)
}
