// Package objectstore_test tests the object store implementations.
package objectstore_test

import (
	"context"
	"testing"

	"github.com/book-expert/speech-server/internal/core"
	"github.com/book-expert/speech-server/internal/objectstore"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// StartTestServer starts an in-memory NATS server for testing purposes.
func StartTestServer(t *testing.T) (*server.Server, *nats.Conn) {
	t.Helper()

	opts := test.DefaultTestOptions
	opts.Port = -1
	opts.JetStream = true
	opts.StoreDir = t.TempDir()
	natsServer := test.RunServer(&opts)

	natsConnection, err := nats.Connect(natsServer.ClientURL())
	if err != nil {
		natsServer.Shutdown()
		t.Fatalf("Failed to connect to test NATS server: %v", err)
	}

	t.Cleanup(func() {
		natsConnection.Close()
		natsServer.Shutdown()
	})

	return natsServer, natsConnection
}

func newNatsStore(t *testing.T, bucket string) *objectstore.NatsObjectStore {
	t.Helper()

	_, natsConnection := StartTestServer(t)

	jetstreamContext, err := natsConnection.JetStream()
	require.NoError(t, err)

	store, err := objectstore.New(jetstreamContext, bucket)
	require.NoError(t, err)

	return store
}

func TestNatsObjectStore_UploadDownload(t *testing.T) {
	t.Parallel()

	store := newNatsStore(t, "generated")
	ctx := context.Background()
	uploadData := []byte("RIFF fake wav payload")

	require.NoError(t, store.Upload(ctx, "a1b2c3d4.wav", uploadData))

	downloadData, err := store.Download(ctx, "a1b2c3d4.wav")
	require.NoError(t, err)
	assert.Equal(t, uploadData, downloadData)
}

func TestNatsObjectStore_MissingObject(t *testing.T) {
	t.Parallel()

	store := newNatsStore(t, "generated")
	ctx := context.Background()

	_, err := store.Download(ctx, "missing.wav")
	require.ErrorIs(t, err, core.ErrObjectNotFound)

	err = store.Delete(ctx, "missing.wav")
	require.ErrorIs(t, err, core.ErrObjectNotFound)
}

func TestNatsObjectStore_ListAndDelete(t *testing.T) {
	t.Parallel()

	store := newNatsStore(t, "references")
	ctx := context.Background()

	keys, err := store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)

	require.NoError(t, store.Upload(ctx, "one.wav", []byte("1")))
	require.NoError(t, store.Upload(ctx, "one.txt", []byte("hello")))

	keys, err = store.List(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"one.wav", "one.txt"}, keys)

	require.NoError(t, store.Delete(ctx, "one.wav"))

	keys, err = store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"one.txt"}, keys)
}

func TestNatsObjectStore_BindsExistingBucket(t *testing.T) {
	t.Parallel()

	_, natsConnection := StartTestServer(t)

	jetstreamContext, err := natsConnection.JetStream()
	require.NoError(t, err)

	first, err := objectstore.New(jetstreamContext, "shared")
	require.NoError(t, err)
	require.NoError(t, first.Upload(context.Background(), "k", []byte("v")))

	second, err := objectstore.New(jetstreamContext, "shared")
	require.NoError(t, err)

	data, err := second.Download(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), data)
}
