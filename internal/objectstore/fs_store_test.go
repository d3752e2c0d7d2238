package objectstore_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/book-expert/speech-server/internal/core"
	"github.com/book-expert/speech-server/internal/objectstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileObjectStore_RoundTrip(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "audio_output")
	store, err := objectstore.NewFilesystem(dir)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.Upload(ctx, "abc.wav", []byte("data")))

	onDisk, err := os.ReadFile(filepath.Join(dir, "abc.wav"))
	require.NoError(t, err)
	assert.Equal(t, []byte("data"), onDisk)

	data, err := store.Download(ctx, "abc.wav")
	require.NoError(t, err)
	assert.Equal(t, []byte("data"), data)

	require.NoError(t, store.Upload(ctx, "abc.wav", []byte("overwritten")))
	data, err = store.Download(ctx, "abc.wav")
	require.NoError(t, err)
	assert.Equal(t, []byte("overwritten"), data)
}

func TestFileObjectStore_NotFound(t *testing.T) {
	t.Parallel()

	store, err := objectstore.NewFilesystem(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()

	_, err = store.Download(ctx, "nope.wav")
	require.ErrorIs(t, err, core.ErrObjectNotFound)

	err = store.Delete(ctx, "nope.wav")
	require.ErrorIs(t, err, core.ErrObjectNotFound)
}

func TestFileObjectStore_RejectsTraversal(t *testing.T) {
	t.Parallel()

	store, err := objectstore.NewFilesystem(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()

	for _, key := range []string{"", "../escape.wav", "sub/dir.wav", ".hidden"} {
		err = store.Upload(ctx, key, []byte("x"))
		require.ErrorIs(t, err, objectstore.ErrInvalidKey, key)
	}
}

func TestFileObjectStore_ListSkipsHiddenAndDirs(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := objectstore.NewFilesystem(dir)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.Upload(ctx, "a.wav", []byte("1")))
	require.NoError(t, store.Upload(ctx, "a.txt", []byte("2")))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".tmp-left-over"), []byte("x"), 0o600))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested"), 0o755))

	keys, err := store.List(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a.wav", "a.txt"}, keys)
}

func TestFileObjectStore_ConcurrentUploads(t *testing.T) {
	t.Parallel()

	store, err := objectstore.NewFilesystem(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()

	var waitGroup sync.WaitGroup

	for range 16 {
		waitGroup.Add(1)

		go func() {
			defer waitGroup.Done()

			assert.NoError(t, store.Upload(ctx, "same.wav", []byte("payload")))
		}()
	}

	waitGroup.Wait()

	keys, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"same.wav"}, keys)
}
