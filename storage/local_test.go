package storage

import (
	"context"
	"strings"
	"testing"

	"abstream/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *LocalStore {
	t.Helper()
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	return store
}

func TestLocalStore_UploadDownloadRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	body := "#EXTM3U\n#EXT-X-VERSION:3\n"
	key := "bit_transcode/ch1/128k/playlist.m3u8"
	require.NoError(t, store.Upload(ctx, key, strings.NewReader(body), int64(len(body)), "application/vnd.apple.mpegurl"))

	data, err := store.Download(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, body, string(data))

	exists, err := store.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestLocalStore_DownloadMissing(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Download(context.Background(), "does/not/exist.ts")
	assert.ErrorIs(t, err, ErrNotFound)

	exists, err := store.Exists(context.Background(), "does/not/exist.ts")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestLocalStore_ListSortedByKey(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, name := range []string{"segment_002.ts", "segment_000.ts", "segment_001.ts"} {
		require.NoError(t, store.Upload(ctx, "bit_transcode/ch1/64k/"+name, strings.NewReader("ts"), 2, "video/mp2t"))
	}

	objects, err := store.List(ctx, "bit_transcode/ch1/64k/")
	require.NoError(t, err)
	require.Len(t, objects, 3)
	assert.Equal(t, "bit_transcode/ch1/64k/segment_000.ts", objects[0].Key)
	assert.Equal(t, "bit_transcode/ch1/64k/segment_001.ts", objects[1].Key)
	assert.Equal(t, "bit_transcode/ch1/64k/segment_002.ts", objects[2].Key)
}

func TestLocalStore_ListMissingPrefixIsEmpty(t *testing.T) {
	store := newTestStore(t)

	objects, err := store.List(context.Background(), "bit_transcode/none/")
	require.NoError(t, err)
	assert.Empty(t, objects)
}

func TestLocalStore_DeletePrefix(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	keys := []string{
		"bit_transcode/ch1/64k/playlist.m3u8",
		"bit_transcode/ch1/64k/segment_000.ts",
		"bit_transcode/ch1/master.m3u8",
		"bit_transcode/ch2/64k/segment_000.ts",
	}
	for _, k := range keys {
		require.NoError(t, store.Upload(ctx, k, strings.NewReader("x"), 1, ""))
	}

	deleted, err := store.DeletePrefix(ctx, "bit_transcode/ch1/")
	require.NoError(t, err)
	assert.Equal(t, 3, deleted)

	remaining, err := store.List(ctx, "bit_transcode/")
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "bit_transcode/ch2/64k/segment_000.ts", remaining[0].Key)
}

func TestLocalStore_CopyAndMove(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Upload(ctx, "a/src.ts", strings.NewReader("payload"), 7, ""))

	require.NoError(t, store.Copy(ctx, "a/src.ts", "a/copy.ts"))
	data, err := store.Download(ctx, "a/copy.ts")
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	require.NoError(t, store.Move(ctx, "a/copy.ts", "b/moved.ts"))
	_, err = store.Download(ctx, "a/copy.ts")
	assert.ErrorIs(t, err, ErrNotFound)
	data, err = store.Download(ctx, "b/moved.ts")
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
}

func TestLocalStore_Metadata(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Upload(ctx, "m/playlist.m3u8", strings.NewReader("#EXTM3U\n"), 8, ""))

	meta, err := store.Metadata(ctx, "m/playlist.m3u8")
	require.NoError(t, err)
	assert.Equal(t, int64(8), meta.Size)
	assert.False(t, meta.LastModified.IsZero())

	_, err = store.Metadata(ctx, "m/none.m3u8")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocalStore_Test(t *testing.T) {
	store := newTestStore(t)
	assert.NoError(t, store.Test(context.Background()))
}

func TestNewSelectsProvider(t *testing.T) {
	store, err := New(&config.Config{StorageProvider: "local", LocalStorageDir: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, "local", store.Provider())
}
