package worker

import (
	"context"
	"strings"
	"testing"
	"time"

	"abstream/cache"
	"abstream/model"
	"abstream/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeletionWorker_PurgeRemovesRowsAndArtifacts(t *testing.T) {
	ctx := context.Background()
	renditions := newFakeRenditions()
	for _, b := range []int{64, 128} {
		require.NoError(t, renditions.Upsert(ctx, &model.Rendition{
			ChapterID: "ch1", Bitrate: b, Status: model.RenditionStatusCompleted,
		}))
	}
	require.NoError(t, renditions.Upsert(ctx, &model.Rendition{
		ChapterID: "ch2", Bitrate: 64, Status: model.RenditionStatusCompleted,
	}))

	store, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	for _, key := range []string{
		"bit_transcode/ch1/64k/playlist.m3u8",
		"bit_transcode/ch1/64k/segment_000.ts",
		"bit_transcode/ch1/master.m3u8",
		"bit_transcode/ch2/64k/segment_000.ts",
	} {
		require.NoError(t, store.Upload(ctx, key, strings.NewReader("x"), 1, ""))
	}

	w := NewDeletionWorker(nil, renditions, store, cache.NewStreamCache(nil, time.Hour))
	require.NoError(t, w.purge(ctx, "ch1"))

	left, err := renditions.CompletedBitrates(ctx, "ch1")
	require.NoError(t, err)
	assert.Empty(t, left)

	objects, err := store.List(ctx, "bit_transcode/")
	require.NoError(t, err)
	require.Len(t, objects, 1)
	assert.Equal(t, "bit_transcode/ch2/64k/segment_000.ts", objects[0].Key)

	// Untouched chapters keep their rows.
	other, err := renditions.CompletedBitrates(ctx, "ch2")
	require.NoError(t, err)
	assert.Equal(t, []int{64}, other)
}

func TestDeletionWorker_PurgeEmptyChapterIDIsNoOp(t *testing.T) {
	store, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	w := NewDeletionWorker(nil, newFakeRenditions(), store, cache.NewStreamCache(nil, time.Hour))
	assert.NoError(t, w.purge(context.Background(), ""))
}
