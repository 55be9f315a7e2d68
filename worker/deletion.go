package worker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"abstream/broker"
	"abstream/cache"
	"abstream/logger"
	"abstream/model"
	"abstream/repository"
	"abstream/storage"
)

const deletionGroup = "abstream-deletion"

// DeletionWorker purges everything this system holds for a chapter when
// the upstream service deletes it: rendition rows, object-store artifacts,
// and cached playlists and segments.
type DeletionWorker struct {
	client     *broker.Client
	renditions repository.RenditionRepository
	store      storage.Store
	streams    *cache.StreamCache

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDeletionWorker wires the deletion worker.
func NewDeletionWorker(client *broker.Client, renditions repository.RenditionRepository, store storage.Store, streams *cache.StreamCache) *DeletionWorker {
	return &DeletionWorker{
		client:     client,
		renditions: renditions,
		store:      store,
		streams:    streams,
	}
}

// Start launches the single consumer loop.
func (w *DeletionWorker) Start(ctx context.Context) {
	consumerCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.wg.Add(1)
	go w.consume(consumerCtx)
}

// Stop cancels the consumer and waits for the in-flight message.
func (w *DeletionWorker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}

func (w *DeletionWorker) consume(ctx context.Context) {
	defer w.wg.Done()

	reader := w.client.Reader(broker.TopicChapterDeleted, deletionGroup)
	defer reader.Close()

	logger.Info("deletion consumer started")
	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, io.EOF) || strings.Contains(err.Error(), "EOF") {
				logger.Debug("deletion reader EOF")
			} else {
				logger.Warn("deletion read error", logger.ErrorField(err))
			}
			continue
		}

		var del model.ChapterDeletion
		if err := json.Unmarshal(msg.Value, &del); err != nil {
			logger.Warn("deletion message unmarshal error", logger.ErrorField(err))
			_ = reader.CommitMessages(ctx, msg)
			continue
		}

		// Offset commits are cumulative, so moving on to the next message
		// would also commit past this one. A failed purge is retried in
		// place; on shutdown the message stays uncommitted and is
		// redelivered after a rebalance or restart.
		purgeErr := w.purge(ctx, del.ChapterID)
		for purgeErr != nil {
			logger.Error("chapter purge failed, retrying",
				logger.String("chapterId", del.ChapterID),
				logger.ErrorField(purgeErr))
			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Second):
			}
			purgeErr = w.purge(ctx, del.ChapterID)
		}

		if err := reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			logger.Warn("deletion commit failed", logger.ErrorField(err))
		}
	}
}

// purge removes rows, artifacts, and cache entries for a chapter. Retries
// each step briefly before reporting failure.
func (w *DeletionWorker) purge(ctx context.Context, chapterID string) error {
	if chapterID == "" {
		return nil
	}

	var rows int64
	err := withRetries(ctx, 3, func() error {
		var err error
		rows, err = w.renditions.DeleteByChapter(ctx, chapterID)
		return err
	})
	if err != nil {
		return err
	}

	var objects int
	err = withRetries(ctx, 3, func() error {
		var err error
		objects, err = w.store.DeletePrefix(ctx, model.ChapterOutputDir(chapterID)+"/")
		return err
	})
	if err != nil {
		return err
	}

	cacheKeys, err := w.streams.PurgeChapter(ctx, chapterID)
	if err != nil {
		// Cache entries expire on their own; deletion still counts.
		logger.Warn("cache purge incomplete",
			logger.String("chapterId", chapterID),
			logger.ErrorField(err))
	}

	logger.Info("chapter purged",
		logger.String("chapterId", chapterID),
		logger.Int64("renditionRows", rows),
		logger.Int("objects", objects),
		logger.Int("cacheKeys", cacheKeys))
	return nil
}

func withRetries(ctx context.Context, attempts int, fn func() error) error {
	var err error
	delay := 500 * time.Millisecond
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return err
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}
