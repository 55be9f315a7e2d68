package worker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"abstream/core/hls"
	"abstream/logger"
	"abstream/model"
	"abstream/queue"
	"abstream/repository"
	"abstream/storage"
)

// MasterConcurrency is the worker concurrency of the fan-in queue. The
// master artifact has a single writer.
const MasterConcurrency = 1

// Fan-in polling cadence and deadline.
const (
	masterPollInterval = 5 * time.Second
	masterPollDeadline = 30 * time.Minute
)

// MasterWorker assembles the master playlist for a chapter once at least
// one variant rendition has completed. Waiting for all variants would make
// one failing bitrate block streaming entirely; partial success is
// acceptable.
type MasterWorker struct {
	store      storage.Store
	jobs       repository.JobRepository
	renditions repository.RenditionRepository
}

// NewMasterWorker wires the fan-in worker.
func NewMasterWorker(store storage.Store, jobs repository.JobRepository, renditions repository.RenditionRepository) *MasterWorker {
	return &MasterWorker{store: store, jobs: jobs, renditions: renditions}
}

// HandlerFor binds the worker to the master queue and returns its handler.
func (w *MasterWorker) HandlerFor(q ProgressQueue) queue.Handler {
	return func(ctx context.Context, job *queue.Job) error {
		var payload model.MasterJob
		if err := job.DecodePayload(&payload); err != nil {
			return queue.Permanent(err)
		}

		q.SetProgress(ctx, job, 10)

		completed, err := w.waitForRenditions(ctx, &payload)
		if err != nil {
			return err
		}
		q.SetProgress(ctx, job, 30)

		content := hls.MasterPlaylist(completed, 0)
		key := payload.OutputDir + "/master.m3u8"
		if err := w.store.Upload(ctx, key, strings.NewReader(content), int64(len(content)), hls.PlaylistContentType); err != nil {
			return fmt.Errorf("upload master playlist: %w", err)
		}

		w.markJobCompleted(ctx, payload.ChapterID)
		q.SetProgress(ctx, job, 100)

		logger.Info("master playlist published",
			logger.String("chapterId", payload.ChapterID),
			logger.String("key", key),
			logger.Any("bitrates", completed))
		return nil
	}
}

// waitForRenditions polls until at least one of the requested variants is
// completed, bounded by the fan-in deadline.
func (w *MasterWorker) waitForRenditions(ctx context.Context, p *model.MasterJob) ([]int, error) {
	wanted := make(map[int]bool, len(p.VariantBitrates))
	for _, b := range p.VariantBitrates {
		wanted[b] = true
	}

	deadline := time.Now().Add(masterPollDeadline)
	ticker := time.NewTicker(masterPollInterval)
	defer ticker.Stop()

	for {
		bitrates, err := w.renditions.CompletedBitrates(ctx, p.ChapterID)
		if err != nil {
			logger.Warn("rendition poll failed",
				logger.String("chapterId", p.ChapterID),
				logger.ErrorField(err))
		} else {
			var matched []int
			for _, b := range bitrates {
				if len(wanted) == 0 || wanted[b] {
					matched = append(matched, b)
				}
			}
			if len(matched) > 0 {
				return matched, nil
			}
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("no completed rendition for chapter %s within %s", p.ChapterID, masterPollDeadline)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// markJobCompleted finishes the chapter job row unless a bitrate failure
// already moved it to a terminal state.
func (w *MasterWorker) markJobCompleted(ctx context.Context, chapterID string) {
	jobRow, err := w.jobs.LatestByChapter(ctx, chapterID)
	if err != nil || jobRow == nil || jobRow.IsTerminal() {
		return
	}
	if err := w.jobs.MarkCompleted(ctx, jobRow.ID); err != nil {
		logger.Warn("could not mark job completed",
			logger.String("chapterId", chapterID),
			logger.ErrorField(err))
	}
}
