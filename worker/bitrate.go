package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"abstream/config"
	"abstream/core/audio"
	"abstream/core/hls"
	"abstream/logger"
	"abstream/model"
	"abstream/queue"
	"abstream/repository"
	"abstream/storage"
)

// ErrInputMissing is returned when the source file is absent from object
// storage. Deterministic, so never retried.
var ErrInputMissing = errors.New("source file missing in object storage")

// BitrateConcurrency is the worker concurrency per bitrate queue.
// Encoding is CPU and IO bound; two encoders per queue keeps the host
// responsive.
const BitrateConcurrency = 2

// BitrateWorker processes one bitrate pipeline: stage input, encode,
// upload artifacts, record the rendition.
type BitrateWorker struct {
	cfg        *config.Config
	encoder    *audio.Encoder
	store      storage.Store
	jobs       repository.JobRepository
	renditions repository.RenditionRepository
}

// NewBitrateWorker wires a bitrate worker.
func NewBitrateWorker(
	cfg *config.Config,
	encoder *audio.Encoder,
	store storage.Store,
	jobs repository.JobRepository,
	renditions repository.RenditionRepository,
) *BitrateWorker {
	return &BitrateWorker{
		cfg:        cfg,
		encoder:    encoder,
		store:      store,
		jobs:       jobs,
		renditions: renditions,
	}
}

// HandlerFor binds the worker to one bitrate queue and returns its
// queue.Handler.
func (w *BitrateWorker) HandlerFor(q ProgressQueue) queue.Handler {
	return func(ctx context.Context, job *queue.Job) error {
		var payload model.BitrateJob
		if err := job.DecodePayload(&payload); err != nil {
			return queue.Permanent(err)
		}

		q.SetProgress(ctx, job, 10)

		if err := w.process(ctx, job, &payload); err != nil {
			w.markJobFailed(ctx, payload.ChapterID, fmt.Sprintf("%dk: %v", payload.Bitrate, err))
			return err
		}
		return nil
	}
}

func (w *BitrateWorker) process(ctx context.Context, job *queue.Job, p *model.BitrateJob) error {
	// Already transcoded renditions make redelivery a no-op.
	existing, err := w.renditions.Get(ctx, p.ChapterID, p.Bitrate)
	if err != nil {
		return fmt.Errorf("load rendition: %w", err)
	}
	if existing != nil && existing.Status == model.RenditionStatusCompleted {
		logger.Info("rendition already completed, skipping",
			logger.String("chapterId", p.ChapterID),
			logger.Int("bitrate", p.Bitrate))
		w.updateJobProgress(ctx, p.ChapterID, 100)
		return nil
	}

	staged, cleanup, err := w.stageInput(ctx, p)
	if err != nil {
		return err
	}
	defer cleanup()

	outputDir, uploadNeeded := w.encodeTarget(p)
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return fmt.Errorf("create encode dir %s: %w", outputDir, err)
	}

	err = w.encoder.EncodeHLS(ctx, audio.EncodeParams{
		InputPath:       staged,
		OutputDir:       outputDir,
		Bitrate:         p.Bitrate,
		SegmentDuration: p.SegmentDuration,
		OnProgress: func(percent int) {
			// Encoder progress occupies the 10..90 band of the chapter job.
			w.updateJobProgress(ctx, p.ChapterID, 10+percent*80/100)
		},
	})
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}

	remoteDir := model.BitrateOutputDir(p.ChapterID, p.Bitrate)
	if uploadNeeded {
		if err := w.uploadRendition(ctx, outputDir, remoteDir); err != nil {
			return err
		}
	}

	rendition := &model.Rendition{
		ChapterID:       p.ChapterID,
		Bitrate:         p.Bitrate,
		PlaylistURL:     w.store.URL(remoteDir + "/playlist.m3u8"),
		SegmentsPath:    remoteDir,
		StorageProvider: w.store.Provider(),
		Status:          model.RenditionStatusCompleted,
	}
	if err := w.renditions.Upsert(ctx, rendition); err != nil {
		return fmt.Errorf("record rendition: %w", err)
	}

	logger.Info("rendition completed",
		logger.String("chapterId", p.ChapterID),
		logger.Int("bitrate", p.Bitrate),
		logger.String("segmentsPath", remoteDir))
	return nil
}

// stageInput materializes the source file at a temporary local path and
// returns a cleanup func that removes it again.
func (w *BitrateWorker) stageInput(ctx context.Context, p *model.BitrateJob) (string, func(), error) {
	exists, err := w.store.Exists(ctx, p.InputPath)
	if err != nil {
		return "", nil, fmt.Errorf("check source %s: %w", p.InputPath, err)
	}
	if !exists {
		return "", nil, queue.Permanent(fmt.Errorf("%w: %s", ErrInputMissing, p.InputPath))
	}

	// Development keeps a local mirror of the source next to the HLS
	// output so encode runs can be inspected.
	if w.cfg.IsDevelopment() && w.store.Provider() != "local" {
		mirror := filepath.Join(w.cfg.LocalStorageDir, filepath.FromSlash(p.InputPath))
		if err := w.store.DownloadFile(ctx, p.InputPath, mirror); err != nil {
			return "", nil, fmt.Errorf("mirror source %s: %w", p.InputPath, err)
		}
	}

	tempDir := filepath.Join(w.cfg.LocalStorageDir, "temp")
	staged := filepath.Join(tempDir, fmt.Sprintf("temp_%d_%s", time.Now().UnixMilli(), filepath.Base(p.InputPath)))
	if err := w.store.DownloadFile(ctx, p.InputPath, staged); err != nil {
		return "", nil, fmt.Errorf("stage source %s: %w", p.InputPath, err)
	}

	cleanup := func() {
		if err := os.Remove(staged); err != nil && !os.IsNotExist(err) {
			logger.Warn("could not remove staged input",
				logger.String("path", staged),
				logger.ErrorField(err))
		}
		// Drop the temp dir when this was the last staged file.
		if entries, err := os.ReadDir(tempDir); err == nil && len(entries) == 0 {
			_ = os.Remove(tempDir)
		}
	}
	return staged, cleanup, nil
}

// encodeTarget picks the local directory ffmpeg writes into. With local
// storage the encoder writes straight to the destination keys and no
// upload step is needed.
func (w *BitrateWorker) encodeTarget(p *model.BitrateJob) (string, bool) {
	remoteDir := model.BitrateOutputDir(p.ChapterID, p.Bitrate)
	if local, ok := w.store.(*storage.LocalStore); ok {
		return filepath.Join(local.Root(), filepath.FromSlash(remoteDir)), false
	}
	return filepath.Join(w.cfg.LocalStorageDir, "temp", filepath.FromSlash(remoteDir)), true
}

// uploadRendition pushes the playlist and every segment to object storage,
// then removes the local copies.
func (w *BitrateWorker) uploadRendition(ctx context.Context, localDir, remoteDir string) error {
	entries, err := os.ReadDir(localDir)
	if err != nil {
		return fmt.Errorf("list encode output %s: %w", localDir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		var contentType string
		switch filepath.Ext(name) {
		case ".m3u8":
			contentType = hls.PlaylistContentType
		case ".ts":
			contentType = hls.SegmentContentType
		default:
			continue
		}
		local := filepath.Join(localDir, name)
		if err := w.store.UploadFile(ctx, remoteDir+"/"+name, local, contentType); err != nil {
			return fmt.Errorf("upload %s: %w", name, err)
		}
	}

	if err := os.RemoveAll(localDir); err != nil {
		logger.Warn("could not remove local encode output",
			logger.String("dir", localDir),
			logger.ErrorField(err))
	}
	return nil
}

func (w *BitrateWorker) updateJobProgress(ctx context.Context, chapterID string, progress int) {
	jobRow, err := w.jobs.LatestByChapter(ctx, chapterID)
	if err != nil || jobRow == nil || jobRow.IsTerminal() {
		return
	}
	if err := w.jobs.UpdateProgress(ctx, jobRow.ID, progress); err != nil {
		logger.Debug("job progress update failed",
			logger.String("chapterId", chapterID),
			logger.ErrorField(err))
	}
}

func (w *BitrateWorker) markJobFailed(ctx context.Context, chapterID, message string) {
	jobRow, err := w.jobs.LatestByChapter(ctx, chapterID)
	if err != nil || jobRow == nil || jobRow.IsTerminal() {
		return
	}
	if err := w.jobs.MarkFailed(ctx, jobRow.ID, message); err != nil {
		logger.Warn("could not mark job failed",
			logger.String("chapterId", chapterID),
			logger.ErrorField(err))
	}
}
