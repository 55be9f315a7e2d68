package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"abstream/broker"
	"abstream/config"
	"abstream/logger"
	"abstream/model"
	"abstream/queue"
	"abstream/repository"
)

// intakeGroup is the consumer group shared by all intake readers.
const intakeGroup = "abstream-intake"

// masterStartDelay gives the first bitrate job a head start before the
// fan-in step begins polling.
const masterStartDelay = 5 * time.Second

// maxIntakeRetries bounds the escalate-to-low re-publish loop.
const maxIntakeRetries = 3

// IntakeWorker consumes the priority-routed transcode topics and fans a
// chapter request out into per-bitrate jobs plus one master job.
type IntakeWorker struct {
	client     *broker.Client
	cfg        *config.Config
	jobs       repository.JobRepository
	renditions repository.RenditionRepository
	queues     map[int]JobQueue // bitrate -> queue
	master     JobQueue

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewIntakeWorker wires the intake worker with its queues.
func NewIntakeWorker(
	client *broker.Client,
	cfg *config.Config,
	jobs repository.JobRepository,
	renditions repository.RenditionRepository,
	queues map[int]JobQueue,
	master JobQueue,
) *IntakeWorker {
	return &IntakeWorker{
		client:     client,
		cfg:        cfg,
		jobs:       jobs,
		renditions: renditions,
		queues:     queues,
		master:     master,
	}
}

// Start launches one reader per intake topic so high-priority chapters are
// never queued behind bulk work.
func (w *IntakeWorker) Start(ctx context.Context) {
	consumerCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	for _, topic := range broker.IntakeTopics {
		w.wg.Add(1)
		go w.consume(consumerCtx, topic)
	}
}

// Stop cancels the readers and waits for in-flight messages to finish.
func (w *IntakeWorker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}

func (w *IntakeWorker) consume(ctx context.Context, topic string) {
	defer w.wg.Done()

	reader := w.client.Reader(topic, intakeGroup)
	defer reader.Close()

	logger.Info("intake consumer started", logger.String("topic", topic))
	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, io.EOF) || strings.Contains(err.Error(), "EOF") {
				logger.Debug("intake reader EOF", logger.String("topic", topic))
			} else {
				logger.Warn("intake read error",
					logger.String("topic", topic),
					logger.ErrorField(err))
			}
			continue
		}

		var req model.ChapterTranscodeRequest
		if err := json.Unmarshal(msg.Value, &req); err != nil {
			logger.Warn("intake message unmarshal error",
				logger.String("topic", topic),
				logger.ErrorField(err))
			// Malformed messages cannot be repaired by redelivery.
			_ = reader.CommitMessages(ctx, msg)
			continue
		}

		if err := w.handle(ctx, &req); err != nil {
			logger.Error("intake handling failed",
				logger.String("chapterId", req.Chapter.ID),
				logger.Int("retryCount", req.RetryCount),
				logger.ErrorField(err))
			w.escalate(ctx, &req, err)
		}

		if err := reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			logger.Warn("intake commit failed",
				logger.String("topic", topic),
				logger.ErrorField(err))
		}
	}
}

// handle decomposes one chapter request. Re-sending a request whose
// bitrates are all completed is an idempotent no-op.
func (w *IntakeWorker) handle(ctx context.Context, req *model.ChapterTranscodeRequest) error {
	chapterID := req.Chapter.ID
	if chapterID == "" {
		// Nothing to retry against; drop.
		logger.Warn("intake request without chapter id dropped")
		return nil
	}

	bitrates := req.Bitrates
	if len(bitrates) == 0 {
		bitrates = w.cfg.TranscodingBitrates
	}

	done, err := w.renditions.CompletedBitrates(ctx, chapterID)
	if err != nil {
		return fmt.Errorf("load completed bitrates for %s: %w", chapterID, err)
	}
	doneSet := make(map[int]bool, len(done))
	for _, b := range done {
		doneSet[b] = true
	}

	var todo []int
	for _, b := range bitrates {
		if !doneSet[b] {
			if _, ok := w.queues[b]; !ok {
				logger.Warn("unsupported bitrate requested, skipping",
					logger.String("chapterId", chapterID),
					logger.Int("bitrate", b))
				continue
			}
			todo = append(todo, b)
		}
	}
	if len(todo) == 0 {
		logger.Info("all requested bitrates already transcoded",
			logger.String("chapterId", chapterID))
		return nil
	}

	now := time.Now()
	// Job ids derive from the message timestamp so a redelivered message
	// maps to the same ids and deduplicates in the queues.
	msgTime := req.Timestamp
	if msgTime.IsZero() {
		msgTime = now
	}

	jobRow := &model.TranscodingJob{
		ChapterID: chapterID,
		Status:    model.JobStatusProcessing,
		Progress:  0,
		StartedAt: &now,
	}
	if err := w.jobs.Create(ctx, jobRow); err != nil {
		return fmt.Errorf("create job row for %s: %w", chapterID, err)
	}

	priority := model.QueuePriority(req.Priority)
	outputDir := model.ChapterOutputDir(chapterID)

	enqueued := 0
	for _, b := range todo {
		payload := model.BitrateJob{
			ChapterID:       chapterID,
			InputPath:       req.Chapter.FilePath,
			OutputDir:       outputDir,
			Bitrate:         b,
			SegmentDuration: w.cfg.HLSSegmentDuration,
			UserID:          req.UserID,
		}
		added, err := w.queues[b].Enqueue(ctx, payload, queue.Options{
			JobID:    model.BitrateJobID(chapterID, b, msgTime),
			Priority: priority,
		})
		if err != nil {
			return fmt.Errorf("enqueue %dk job for %s: %w", b, chapterID, err)
		}
		if added {
			enqueued++
		}
	}

	if enqueued > 0 {
		payload := model.MasterJob{
			ChapterID:       chapterID,
			OutputDir:       outputDir,
			VariantBitrates: todo,
		}
		if _, err := w.master.Enqueue(ctx, payload, queue.Options{
			JobID:    fmt.Sprintf("%s-master-%d", chapterID, msgTime.UnixMilli()),
			Priority: priority,
			Delay:    masterStartDelay,
		}); err != nil {
			return fmt.Errorf("enqueue master job for %s: %w", chapterID, err)
		}
	}

	logger.Info("chapter fanned out",
		logger.String("chapterId", chapterID),
		logger.Int("bitrateJobs", enqueued),
		logger.String("priority", req.Priority))
	return nil
}

// escalate marks the latest job row failed and re-publishes the request on
// the low-priority topic, at most maxIntakeRetries times.
func (w *IntakeWorker) escalate(ctx context.Context, req *model.ChapterTranscodeRequest, cause error) {
	if jobRow, err := w.jobs.LatestByChapter(ctx, req.Chapter.ID); err == nil && jobRow != nil && !jobRow.IsTerminal() {
		if err := w.jobs.MarkFailed(ctx, jobRow.ID, cause.Error()); err != nil {
			logger.Warn("could not mark job failed",
				logger.String("chapterId", req.Chapter.ID),
				logger.ErrorField(err))
		}
	}

	if req.RetryCount >= maxIntakeRetries {
		logger.Error("intake retries exhausted, dropping request",
			logger.String("chapterId", req.Chapter.ID),
			logger.Int("retryCount", req.RetryCount))
		return
	}

	retry := *req
	retry.RetryCount++
	retry.Priority = model.PriorityLow
	retry.Timestamp = time.Now()

	value, err := json.Marshal(&retry)
	if err != nil {
		logger.Error("could not marshal retry request",
			logger.String("chapterId", req.Chapter.ID),
			logger.ErrorField(err))
		return
	}
	if err := w.client.Produce(ctx, broker.TopicTranscodeLow, []byte(retry.Chapter.ID), value); err != nil {
		logger.Error("could not re-publish intake request",
			logger.String("chapterId", req.Chapter.ID),
			logger.ErrorField(err))
		return
	}
	logger.Info("intake request escalated to low priority",
		logger.String("chapterId", req.Chapter.ID),
		logger.Int("retryCount", retry.RetryCount))
}
