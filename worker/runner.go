package worker

import (
	"context"
	"fmt"

	"abstream/broker"
	"abstream/cache"
	"abstream/config"
	"abstream/core/audio"
	"abstream/logger"
	"abstream/queue"
	"abstream/repository"
	"abstream/storage"

	"github.com/redis/go-redis/v9"
)

// Runner owns the whole transcoding pipeline of one worker process:
// intake consumers, the per-bitrate queue workers, the master fan-in
// worker and the deletion consumer. Lifecycle is start everything,
// then drain in reverse dependency order on shutdown.
type Runner struct {
	intake   *IntakeWorker
	deletion *DeletionWorker
	workers  []*queue.Worker
	queues   map[int]*queue.Queue
	master   *queue.Queue
}

// Deps carries the shared process dependencies into NewRunner.
type Deps struct {
	Config     *config.Config
	Broker     *broker.Client
	Redis      *redis.Client
	Store      storage.Store
	Jobs       repository.JobRepository
	Renditions repository.RenditionRepository
	Streams    *cache.StreamCache
}

// NewRunner builds the queue topology and workers from configuration.
func NewRunner(d Deps) (*Runner, error) {
	if len(d.Config.TranscodingBitrates) == 0 {
		return nil, fmt.Errorf("no transcoding bitrates configured")
	}

	qcfg := queue.Config{
		MaxAttempts: d.Config.QueueMaxAttempts,
		Timeout:     d.Config.QueueJobTimeout,
		Backoff:     d.Config.QueueBackoffDelay,
	}

	queues := make(map[int]*queue.Queue, len(d.Config.TranscodingBitrates))
	for _, b := range d.Config.TranscodingBitrates {
		queues[b] = queue.New(queue.QueueForBitrate(b), d.Redis, qcfg)
	}
	master := queue.New(queue.QueueMaster, d.Redis, qcfg)

	encoder := audio.NewEncoder(d.Config.FFmpegPath, d.Config.FFprobePath)
	bw := NewBitrateWorker(d.Config, encoder, d.Store, d.Jobs, d.Renditions)
	mw := NewMasterWorker(d.Store, d.Jobs, d.Renditions)

	var workers []*queue.Worker
	for _, b := range d.Config.TranscodingBitrates {
		q := queues[b]
		workers = append(workers, queue.NewWorker(q, bw.HandlerFor(q), BitrateConcurrency))
	}
	workers = append(workers, queue.NewWorker(master, mw.HandlerFor(master), MasterConcurrency))

	intakeQueues := make(map[int]JobQueue, len(queues))
	for b, q := range queues {
		intakeQueues[b] = q
	}

	return &Runner{
		intake:   NewIntakeWorker(d.Broker, d.Config, d.Jobs, d.Renditions, intakeQueues, master),
		deletion: NewDeletionWorker(d.Broker, d.Renditions, d.Store, d.Streams),
		workers:  workers,
		queues:   queues,
		master:   master,
	}, nil
}

// Queues exposes the per-bitrate queues (used by health reporting).
func (r *Runner) Queues() map[int]*queue.Queue { return r.queues }

// MasterQueue exposes the fan-in queue.
func (r *Runner) MasterQueue() *queue.Queue { return r.master }

// Start launches every worker.
func (r *Runner) Start(ctx context.Context) error {
	for _, w := range r.workers {
		if err := w.Start(ctx); err != nil {
			return err
		}
	}
	r.intake.Start(ctx)
	r.deletion.Start(ctx)
	logger.Info("pipeline workers started", logger.Int("queueWorkers", len(r.workers)))
	return nil
}

// Stop drains the pipeline: stop accepting new messages first, then let
// the queue workers settle their in-flight jobs.
func (r *Runner) Stop() {
	r.intake.Stop()
	r.deletion.Stop()
	for _, w := range r.workers {
		w.Stop()
	}
	logger.Info("pipeline workers stopped")
}
