package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"abstream/logger"
)

// Handler processes one job. Returning an error triggers the retry policy;
// a panic is converted to an error so one bad job cannot take the worker
// down.
type Handler func(ctx context.Context, job *Job) error

// Worker runs a handler against one queue with bounded concurrency. Each
// slot polls for work; prefetch is effectively one job per slot.
type Worker struct {
	queue       *Queue
	handler     Handler
	concurrency int
	interval    time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
	active bool
}

// NewWorker creates a worker with the given per-queue concurrency.
func NewWorker(q *Queue, handler Handler, concurrency int) *Worker {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Worker{
		queue:       q,
		handler:     handler,
		concurrency: concurrency,
		interval:    time.Second,
	}
}

// Start launches the worker loops plus one housekeeping loop that promotes
// delayed jobs and reaps expired leases.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.active {
		return fmt.Errorf("worker for queue %s already running", w.queue.Name())
	}
	workerCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.active = true

	w.wg.Add(1)
	go w.housekeeping(workerCtx)

	w.wg.Add(w.concurrency)
	for i := 0; i < w.concurrency; i++ {
		go w.loop(workerCtx, i)
	}

	logger.Info("queue worker started",
		logger.String("queue", w.queue.Name()),
		logger.Int("concurrency", w.concurrency))
	return nil
}

// Stop cancels the loops and waits for in-flight jobs to settle.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.active {
		w.mu.Unlock()
		return
	}
	w.active = false
	cancel := w.cancel
	w.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	w.wg.Wait()
	logger.Info("queue worker stopped", logger.String("queue", w.queue.Name()))
}

func (w *Worker) housekeeping(ctx context.Context) {
	defer w.wg.Done()
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.queue.promoteDelayed(ctx); err != nil && ctx.Err() == nil {
				logger.Warn("delayed promotion failed",
					logger.String("queue", w.queue.Name()),
					logger.ErrorField(err))
			}
			if err := w.queue.reapExpired(ctx); err != nil && ctx.Err() == nil {
				logger.Warn("lease reap failed",
					logger.String("queue", w.queue.Name()),
					logger.ErrorField(err))
			}
		}
	}
}

func (w *Worker) loop(ctx context.Context, slot int) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := w.queue.dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("dequeue failed",
				logger.String("queue", w.queue.Name()),
				logger.ErrorField(err))
			w.sleep(ctx)
			continue
		}
		if job == nil {
			w.sleep(ctx)
			continue
		}

		w.run(ctx, job, slot)
	}
}

func (w *Worker) run(ctx context.Context, job *Job, slot int) {
	logger.Info("job started",
		logger.String("queue", w.queue.Name()),
		logger.String("jobId", job.ID),
		logger.Int("slot", slot),
		logger.Int("attempt", job.Attempts))

	jobCtx, cancel := context.WithTimeout(ctx, job.Timeout)
	defer cancel()

	err := w.invoke(jobCtx, job)
	// A worker-shutdown cancellation is not a job failure; the active lease
	// stays behind and the reaper of the next worker generation requeues it.
	if err != nil && ctx.Err() != nil {
		logger.Warn("job interrupted by shutdown, leaving lease for requeue",
			logger.String("queue", w.queue.Name()),
			logger.String("jobId", job.ID))
		return
	}

	// Queue bookkeeping runs on a fresh context so an expired job context
	// cannot block the ack.
	ackCtx, ackCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer ackCancel()

	if err != nil {
		if retryErr := w.queue.retryOrFail(ackCtx, job, err); retryErr != nil {
			logger.Error("retry bookkeeping failed",
				logger.String("queue", w.queue.Name()),
				logger.String("jobId", job.ID),
				logger.ErrorField(retryErr))
		}
		return
	}

	if ackErr := w.queue.complete(ackCtx, job); ackErr != nil {
		logger.Error("completion bookkeeping failed",
			logger.String("queue", w.queue.Name()),
			logger.String("jobId", job.ID),
			logger.ErrorField(ackErr))
		return
	}

	logger.Info("job completed",
		logger.String("queue", w.queue.Name()),
		logger.String("jobId", job.ID))
}

func (w *Worker) invoke(ctx context.Context, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return w.handler(ctx, job)
}

func (w *Worker) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(w.interval):
	}
}
