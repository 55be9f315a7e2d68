package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"abstream/logger"

	"github.com/redis/go-redis/v9"
)

// Redis layout per queue name q:
//
//	queue:{q}:ids        SET   known job ids (dedup)
//	queue:{q}:job:{id}   STRING job JSON
//	queue:{q}:waiting    ZSET  score = -priority*1e15 + enqueue (or promotion) ms
//	queue:{q}:delayed    ZSET  score = ready-at ms
//	queue:{q}:active     ZSET  score = lease-expiry ms
//	queue:{q}:failed     ZSET  score = failed-at ms
//
// A job moves waiting→active on dispatch, active→delayed on retry,
// active→failed after the last attempt. Expired active leases go through
// the same retry policy (back to delayed with backoff, or failed once
// attempts are exhausted), which gives at-least-once delivery.

// Queue is one durable Redis-backed work queue.
type Queue struct {
	name        string
	client      *redis.Client
	maxAttempts int
	timeout     time.Duration
	backoff     time.Duration
}

// Config carries the per-queue retry policy defaults.
type Config struct {
	MaxAttempts int
	Timeout     time.Duration
	Backoff     time.Duration
}

// New creates a queue handle. Queues are cheap; a handle per name is
// enough, there is nothing to open or close besides the Redis client.
func New(name string, client *redis.Client, cfg Config) *Queue {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Hour
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 30 * time.Second
	}
	return &Queue{
		name:        name,
		client:      client,
		maxAttempts: cfg.MaxAttempts,
		timeout:     cfg.Timeout,
		backoff:     cfg.Backoff,
	}
}

// Name returns the queue name.
func (q *Queue) Name() string { return q.name }

func (q *Queue) key(parts ...string) string {
	k := "queue:" + q.name
	for _, p := range parts {
		k += ":" + p
	}
	return k
}

func (q *Queue) jobKey(id string) string { return q.key("job", id) }

// waitingScore orders dispatch by priority first, FIFO within a priority.
func waitingScore(priority int, enqueued time.Time) float64 {
	return float64(-priority)*1e15 + float64(enqueued.UnixMilli())
}

// Enqueue adds a job unless its ID is already known. Returns true when the
// job was actually added.
func (q *Queue) Enqueue(ctx context.Context, payload interface{}, opts Options) (bool, error) {
	if opts.JobID == "" {
		return false, errors.New("queue: job id required")
	}

	added, err := q.client.SAdd(ctx, q.key("ids"), opts.JobID).Result()
	if err != nil {
		return false, fmt.Errorf("register job %s: %w", opts.JobID, err)
	}
	if added == 0 {
		logger.Debug("duplicate job ignored",
			logger.String("queue", q.name),
			logger.String("jobId", opts.JobID))
		return false, nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return false, fmt.Errorf("marshal payload of job %s: %w", opts.JobID, err)
	}

	now := time.Now()
	job := &Job{
		ID:          opts.JobID,
		Queue:       q.name,
		Payload:     raw,
		Priority:    opts.Priority,
		MaxAttempts: q.maxAttempts,
		Timeout:     q.timeout,
		Backoff:     q.backoff,
		Status:      StatusWaiting,
		EnqueuedAt:  now,
		NotBefore:   now.Add(opts.Delay),
	}
	if opts.MaxAttempts > 0 {
		job.MaxAttempts = opts.MaxAttempts
	}
	if opts.Timeout > 0 {
		job.Timeout = opts.Timeout
	}

	if opts.Delay > 0 {
		job.Status = StatusDelayed
	}
	if err := q.saveJob(ctx, job); err != nil {
		return false, err
	}

	if opts.Delay > 0 {
		err = q.client.ZAdd(ctx, q.key("delayed"), redis.Z{
			Score:  float64(job.NotBefore.UnixMilli()),
			Member: job.ID,
		}).Err()
	} else {
		err = q.client.ZAdd(ctx, q.key("waiting"), redis.Z{
			Score:  waitingScore(job.Priority, now),
			Member: job.ID,
		}).Err()
	}
	if err != nil {
		return false, fmt.Errorf("enqueue job %s: %w", job.ID, err)
	}

	logger.Info("job enqueued",
		logger.String("queue", q.name),
		logger.String("jobId", job.ID),
		logger.Int("priority", job.Priority),
		logger.Duration("delay", opts.Delay))
	return true, nil
}

func (q *Queue) saveJob(ctx context.Context, job *Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job %s: %w", job.ID, err)
	}
	// Job bodies outlive their queue entries by a week so failed jobs stay
	// inspectable.
	if err := q.client.Set(ctx, q.jobKey(job.ID), raw, 7*24*time.Hour).Err(); err != nil {
		return fmt.Errorf("save job %s: %w", job.ID, err)
	}
	return nil
}

// GetJob loads one job body.
func (q *Queue) GetJob(ctx context.Context, id string) (*Job, error) {
	raw, err := q.client.Get(ctx, q.jobKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load job %s: %w", id, err)
	}
	var job Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil, fmt.Errorf("unmarshal job %s: %w", id, err)
	}
	return &job, nil
}

// SetProgress updates the coarse progress percentage on the job body.
func (q *Queue) SetProgress(ctx context.Context, job *Job, progress int) {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	job.Progress = progress
	if err := q.saveJob(ctx, job); err != nil {
		logger.Warn("progress update failed",
			logger.String("queue", q.name),
			logger.String("jobId", job.ID),
			logger.ErrorField(err))
	}
}

// promoteDelayed moves due delayed jobs to the waiting set.
func (q *Queue) promoteDelayed(ctx context.Context) error {
	now := time.Now()
	ids, err := q.client.ZRangeByScore(ctx, q.key("delayed"), &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", now.UnixMilli()),
	}).Result()
	if err != nil {
		return err
	}
	for _, id := range ids {
		job, err := q.GetJob(ctx, id)
		if err != nil || job == nil {
			q.client.ZRem(ctx, q.key("delayed"), id)
			continue
		}
		job.Status = StatusWaiting
		if err := q.saveJob(ctx, job); err != nil {
			continue
		}
		pipe := q.client.TxPipeline()
		pipe.ZRem(ctx, q.key("delayed"), id)
		pipe.ZAdd(ctx, q.key("waiting"), redis.Z{
			Score:  waitingScore(job.Priority, now),
			Member: id,
		})
		if _, err := pipe.Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}

// reapExpired hands active jobs whose lease expired to the retry policy:
// they are rescheduled with backoff, or failed when out of attempts.
func (q *Queue) reapExpired(ctx context.Context) error {
	now := time.Now()
	ids, err := q.client.ZRangeByScore(ctx, q.key("active"), &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", now.UnixMilli()),
	}).Result()
	if err != nil {
		return err
	}
	for _, id := range ids {
		job, err := q.GetJob(ctx, id)
		if err != nil || job == nil {
			q.client.ZRem(ctx, q.key("active"), id)
			continue
		}
		logger.Warn("active job lease expired, requeueing",
			logger.String("queue", q.name),
			logger.String("jobId", id),
			logger.Int("attempts", job.Attempts))
		if err := q.retryOrFail(ctx, job, errors.New("job lease expired")); err != nil {
			return err
		}
	}
	return nil
}

// dequeue pops the best waiting job and leases it.
func (q *Queue) dequeue(ctx context.Context) (*Job, error) {
	res, err := q.client.ZPopMin(ctx, q.key("waiting"), 1).Result()
	if err != nil {
		return nil, err
	}
	if len(res) == 0 {
		return nil, nil
	}
	id, _ := res[0].Member.(string)

	job, err := q.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		// Body expired; drop the orphan entry.
		q.client.SRem(ctx, q.key("ids"), id)
		return nil, nil
	}

	job.Status = StatusActive
	job.Attempts++
	if err := q.saveJob(ctx, job); err != nil {
		return nil, err
	}

	lease := time.Now().Add(job.Timeout + time.Minute)
	if err := q.client.ZAdd(ctx, q.key("active"), redis.Z{
		Score:  float64(lease.UnixMilli()),
		Member: id,
	}).Err(); err != nil {
		return nil, fmt.Errorf("lease job %s: %w", id, err)
	}
	return job, nil
}

// complete acks a finished job and removes its queue entries. The dedup id
// is kept so an identical enqueue remains a no-op.
func (q *Queue) complete(ctx context.Context, job *Job) error {
	job.Status = StatusCompleted
	job.Progress = 100
	if err := q.saveJob(ctx, job); err != nil {
		return err
	}
	return q.client.ZRem(ctx, q.key("active"), job.ID).Err()
}

// retryOrFail schedules the next attempt with exponential backoff, or
// parks the job in the failed set when attempts are exhausted.
func (q *Queue) retryOrFail(ctx context.Context, job *Job, cause error) error {
	job.LastError = cause.Error()

	if IsPermanent(cause) || job.Attempts >= job.MaxAttempts {
		job.Status = StatusFailed
		if err := q.saveJob(ctx, job); err != nil {
			return err
		}
		pipe := q.client.TxPipeline()
		pipe.ZRem(ctx, q.key("active"), job.ID)
		pipe.ZAdd(ctx, q.key("failed"), redis.Z{
			Score:  float64(time.Now().UnixMilli()),
			Member: job.ID,
		})
		_, err := pipe.Exec(ctx)
		logger.Error("job failed permanently",
			logger.String("queue", q.name),
			logger.String("jobId", job.ID),
			logger.Int("attempts", job.Attempts),
			logger.ErrorField(cause))
		return err
	}

	delay := NextBackoff(job.Backoff, job.Attempts)
	job.Status = StatusDelayed
	job.NotBefore = time.Now().Add(delay)
	if err := q.saveJob(ctx, job); err != nil {
		return err
	}
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.key("active"), job.ID)
	pipe.ZAdd(ctx, q.key("delayed"), redis.Z{
		Score:  float64(job.NotBefore.UnixMilli()),
		Member: job.ID,
	})
	_, err := pipe.Exec(ctx)
	logger.Warn("job retry scheduled",
		logger.String("queue", q.name),
		logger.String("jobId", job.ID),
		logger.Int("attempt", job.Attempts),
		logger.Duration("backoff", delay),
		logger.ErrorField(cause))
	return err
}

// Counts returns the number of jobs per state, for health reporting.
func (q *Queue) Counts(ctx context.Context) (map[string]int64, error) {
	counts := make(map[string]int64, 4)
	for _, state := range []string{"waiting", "delayed", "active", "failed"} {
		n, err := q.client.ZCard(ctx, q.key(state)).Result()
		if err != nil {
			return nil, err
		}
		counts[state] = n
	}
	return counts, nil
}
