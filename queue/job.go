package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Job status values inside a work queue.
const (
	StatusWaiting   = "waiting"
	StatusDelayed   = "delayed"
	StatusActive    = "active"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// QueueForBitrate returns the work-queue name of one bitrate pipeline,
// e.g. "transcode:128k".
func QueueForBitrate(bitrate int) string {
	return fmt.Sprintf("transcode:%dk", bitrate)
}

// QueueMaster is the fan-in queue for master-playlist assembly.
const QueueMaster = "transcode:master"

// Job is a durable unit of work. The ID doubles as the deduplication key:
// enqueueing an ID that is already known is a no-op.
type Job struct {
	ID          string          `json:"id"`
	Queue       string          `json:"queue"`
	Payload     json.RawMessage `json:"payload"`
	Priority    int             `json:"priority"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"maxAttempts"`
	Timeout     time.Duration   `json:"timeout"`
	Backoff     time.Duration   `json:"backoff"`
	Status      string          `json:"status"`
	Progress    int             `json:"progress"`
	LastError   string          `json:"lastError,omitempty"`
	EnqueuedAt  time.Time       `json:"enqueuedAt"`
	NotBefore   time.Time       `json:"notBefore"`
}

// Options control a single enqueue.
type Options struct {
	// JobID is the dedup key. Required.
	JobID string
	// Priority orders dispatch within a queue; higher runs first.
	Priority int
	// Delay postpones the first dispatch.
	Delay time.Duration
	// MaxAttempts overrides the queue default when > 0.
	MaxAttempts int
	// Timeout overrides the queue default when > 0.
	Timeout time.Duration
}

// PermanentError marks a handler failure as deterministic: retrying cannot
// succeed, so the job fails immediately regardless of remaining attempts.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so the queue skips the retry policy.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err carries a PermanentError.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// NextBackoff computes the exponential retry delay for the given attempt
// (1-based): base * 2^(attempt-1).
func NextBackoff(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	return d
}

// DecodePayload unmarshals the job payload into v.
func (j *Job) DecodePayload(v interface{}) error {
	if err := json.Unmarshal(j.Payload, v); err != nil {
		return fmt.Errorf("decode payload of job %s: %w", j.ID, err)
	}
	return nil
}
