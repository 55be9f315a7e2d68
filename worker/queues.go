package worker

import (
	"context"

	"abstream/queue"
)

// JobQueue is the enqueue surface workers need from a work queue.
// *queue.Queue satisfies it.
type JobQueue interface {
	Enqueue(ctx context.Context, payload interface{}, opts queue.Options) (bool, error)
}

// ProgressQueue is the progress-reporting surface of a work queue.
type ProgressQueue interface {
	SetProgress(ctx context.Context, job *queue.Job, progress int)
}
