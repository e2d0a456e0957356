package scheduler

import "context"

// Handler executes the background step for one original id. It reports
// problems through its own side effects, never to the queue.
type Handler func(ctx context.Context, id string)

// Queue delivers ids to a handler with at most one in-flight execution per id.
// An id enqueued while it is running is delivered again after the run ends.
type Queue interface {
	Enqueue(ctx context.Context, id string) error
	// Run blocks, executing handler for delivered ids until ctx is cancelled.
	Run(ctx context.Context, handler Handler) error
}
