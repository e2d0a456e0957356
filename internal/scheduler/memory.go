package scheduler

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/digkill/photoremix/internal/metrics"
	"github.com/digkill/photoremix/pkg/logger"
)

type taskState int

const (
	stateQueued taskState = iota + 1
	stateRunning
	// stateRerun is running with another delivery requested.
	stateRerun
)

// MemoryQueue is an in-process queue served by a fixed pool of workers.
type MemoryQueue struct {
	workers int
	log     *slog.Logger

	mu      sync.Mutex
	states  map[string]taskState
	pending []string
	wake    chan struct{}
}

func NewMemoryQueue(workers int, log *slog.Logger) *MemoryQueue {
	if workers < 1 {
		workers = 1
	}
	if log == nil {
		log = logger.Discard()
	}
	return &MemoryQueue{
		workers: workers,
		log:     log,
		states:  make(map[string]taskState),
		wake:    make(chan struct{}, 1),
	}
}

func (q *MemoryQueue) Enqueue(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	switch q.states[id] {
	case stateQueued, stateRerun:
		return nil
	case stateRunning:
		q.states[id] = stateRerun
		return nil
	}
	q.states[id] = stateQueued
	q.pending = append(q.pending, id)
	metrics.QueueDepth.WithLabelValues("memory").Set(float64(len(q.pending)))
	q.signal()
	return nil
}

func (q *MemoryQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Len reports how many ids are waiting.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *MemoryQueue) Run(ctx context.Context, handler Handler) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < q.workers; i++ {
		g.Go(func() error {
			q.work(ctx, handler)
			return nil
		})
	}
	return g.Wait()
}

func (q *MemoryQueue) work(ctx context.Context, handler Handler) {
	for {
		id, ok := q.next()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-q.wake:
				continue
			}
		}
		if ctx.Err() != nil {
			return
		}
		q.execute(ctx, id, handler)
	}
}

func (q *MemoryQueue) next() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return "", false
	}
	id := q.pending[0]
	q.pending = q.pending[1:]
	q.states[id] = stateRunning
	metrics.QueueDepth.WithLabelValues("memory").Set(float64(len(q.pending)))
	if len(q.pending) > 0 {
		q.signal()
	}
	return id, true
}

func (q *MemoryQueue) execute(ctx context.Context, id string, handler Handler) {
	defer func() {
		if r := recover(); r != nil {
			q.log.Error("task handler panicked", "id", id, "panic", r)
		}
		q.finish(id)
	}()
	handler(ctx, id)
}

func (q *MemoryQueue) finish(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.states[id] == stateRerun {
		q.states[id] = stateQueued
		q.pending = append(q.pending, id)
		q.signal()
		return
	}
	delete(q.states, id)
}
