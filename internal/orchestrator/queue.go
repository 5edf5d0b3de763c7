package orchestrator

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// task is one unit of background work. Failures are logged, never surfaced
// to the turn that enqueued them.
type task struct {
	name string
	run  func(ctx context.Context) error
}

// taskQueue is a bounded queue with a fixed worker pool. Enqueue never
// blocks; a full queue drops the task.
type taskQueue struct {
	tasks   chan task
	timeout time.Duration
	logger  *zap.Logger
	wg      sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

func newTaskQueue(size, workers int, timeout time.Duration, logger *zap.Logger) *taskQueue {
	q := &taskQueue{
		tasks:   make(chan task, size),
		timeout: timeout,
		logger:  logger,
	}
	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	return q
}

func (q *taskQueue) worker() {
	defer q.wg.Done()
	for t := range q.tasks {
		ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
		if err := t.run(ctx); err != nil {
			q.logger.Warn("background task failed",
				zap.String("task", t.name),
				zap.Error(err))
		}
		cancel()
	}
}

// enqueue submits a task without blocking. Returns false when the queue is
// closed or full and the task was dropped. The mutex keeps the send from
// racing a concurrent close of the channel.
func (q *taskQueue) enqueue(t task) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		q.logger.Warn("background queue closed, dropping task", zap.String("task", t.name))
		return false
	}
	select {
	case q.tasks <- t:
		return true
	default:
		q.logger.Warn("background queue full, dropping task", zap.String("task", t.name))
		return false
	}
}

// close stops accepting tasks and waits for queued work to drain.
func (q *taskQueue) close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.tasks)
	}
	q.mu.Unlock()
	q.wg.Wait()
}
