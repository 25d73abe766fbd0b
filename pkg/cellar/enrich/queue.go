package enrich

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cognicore/cellar/internal/logger"
)

var (
	ErrQueueFull   = errors.New("enrichment queue full")
	ErrQueueClosed = errors.New("enrichment queue closed")
)

// QueueStatus is a snapshot of the background queue.
type QueueStatus struct {
	Queued     int       `json:"queued"`
	Running    bool      `json:"running"`
	Completed  int       `json:"completed"`
	Failed     int       `json:"failed"`
	Skipped    int       `json:"skipped"`
	LastError  string    `json:"last_error,omitempty"`
	LastRunAt  time.Time `json:"last_run_at,omitempty"`
	TasksTotal int       `json:"tasks_total"`
}

type task struct {
	ids     []string
	pending int
}

// Queue runs enrichment tasks in the background on a single worker.
type Queue struct {
	engine *Engine
	log    *logger.Logger
	tasks  chan task
	done   chan struct{}
	stop   chan struct{}

	mu     sync.Mutex
	closed bool
	status QueueStatus
}

// NewQueue starts a queue worker with room for size waiting tasks.
func NewQueue(engine *Engine, size int, log *logger.Logger) *Queue {
	if size <= 0 {
		size = 16
	}
	if log == nil {
		log = logger.Nop()
	}
	q := &Queue{
		engine: engine,
		log:    log.With("component", "enrich_queue"),
		tasks:  make(chan task, size),
		done:   make(chan struct{}),
		stop:   make(chan struct{}),
	}
	go q.run()
	return q
}

// Submit queues specific wines for enrichment.
func (q *Queue) Submit(ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	return q.enqueue(task{ids: append([]string(nil), ids...)})
}

// SubmitPending queues one batch over the oldest pending wines.
func (q *Queue) SubmitPending(limit int) error {
	if limit <= 0 {
		limit = q.engine.BatchCeiling()
	}
	return q.enqueue(task{pending: limit})
}

func (q *Queue) enqueue(t task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.tasks <- t:
		q.status.Queued++
		q.status.TasksTotal++
		return nil
	default:
		return ErrQueueFull
	}
}

// Status returns a snapshot of the queue.
func (q *Queue) Status() QueueStatus {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.status
}

// Close stops accepting tasks, drops queued ones after the running task
// finishes, and waits for the worker or ctx.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.stop)
		close(q.tasks)
	}
	q.mu.Unlock()

	select {
	case <-q.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) run() {
	defer close(q.done)
	ctx := context.Background()

	for t := range q.tasks {
		q.mu.Lock()
		q.status.Queued--
		if q.closed {
			q.mu.Unlock()
			continue
		}
		q.status.Running = true
		q.mu.Unlock()

		var (
			res BatchResult
			err error
		)
		if len(t.ids) > 0 {
			res = q.engine.RunBatch(ctx, t.ids, q.stop)
		} else {
			res, err = q.engine.EnrichPending(ctx, t.pending, q.stop)
		}

		q.mu.Lock()
		q.status.Running = false
		q.status.LastRunAt = time.Now()
		q.status.Completed += res.Completed
		q.status.Failed += res.Failed
		q.status.Skipped += res.Skipped
		if res.LastError != "" {
			q.status.LastError = res.LastError
		}
		if err != nil {
			q.status.LastError = err.Error()
		}
		q.mu.Unlock()

		if err != nil {
			q.log.Error("enrichment task failed", "error", err)
			continue
		}
		q.log.Info("enrichment task finished",
			"completed", res.Completed,
			"failed", res.Failed,
			"skipped", res.Skipped)
	}
}
