package inmemory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jstachowiak/opsledger/internal/jobs"
)

const defaultWorkerCount = 5

// Queue is an in-memory task queue built on a channel. Safe for concurrent
// use; suitable for single-instance deployments and tests. Multi-instance
// deployments should swap in Cloud Tasks or Pub/Sub behind the same
// interfaces.
type Queue struct {
	taskChan  chan *jobs.Task
	closeChan chan struct{}
	wg        sync.WaitGroup
	mu        sync.RWMutex
	store     jobs.TaskStore
	workers   int
	closed    bool
}

// NewQueue creates a queue. bufferSize is how many tasks can wait before
// Publish blocks.
func NewQueue(bufferSize int, store jobs.TaskStore) *Queue {
	return &Queue{
		taskChan:  make(chan *jobs.Task, bufferSize),
		closeChan: make(chan struct{}),
		store:     store,
		workers:   defaultWorkerCount,
	}
}

// Publish enqueues a task, filling in id, status and timestamps.
func (q *Queue) Publish(ctx context.Context, task *jobs.Task) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return fmt.Errorf("queue is closed")
	}

	if task.JobID == "" {
		task.JobID = uuid.NewString()
	}
	if task.Status == "" {
		task.Status = jobs.JobStatusPending
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now()
	}
	if task.MaxRetries == 0 {
		task.MaxRetries = 3
	}

	if q.store != nil {
		if err := q.store.SaveTask(ctx, task); err != nil {
			return fmt.Errorf("saving task: %w", err)
		}
	}

	select {
	case q.taskChan <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.closeChan:
		return fmt.Errorf("queue is closed")
	}
}

// Start launches the worker pool.
func (q *Queue) Start(ctx context.Context, handler jobs.Handler) error {
	q.mu.RLock()
	if q.closed {
		q.mu.RUnlock()
		return fmt.Errorf("queue is closed")
	}
	q.mu.RUnlock()

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, handler)
	}
	return nil
}

func (q *Queue) worker(ctx context.Context, handler jobs.Handler) {
	defer q.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.closeChan:
			return
		case task := <-q.taskChan:
			if task == nil {
				return
			}
			q.processTask(ctx, task, handler)
		}
	}
}

// processTask runs one task with retry and backoff.
func (q *Queue) processTask(ctx context.Context, task *jobs.Task, handler jobs.Handler) {
	task.Status = jobs.JobStatusRunning
	now := time.Now()
	task.StartedAt = &now

	if q.store != nil {
		_ = q.store.SaveTask(ctx, task)
	}

	err := handler(ctx, task)

	completedAt := time.Now()
	task.CompletedAt = &completedAt

	if err != nil {
		task.Error = err.Error()

		if task.RetryCount < task.MaxRetries {
			task.RetryCount++
			task.Status = jobs.JobStatusRetrying

			backoff := time.Duration(task.RetryCount) * time.Second
			time.AfterFunc(backoff, func() {
				task.Status = jobs.JobStatusPending
				task.StartedAt = nil
				task.CompletedAt = nil
				_ = q.Publish(ctx, task)
			})
		} else {
			task.Status = jobs.JobStatusFailed
		}
	} else {
		task.Status = jobs.JobStatusCompleted
		task.Error = ""
	}

	if q.store != nil {
		_ = q.store.SaveTask(ctx, task)
	}
}

// Stop closes the queue and waits for in-flight tasks, bounded by ctx.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.closeChan)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close implements Publisher.
func (q *Queue) Close() error {
	return q.Stop(context.Background())
}

var _ jobs.Publisher = (*Queue)(nil)
var _ jobs.Consumer = (*Queue)(nil)
