// Package worker implements the decision graph's background task queue:
// a bounded, channel-backed queue drained by a single long-running
// goroutine, grounded on the teacher's pkg/scheduler.Scheduler
// goroutine+stopCh+sync.WaitGroup shutdown idiom, simplified to one
// consumer since jobs here are independent and order-insensitive.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ai-counsel/counsel/internal/log"
)

// JobType names a unit of work the queue knows how to run.
type JobType string

// ComputeSimilarities is the only job type this implementation ships:
// computing and persisting similarity edges for a newly stored
// decision, per spec.md §4.6.
const ComputeSimilarities JobType = "compute_similarities"

// Job is one queued unit of work.
type Job struct {
	ID      string
	Type    JobType
	Payload interface{}
	RunAt   time.Time
}

// Handler processes one job. Handlers are looked up by JobType; an
// unregistered type is logged and dropped.
type Handler func(ctx context.Context, job Job) error

// Queue is a single-consumer, bounded-channel task queue.
type Queue struct {
	jobs     chan Job
	handlers map[JobType]Handler
	done     chan struct{}
	logger   *zap.Logger
}

// Config sizes the queue's channel buffer.
type Config struct {
	BufferSize int // default 256
}

// New constructs a Queue. Call Register for every JobType before
// Start, then Start to launch the consumer goroutine.
func New(cfg Config) *Queue {
	size := cfg.BufferSize
	if size <= 0 {
		size = 256
	}
	return &Queue{
		jobs:     make(chan Job, size),
		handlers: make(map[JobType]Handler),
		done:     make(chan struct{}),
		logger:   log.With(zap.String("component", "worker")),
	}
}

// Register binds a handler to a job type. Must be called before Start.
func (q *Queue) Register(jobType JobType, handler Handler) {
	q.handlers[jobType] = handler
}

// Start launches the single consumer goroutine.
func (q *Queue) Start() {
	go q.run()
}

// Enqueue appends a job to the queue and returns its id, per the
// enqueue(job_type, payload, delay_seconds=0) → job_id contract. Returns
// immediately (microseconds) unless the buffer is full, in which case
// the job is dropped and the condition logged rather than blocking the
// caller's hot path.
func (q *Queue) Enqueue(jobType JobType, payload interface{}, delay time.Duration) (string, error) {
	id := uuid.NewString()
	job := Job{ID: id, Type: jobType, Payload: payload, RunAt: time.Now().Add(delay)}

	select {
	case q.jobs <- job:
		return id, nil
	default:
		q.logger.Warn("queue full, dropping job",
			zap.String("job_id", id), zap.String("job_type", string(jobType)))
		return "", fmt.Errorf("worker: queue full, dropped job_type=%s", jobType)
	}
}

func (q *Queue) run() {
	defer close(q.done)
	for job := range q.jobs {
		q.process(job)
	}
}

func (q *Queue) process(job Job) {
	if wait := time.Until(job.RunAt); wait > 0 {
		time.Sleep(wait)
	}

	handler, ok := q.handlers[job.Type]
	if !ok {
		q.logger.Warn("no handler registered for job type",
			zap.String("job_id", job.ID), zap.String("job_type", string(job.Type)))
		return
	}

	ctx := context.Background()
	if err := handler(ctx, job); err != nil {
		q.logger.Error("job failed",
			zap.String("job_id", job.ID), zap.String("job_type", string(job.Type)), zap.Error(err))
	}
}

// Shutdown closes the queue to new enqueues and waits for the
// consumer to drain pending jobs, up to ctx's deadline. Remaining jobs
// are abandoned past that point — they are regenerable on demand by
// the synchronous fallback path, so losing them is safe.
func (q *Queue) Shutdown(ctx context.Context) error {
	close(q.jobs)
	select {
	case <-q.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("worker: shutdown deadline exceeded, jobs abandoned: %w", ctx.Err())
	}
}

// Pending reports how many jobs are currently buffered and not yet
// started.
func (q *Queue) Pending() int {
	return len(q.jobs)
}
