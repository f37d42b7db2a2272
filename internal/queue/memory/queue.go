// Package memory provides the in-process job queue backing async scans.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/pagegauge/pagegauge/internal/a11y"
)

// Queue is a bounded FIFO channel with a status index by job id. It satisfies
// a11y.Queue for single-process deployments.
type Queue struct {
	jobs  chan *a11y.Job
	clock a11y.Clock

	mu    sync.RWMutex
	index map[string]*a11y.Job
}

// New builds a Queue holding at most depth pending jobs.
func New(depth int, clock a11y.Clock) *Queue {
	if depth < 1 {
		depth = 1
	}
	if clock == nil {
		clock = a11y.SystemClock{}
	}
	return &Queue{
		jobs:  make(chan *a11y.Job, depth),
		clock: clock,
		index: make(map[string]*a11y.Job),
	}
}

// Enqueue stamps the job pending and appends it. Re-enqueueing an id already
// in the index (a retry) reuses its entry. A full queue rejects immediately
// rather than blocking the caller; a rejected fresh job leaves no index
// entry, a rejected retry keeps its previous status.
func (q *Queue) Enqueue(ctx context.Context, job *a11y.Job) error {
	if job == nil || job.ID == "" {
		return fmt.Errorf("enqueue: job must have an id")
	}

	q.mu.Lock()
	_, existed := q.index[job.ID]
	prevStatus := job.Status
	job.Status = a11y.JobStatusPending
	if job.CreatedAt.IsZero() {
		job.CreatedAt = q.clock.Now()
	}
	q.index[job.ID] = job
	q.mu.Unlock()

	select {
	case q.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		q.mu.Lock()
		if existed {
			job.Status = prevStatus
		} else {
			delete(q.index, job.ID)
		}
		q.mu.Unlock()
		return fmt.Errorf("enqueue %s: queue full", job.ID)
	}
}

// Dequeue blocks until a job is available or ctx ends. The returned job is
// stamped processing with its start time set.
func (q *Queue) Dequeue(ctx context.Context) (*a11y.Job, error) {
	select {
	case job := <-q.jobs:
		q.mu.Lock()
		now := q.clock.Now()
		job.Status = a11y.JobStatusProcessing
		job.StartedAt = &now
		q.mu.Unlock()
		return job, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// PendingJobs lists jobs not yet dequeued, oldest first.
func (q *Queue) PendingJobs(_ context.Context) ([]*a11y.Job, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	pending := make([]*a11y.Job, 0)
	for _, job := range q.index {
		if job.Status == a11y.JobStatusPending {
			pending = append(pending, job)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})
	return pending, nil
}

// MarkStarted stamps a job processing.
func (q *Queue) MarkStarted(_ context.Context, jobID string) error {
	return q.transition(jobID, func(job *a11y.Job) {
		now := q.clock.Now()
		job.Status = a11y.JobStatusProcessing
		if job.StartedAt == nil {
			job.StartedAt = &now
		}
	})
}

// MarkCompleted stamps a job completed.
func (q *Queue) MarkCompleted(_ context.Context, jobID string) error {
	return q.transition(jobID, func(job *a11y.Job) {
		now := q.clock.Now()
		job.Status = a11y.JobStatusCompleted
		job.FinishedAt = &now
		job.ErrorMessage = ""
	})
}

// MarkFailed stamps a job failed with its error message.
func (q *Queue) MarkFailed(_ context.Context, jobID string, errMsg string) error {
	return q.transition(jobID, func(job *a11y.Job) {
		now := q.clock.Now()
		job.Status = a11y.JobStatusFailed
		job.FinishedAt = &now
		job.ErrorMessage = errMsg
	})
}

// Status returns a copy of the job's current state.
func (q *Queue) Status(_ context.Context, jobID string) (*a11y.Job, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	job, ok := q.index[jobID]
	if !ok {
		return nil, fmt.Errorf("job %s not found", jobID)
	}
	copied := *job
	return &copied, nil
}

func (q *Queue) transition(jobID string, apply func(*a11y.Job)) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.index[jobID]
	if !ok {
		return fmt.Errorf("job %s not found", jobID)
	}
	apply(job)
	return nil
}
