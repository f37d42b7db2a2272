package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pagegauge/pagegauge/internal/a11y"
)

func newJob(id string) *a11y.Job {
	return &a11y.Job{
		ID:    id,
		Email: "a@x.com",
		URL:   "https://x.com",
		Tier:  a11y.TierFull,
	}
}

func TestQueue_FIFOOrder(t *testing.T) {
	t.Parallel()

	q := New(8, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, q.Enqueue(ctx, newJob(fmt.Sprintf("job-%d", i))))
	}

	for i := 0; i < 3; i++ {
		job, err := q.Dequeue(ctx)
		require.NoError(t, err)
		require.Equal(t, fmt.Sprintf("job-%d", i), job.ID)
		require.Equal(t, a11y.JobStatusProcessing, job.Status)
		require.NotNil(t, job.StartedAt)
	}
}

func TestQueue_EnqueueStampsPending(t *testing.T) {
	t.Parallel()

	q := New(4, nil)
	job := newJob("job-1")
	require.NoError(t, q.Enqueue(context.Background(), job))

	require.Equal(t, a11y.JobStatusPending, job.Status)
	require.False(t, job.CreatedAt.IsZero())

	pending, err := q.PendingJobs(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 1)
}

func TestQueue_FullQueueRejects(t *testing.T) {
	t.Parallel()

	q := New(1, nil)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, newJob("job-1")))
	require.Error(t, q.Enqueue(ctx, newJob("job-2")))

	// The rejected job must not linger in the index.
	_, err := q.Status(ctx, "job-2")
	require.Error(t, err)
}

func TestQueue_FullQueueKeepsRetriedJobVisible(t *testing.T) {
	t.Parallel()

	q := New(1, nil)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, newJob("job-1")))
	retried, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NoError(t, q.Enqueue(ctx, newJob("job-2")))

	require.NoError(t, q.MarkFailed(ctx, "job-1", "browser crashed"))
	require.Error(t, q.Enqueue(ctx, retried), "queue is full")

	status, err := q.Status(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, a11y.JobStatusFailed, status.Status, "a rejected retry keeps its failed state")
	require.Equal(t, "browser crashed", status.ErrorMessage)
}

func TestQueue_DequeueBlocksUntilEnqueue(t *testing.T) {
	t.Parallel()

	q := New(4, nil)
	ctx := context.Background()

	got := make(chan *a11y.Job, 1)
	go func() {
		job, err := q.Dequeue(ctx)
		if err == nil {
			got <- job
		}
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, q.Enqueue(ctx, newJob("job-1")))

	select {
	case job := <-got:
		require.Equal(t, "job-1", job.ID)
	case <-time.After(time.Second):
		t.Fatal("dequeue did not observe the enqueued job")
	}
}

func TestQueue_DequeueHonorsContext(t *testing.T) {
	t.Parallel()

	q := New(4, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Dequeue(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestQueue_Transitions(t *testing.T) {
	t.Parallel()

	q := New(4, nil)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, newJob("job-1")))

	require.NoError(t, q.MarkStarted(ctx, "job-1"))
	status, err := q.Status(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, a11y.JobStatusProcessing, status.Status)

	require.NoError(t, q.MarkFailed(ctx, "job-1", "browser crashed"))
	status, err = q.Status(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, a11y.JobStatusFailed, status.Status)
	require.Equal(t, "browser crashed", status.ErrorMessage)
	require.NotNil(t, status.FinishedAt)

	require.NoError(t, q.MarkCompleted(ctx, "job-1"))
	status, err = q.Status(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, a11y.JobStatusCompleted, status.Status)
	require.Empty(t, status.ErrorMessage)

	require.Error(t, q.MarkCompleted(ctx, "missing"))
}

func TestQueue_StatusReturnsCopy(t *testing.T) {
	t.Parallel()

	q := New(4, nil)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, newJob("job-1")))

	first, err := q.Status(ctx, "job-1")
	require.NoError(t, err)
	first.Status = a11y.JobStatusCancelled

	second, err := q.Status(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, a11y.JobStatusPending, second.Status, "callers cannot mutate queue state")
}
