package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rpupo63/blog-backend/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mailPayload struct {
	To string `json:"to"`
}

func setupQueue(t *testing.T) (*Queue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewQueue(rdb, "mail"), mr
}

func counts(t *testing.T, q *Queue) Counts {
	t.Helper()
	c, err := q.Counts(context.Background())
	require.NoError(t, err)
	return c
}

func counterValue(t *testing.T, reg *prometheus.Registry, result string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != "jobs_processed_total" {
			continue
		}
		for _, metric := range family.GetMetric() {
			for _, label := range metric.GetLabel() {
				if label.GetName() == "result" && label.GetValue() == result {
					return metric.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestEnqueueStoresJob(t *testing.T) {
	ctx := context.Background()
	q, _ := setupQueue(t)

	job, err := q.Enqueue(ctx, "send-mail", mailPayload{To: "a@example.com"}, Options{MaxAttempts: 3, RemoveOnComplete: true})
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, 3, job.MaxAttempts)

	waiting, err := q.Waiting(ctx)
	require.NoError(t, err)
	require.Len(t, waiting, 1)
	assert.Equal(t, "send-mail", waiting[0].Name)
	assert.True(t, waiting[0].RemoveOnComplete)

	var payload mailPayload
	require.NoError(t, waiting[0].Decode(&payload))
	assert.Equal(t, "a@example.com", payload.To)
}

func TestEnqueueReportsQueueFailure(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })
	q := NewQueue(rdb, "mail")

	_, err := q.Enqueue(context.Background(), "send-mail", mailPayload{}, Options{})
	require.Error(t, err)
	assert.True(t, errs.IsQueueFailure(err))
}

func TestWorkerCompletesJob(t *testing.T) {
	ctx := context.Background()
	q, _ := setupQueue(t)
	reg := prometheus.NewRegistry()
	w := NewWorker(q, WorkerOptions{Metrics: NewMetrics(reg)})

	var got string
	w.Register("send-mail", func(ctx context.Context, job *Job) error {
		var p mailPayload
		if err := job.Decode(&p); err != nil {
			return err
		}
		got = p.To
		return nil
	})

	_, err := q.Enqueue(ctx, "send-mail", mailPayload{To: "a@example.com"}, Options{RemoveOnComplete: true})
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, "send-mail", mailPayload{To: "b@example.com"}, Options{})
	require.NoError(t, err)

	took, err := w.ProcessNext(ctx)
	require.NoError(t, err)
	assert.True(t, took)
	assert.Equal(t, "a@example.com", got)

	took, err = w.ProcessNext(ctx)
	require.NoError(t, err)
	assert.True(t, took)
	assert.Equal(t, "b@example.com", got)

	took, err = w.ProcessNext(ctx)
	require.NoError(t, err)
	assert.False(t, took)

	c := counts(t, q)
	assert.Equal(t, int64(0), c.Waiting)
	assert.Equal(t, int64(0), c.Active)
	assert.Equal(t, int64(1), c.Completed, "only the job without RemoveOnComplete is kept")
	assert.Equal(t, float64(2), counterValue(t, reg, resultCompleted))
}

func TestWorkerRetriesUntilExhausted(t *testing.T) {
	ctx := context.Background()
	q, _ := setupQueue(t)

	var hooked *Job
	var calls int32
	w := NewWorker(q, WorkerOptions{
		OnFailed: func(ctx context.Context, job *Job, err error) { hooked = job },
	})
	w.Register("send-mail", func(ctx context.Context, job *Job) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("smtp down")
	})

	_, err := q.Enqueue(ctx, "send-mail", mailPayload{To: "a@example.com"}, Options{MaxAttempts: 3})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		took, err := w.ProcessNext(ctx)
		require.NoError(t, err)
		require.True(t, took)
	}
	took, err := w.ProcessNext(ctx)
	require.NoError(t, err)
	assert.False(t, took)

	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	c := counts(t, q)
	assert.Equal(t, int64(1), c.Failed)
	assert.Equal(t, int64(0), c.Active)

	require.NotNil(t, hooked)
	assert.Equal(t, 3, hooked.Attempts)
	assert.Equal(t, "smtp down", hooked.FailedReason)

	failed, err := q.list(ctx, q.keys.failed)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, 3, failed[0].Attempts)
}

func TestWorkerDelaysRetryWithBackoff(t *testing.T) {
	ctx := context.Background()
	q, _ := setupQueue(t)
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	q.now = func() time.Time { return now }

	w := NewWorker(q, WorkerOptions{Backoff: time.Minute})
	var calls int
	w.Register("send-mail", func(ctx context.Context, job *Job) error {
		calls++
		if calls == 1 {
			return errors.New("transient")
		}
		return nil
	})

	_, err := q.Enqueue(ctx, "send-mail", mailPayload{}, Options{MaxAttempts: 3})
	require.NoError(t, err)

	_, err = w.ProcessNext(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts(t, q).Delayed)

	promoted, err := w.PromoteDelayed(ctx)
	require.NoError(t, err)
	assert.Zero(t, promoted, "retry is not due yet")

	now = now.Add(2 * time.Minute)
	promoted, err = w.PromoteDelayed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, promoted)

	took, err := w.ProcessNext(ctx)
	require.NoError(t, err)
	assert.True(t, took)
	assert.Equal(t, 2, calls)
	assert.Equal(t, int64(0), counts(t, q).Failed)
}

func TestWorkerBackoffDoubles(t *testing.T) {
	q, _ := setupQueue(t)
	w := NewWorker(q, WorkerOptions{Backoff: time.Second})

	assert.Equal(t, time.Second, w.backoff(1))
	assert.Equal(t, 2*time.Second, w.backoff(2))
	assert.Equal(t, 4*time.Second, w.backoff(3))
}

func TestWorkerBackoffIsCappedAtOneHour(t *testing.T) {
	q, _ := setupQueue(t)
	w := NewWorker(q, WorkerOptions{Backoff: 5 * time.Second})

	assert.Equal(t, 42*time.Minute+40*time.Second, w.backoff(10))
	assert.Equal(t, time.Hour, w.backoff(11))
	assert.Equal(t, time.Hour, w.backoff(30))
}

func TestPromoteDelayedKeepsJobWhenPushFails(t *testing.T) {
	ctx := context.Background()
	q, mr := setupQueue(t)
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	q.now = func() time.Time { return now }

	w := NewWorker(q, WorkerOptions{Backoff: time.Minute})
	w.Register("send-mail", func(ctx context.Context, job *Job) error {
		return errors.New("transient")
	})

	_, err := q.Enqueue(ctx, "send-mail", mailPayload{}, Options{MaxAttempts: 3})
	require.NoError(t, err)
	_, err = w.ProcessNext(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), counts(t, q).Delayed)

	// a string under the wait key makes LPUSH fail with WRONGTYPE
	require.NoError(t, mr.Set(q.keys.wait, "not a list"))
	now = now.Add(2 * time.Minute)

	_, err = w.PromoteDelayed(ctx)
	require.Error(t, err)
	delayed, err := q.rdb.ZCard(ctx, q.keys.delayed).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), delayed, "a failed push must not drop the job")

	mr.Del(q.keys.wait)
	promoted, err := w.PromoteDelayed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, promoted)
	assert.Equal(t, int64(0), counts(t, q).Delayed)
	assert.Equal(t, int64(1), counts(t, q).Waiting)
}

func TestQueryDiagnosticOmitsEmptyParameters(t *testing.T) {
	assert.Equal(t, "query: SELECT 1", queryDiagnostic("SELECT 1", nil))
	assert.Equal(t, "query: SELECT $1 -- parameters: [7]", queryDiagnostic("SELECT $1", []any{7}))
}

func TestWorkerFailsUnknownJob(t *testing.T) {
	ctx := context.Background()
	q, _ := setupQueue(t)

	var reason error
	w := NewWorker(q, WorkerOptions{OnFailed: func(ctx context.Context, job *Job, err error) { reason = err }})

	_, err := q.Enqueue(ctx, "nobody-handles-this", mailPayload{}, Options{})
	require.NoError(t, err)

	_, err = w.ProcessNext(ctx)
	require.NoError(t, err)
	assert.ErrorIs(t, reason, errs.ErrUnknownJob)
	assert.Equal(t, int64(1), counts(t, q).Failed)
}

func TestWorkerTreatsTimeoutAsRetryable(t *testing.T) {
	ctx := context.Background()
	q, _ := setupQueue(t)

	w := NewWorker(q, WorkerOptions{HandlerTimeout: 10 * time.Millisecond})
	w.Register("slow", func(ctx context.Context, job *Job) error {
		<-ctx.Done()
		return ctx.Err()
	})

	_, err := q.Enqueue(ctx, "slow", mailPayload{}, Options{MaxAttempts: 2})
	require.NoError(t, err)

	_, err = w.ProcessNext(ctx)
	require.NoError(t, err)

	waiting, err := q.Waiting(ctx)
	require.NoError(t, err)
	require.Len(t, waiting, 1)
	assert.Equal(t, 1, waiting[0].Attempts)
	assert.Contains(t, waiting[0].FailedReason, "handler exceeded")
}

func TestWorkerRecoversPanics(t *testing.T) {
	ctx := context.Background()
	q, _ := setupQueue(t)

	w := NewWorker(q, WorkerOptions{})
	w.Register("boom", func(ctx context.Context, job *Job) error { panic("nil map") })

	_, err := q.Enqueue(ctx, "boom", mailPayload{}, Options{})
	require.NoError(t, err)

	_, err = w.ProcessNext(ctx)
	require.NoError(t, err)
	failed, err := q.list(ctx, q.keys.failed)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Contains(t, failed[0].FailedReason, "panicked")
}

func TestRecoverActiveRequeuesInterruptedJobs(t *testing.T) {
	ctx := context.Background()
	q, _ := setupQueue(t)

	_, err := q.Enqueue(ctx, "send-mail", mailPayload{To: "first"}, Options{})
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, "send-mail", mailPayload{To: "second"}, Options{})
	require.NoError(t, err)

	// simulate a crash after both jobs were taken
	for i := 0; i < 2; i++ {
		require.NoError(t, q.rdb.RPopLPush(ctx, q.keys.wait, q.keys.active).Err())
	}
	require.Equal(t, int64(2), counts(t, q).Active)

	w := NewWorker(q, WorkerOptions{})
	recovered, err := w.RecoverActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, recovered)

	waiting, err := q.Waiting(ctx)
	require.NoError(t, err)
	require.Len(t, waiting, 2)

	var p mailPayload
	require.NoError(t, waiting[0].Decode(&p))
	assert.Equal(t, "first", p.To)
}

func TestRunStopsOnCancel(t *testing.T) {
	q, _ := setupQueue(t)
	w := NewWorker(q, WorkerOptions{PollTimeout: 50 * time.Millisecond})

	handled := make(chan struct{}, 1)
	w.Register("send-mail", func(ctx context.Context, job *Job) error {
		handled <- struct{}{}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	_, err := q.Enqueue(context.Background(), "send-mail", mailPayload{}, Options{RemoveOnComplete: true})
	require.NoError(t, err)

	select {
	case <-handled:
	case <-time.After(5 * time.Second):
		t.Fatal("job was not handled")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}
}
