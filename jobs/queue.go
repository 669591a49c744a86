package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rpupo63/blog-backend/errs"
)

const defaultPrefix = "jobs"

// keys names the Redis structures of one queue.
//
//	wait      list, LPUSH by producers, consumed from the tail
//	active    list, jobs currently held by the worker
//	delayed   sorted set scored by the unix millisecond a retry is due
//	completed list, kept only for jobs without RemoveOnComplete
//	failed    list, jobs whose attempts are exhausted
type keys struct {
	wait      string
	active    string
	delayed   string
	completed string
	failed    string
}

func newKeys(prefix, queue string) keys {
	base := fmt.Sprintf("%s:%s", prefix, queue)
	return keys{
		wait:      base + ":wait",
		active:    base + ":active",
		delayed:   base + ":delayed",
		completed: base + ":completed",
		failed:    base + ":failed",
	}
}

type Queue struct {
	rdb  redis.UniversalClient
	name string
	keys keys
	now  func() time.Time
}

func NewQueue(rdb redis.UniversalClient, name string) *Queue {
	return &Queue{
		rdb:  rdb,
		name: name,
		keys: newKeys(defaultPrefix, name),
		now:  time.Now,
	}
}

func (q *Queue) Name() string {
	return q.name
}

// Enqueue stores a new job and returns once Redis accepted it. Payload is
// marshalled to JSON unless it already is a json.RawMessage.
func (q *Queue) Enqueue(ctx context.Context, name string, payload any, opts Options) (*Job, error) {
	raw, ok := payload.(json.RawMessage)
	if !ok {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, errs.NewQueueError(q.name, name, fmt.Errorf("marshal payload: %w", err))
		}
		raw = data
	}

	maxAttempts := opts.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	job := &Job{
		ID:               uuid.NewString(),
		Queue:            q.name,
		Name:             name,
		Payload:          raw,
		MaxAttempts:      maxAttempts,
		RemoveOnComplete: opts.RemoveOnComplete,
		CreatedAt:        q.now().UTC(),
	}

	data, err := json.Marshal(job)
	if err != nil {
		return nil, errs.NewQueueError(q.name, name, err)
	}
	if err := q.rdb.LPush(ctx, q.keys.wait, data).Err(); err != nil {
		return nil, errs.NewQueueError(q.name, name, err)
	}
	return job, nil
}

// Counts reports the length of every queue structure.
type Counts struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Delayed   int64 `json:"delayed"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

func (q *Queue) Counts(ctx context.Context) (Counts, error) {
	var (
		wait, active, completed, failed *redis.IntCmd
		delayed                         *redis.IntCmd
	)
	_, err := q.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		wait = p.LLen(ctx, q.keys.wait)
		active = p.LLen(ctx, q.keys.active)
		delayed = p.ZCard(ctx, q.keys.delayed)
		completed = p.LLen(ctx, q.keys.completed)
		failed = p.LLen(ctx, q.keys.failed)
		return nil
	})
	if err != nil {
		return Counts{}, err
	}
	return Counts{
		Waiting:   wait.Val(),
		Active:    active.Val(),
		Delayed:   delayed.Val(),
		Completed: completed.Val(),
		Failed:    failed.Val(),
	}, nil
}

// Waiting returns the jobs still waiting, oldest first.
func (q *Queue) Waiting(ctx context.Context) ([]*Job, error) {
	return q.list(ctx, q.keys.wait)
}

func (q *Queue) list(ctx context.Context, key string) ([]*Job, error) {
	items, err := q.rdb.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, err
	}

	jobs := make([]*Job, 0, len(items))
	for _, item := range items {
		var job Job
		if err := json.Unmarshal([]byte(item), &job); err != nil {
			return nil, fmt.Errorf("decode job in %s: %w", key, err)
		}
		jobs = append(jobs, &job)
	}
	if key == q.keys.wait {
		for i, j := 0, len(jobs)-1; i < j; i, j = i+1, j-1 {
			jobs[i], jobs[j] = jobs[j], jobs[i]
		}
	}
	return jobs, nil
}
