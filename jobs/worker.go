package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rpupo63/blog-backend/errs"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	DefaultHandlerTimeout = 30 * time.Second
	DefaultPollTimeout    = 2 * time.Second
	DefaultBackoff        = 5 * time.Second

	maxBackoff = time.Hour
)

// FailedHook is called once for every job whose attempts are exhausted.
type FailedHook func(ctx context.Context, job *Job, err error)

type WorkerOptions struct {
	// HandlerTimeout bounds one handler invocation. A timeout is a retryable
	// failure.
	HandlerTimeout time.Duration
	// PollTimeout is how long Run blocks waiting for a job.
	PollTimeout time.Duration
	// Backoff is the delay before the first retry, doubled on each further
	// attempt. Zero sends failed jobs straight back to the wait list.
	Backoff  time.Duration
	OnFailed FailedHook
	Metrics  *Metrics
}

// Worker consumes one queue. It is meant to run as a single goroutine per
// queue; handlers are looked up by job name.
type Worker struct {
	queue    *Queue
	opts     WorkerOptions
	logger   zerolog.Logger
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewWorker(queue *Queue, opts WorkerOptions) *Worker {
	if opts.HandlerTimeout <= 0 {
		opts.HandlerTimeout = DefaultHandlerTimeout
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = DefaultPollTimeout
	}
	if opts.Backoff < 0 {
		opts.Backoff = 0
	}

	return &Worker{
		queue:    queue,
		opts:     opts,
		logger:   log.With().Str("component", "worker").Str("queue", queue.Name()).Logger(),
		handlers: make(map[string]Handler),
	}
}

func (w *Worker) Register(name string, handler Handler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers[name] = handler
}

func (w *Worker) handler(name string) (Handler, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	h, ok := w.handlers[name]
	return h, ok
}

// Run processes jobs until ctx is cancelled. Jobs left active by a previous
// process are put back on the wait list first, so delivery is at least once.
func (w *Worker) Run(ctx context.Context) error {
	recovered, err := w.RecoverActive(ctx)
	if err != nil {
		return fmt.Errorf("recover active jobs: %w", err)
	}
	if recovered > 0 {
		w.logger.Warn().Int("count", recovered).Msg("Re-queued jobs left active by a previous run")
	}

	w.logger.Info().Msg("Worker started")
	for {
		if ctx.Err() != nil {
			w.logger.Info().Msg("Worker stopped")
			return nil
		}

		if _, err := w.PromoteDelayed(ctx); err != nil && ctx.Err() == nil {
			w.logger.Error().Err(err).Msg("Failed to promote delayed jobs")
		}

		if _, err := w.next(ctx, w.opts.PollTimeout); err != nil {
			if ctx.Err() != nil {
				continue
			}
			w.logger.Error().Err(err).Msg("Failed to fetch job")
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
		}
	}
}

// ProcessNext handles the oldest waiting job without blocking. It reports
// whether a job was taken.
func (w *Worker) ProcessNext(ctx context.Context) (bool, error) {
	return w.next(ctx, 0)
}

func (w *Worker) next(ctx context.Context, block time.Duration) (bool, error) {
	k := w.queue.keys

	var raw string
	var err error
	if block > 0 {
		raw, err = w.queue.rdb.BRPopLPush(ctx, k.wait, k.active, block).Result()
	} else {
		raw, err = w.queue.rdb.RPopLPush(ctx, k.wait, k.active).Result()
	}
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		w.logger.Error().Err(err).Str("raw", raw).Msg("Discarding undecodable job")
		_, perr := w.queue.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.LRem(ctx, k.active, 1, raw)
			p.LPush(ctx, k.failed, raw)
			return nil
		})
		return true, perr
	}

	return true, w.process(ctx, raw, &job)
}

func (w *Worker) process(ctx context.Context, raw string, job *Job) error {
	logger := w.logger.With().Str("jobID", job.ID).Str("jobName", job.Name).Int("attempt", job.Attempts+1).Logger()

	err := w.invoke(ctx, job)
	if err == nil {
		w.opts.Metrics.observe(w.queue.name, job.Name, resultCompleted)
		logger.Debug().Msg("Job completed")
		return w.complete(ctx, raw, job)
	}

	// shutting down mid-job: leave it active so the next start recovers it
	if ctx.Err() != nil {
		logger.Warn().Err(err).Msg("Job interrupted by shutdown")
		return nil
	}

	logger.Error().Err(err).Msg("Job failed")
	var diag errs.QueryDiagnostic
	if errors.As(err, &diag) {
		logger.Error().Msg(queryDiagnostic(diag.DiagnosticQuery()))
	}

	job.Attempts++
	job.FailedReason = err.Error()
	if job.exhausted() {
		w.opts.Metrics.observe(w.queue.name, job.Name, resultFailed)
		if ferr := w.fail(ctx, raw, job); ferr != nil {
			return ferr
		}
		logger.Error().Int("attempts", job.Attempts).Msg("Job exhausted its attempts")
		if w.opts.OnFailed != nil {
			w.opts.OnFailed(ctx, job, err)
		}
		return nil
	}

	w.opts.Metrics.observe(w.queue.name, job.Name, resultRetried)
	return w.retry(ctx, raw, job)
}

func queryDiagnostic(query string, params []any) string {
	if len(params) == 0 {
		return "query: " + query
	}
	return fmt.Sprintf("query: %s -- parameters: %v", query, params)
}

// invoke runs the handler under the handler timeout and turns panics into
// errors so one bad job cannot stop the worker.
func (w *Worker) invoke(ctx context.Context, job *Job) (err error) {
	handler, ok := w.handler(job.Name)
	if !ok {
		return fmt.Errorf("%w: %s", errs.ErrUnknownJob, job.Name)
	}

	hctx, cancel := context.WithTimeout(ctx, w.opts.HandlerTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()

	if err := handler(hctx, job); err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return fmt.Errorf("handler exceeded %s: %w", w.opts.HandlerTimeout, err)
		}
		return err
	}
	return nil
}

func (w *Worker) complete(ctx context.Context, raw string, job *Job) error {
	k := w.queue.keys
	_, err := w.queue.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.LRem(ctx, k.active, 1, raw)
		if !job.RemoveOnComplete {
			p.LPush(ctx, k.completed, raw)
		}
		return nil
	})
	return err
}

func (w *Worker) retry(ctx context.Context, raw string, job *Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}

	k := w.queue.keys
	delay := w.backoff(job.Attempts)
	_, err = w.queue.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.LRem(ctx, k.active, 1, raw)
		if delay <= 0 {
			p.LPush(ctx, k.wait, data)
			return nil
		}
		due := w.queue.now().Add(delay).UnixMilli()
		p.ZAdd(ctx, k.delayed, redis.Z{Score: float64(due), Member: data})
		return nil
	})
	return err
}

func (w *Worker) fail(ctx context.Context, raw string, job *Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}

	k := w.queue.keys
	_, err = w.queue.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.LRem(ctx, k.active, 1, raw)
		p.LPush(ctx, k.failed, data)
		return nil
	})
	return err
}

// backoff is Backoff * 2^(attempts-1), capped at maxBackoff.
func (w *Worker) backoff(attempts int) time.Duration {
	if w.opts.Backoff <= 0 || attempts < 1 {
		return 0
	}
	delay := w.opts.Backoff
	for i := 1; i < attempts && delay < maxBackoff; i++ {
		delay *= 2
	}
	if delay > maxBackoff {
		delay = maxBackoff
	}
	return delay
}

// promoteScript pushes before it removes, so a failed push leaves the job in
// the delayed set instead of dropping it.
var promoteScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
for _, member in ipairs(due) do
	redis.call('LPUSH', KEYS[2], member)
	redis.call('ZREM', KEYS[1], member)
end
return #due
`)

// PromoteDelayed moves retries whose delay has elapsed back to the wait list.
func (w *Worker) PromoteDelayed(ctx context.Context) (int, error) {
	k := w.queue.keys
	now := strconv.FormatInt(w.queue.now().UnixMilli(), 10)
	promoted, err := promoteScript.Run(ctx, w.queue.rdb, []string{k.delayed, k.wait}, now).Int()
	if err != nil {
		return 0, err
	}
	return promoted, nil
}

// RecoverActive moves every job in the active list back onto the wait list,
// oldest ending up next in line.
func (w *Worker) RecoverActive(ctx context.Context) (int, error) {
	k := w.queue.keys
	recovered := 0
	for {
		err := w.queue.rdb.LMove(ctx, k.active, k.wait, "LEFT", "RIGHT").Err()
		if errors.Is(err, redis.Nil) {
			return recovered, nil
		}
		if err != nil {
			return recovered, err
		}
		recovered++
	}
}
