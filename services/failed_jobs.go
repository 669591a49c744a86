package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rpupo63/blog-backend/errs"
	"github.com/rpupo63/blog-backend/jobs"
	"github.com/rpupo63/blog-backend/models"
	"github.com/rs/zerolog/log"
	"gorm.io/datatypes"
)

type FailedJobStore interface {
	Add(ctx context.Context, job *models.FailedJob) error
}

// RecordFailedJobs returns a worker hook that keeps a copy of every job that
// ran out of attempts, so undeliverable mail can be inspected and replayed.
func RecordFailedJobs(store FailedJobStore) jobs.FailedHook {
	return func(ctx context.Context, job *jobs.Job, reason error) {
		record := &models.FailedJob{
			JobID:            job.ID,
			Queue:            job.Queue,
			Name:             job.Name,
			Payload:          datatypes.JSON(job.Payload),
			Attempts:         job.Attempts,
			MaxAttempts:      job.MaxAttempts,
			RemoveOnComplete: job.RemoveOnComplete,
			FailedAt:         time.Now().UTC(),
		}
		if reason != nil {
			record.Reason = reason.Error()
		}

		if err := store.Add(context.WithoutCancel(ctx), record); err != nil {
			log.Error().Err(err).Str("jobId", job.ID).Str("jobName", job.Name).Msg("Failed to record failed job")
		}
	}
}

type FailedJobArchive interface {
	FailedJobStore
	FindAll(ctx context.Context) ([]models.FailedJob, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.FailedJob, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type JobQueue interface {
	JobEnqueuer
	Name() string
	Counts(ctx context.Context) (jobs.Counts, error)
	Waiting(ctx context.Context) ([]*jobs.Job, error)
}

// JobOverview is the queue state, the jobs waiting to run and every archived
// failure, newest first.
type JobOverview struct {
	Queue   string             `json:"queue"`
	Counts  jobs.Counts        `json:"counts"`
	Waiting []*jobs.Job        `json:"waiting"`
	Failed  []models.FailedJob `json:"failed"`
}

// JobAdmin lets operators inspect exhausted jobs and put them back on the queue.
type JobAdmin struct {
	archive FailedJobArchive
	queue   JobQueue
}

func NewJobAdmin(archive FailedJobArchive, queue JobQueue) *JobAdmin {
	return &JobAdmin{archive: archive, queue: queue}
}

func (a *JobAdmin) Overview(ctx context.Context) (*JobOverview, error) {
	counts, err := a.queue.Counts(ctx)
	if err != nil {
		return nil, errs.NewInternalErrorWithCause("read queue counts", err)
	}
	waiting, err := a.queue.Waiting(ctx)
	if err != nil {
		return nil, errs.NewInternalErrorWithCause("read waiting jobs", err)
	}
	failed, err := a.archive.FindAll(ctx)
	if err != nil {
		return nil, err
	}
	return &JobOverview{Queue: a.queue.Name(), Counts: counts, Waiting: waiting, Failed: failed}, nil
}

// Replay enqueues an archived job again with a fresh attempt budget and drops
// it from the archive. A record that cannot be dropped is logged; it may then
// be replayed twice, which at-least-once delivery already allows.
func (a *JobAdmin) Replay(ctx context.Context, id uuid.UUID) (*jobs.Job, error) {
	record, err := a.archive.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, errs.NewNotFound("failed job")
	}
	if record.Queue != a.queue.Name() {
		return nil, errs.NewBadRequestError(fmt.Sprintf("job belongs to queue %s", record.Queue))
	}

	job, err := a.queue.Enqueue(ctx, record.Name, json.RawMessage(record.Payload), jobs.Options{
		MaxAttempts:      record.MaxAttempts,
		RemoveOnComplete: record.RemoveOnComplete,
	})
	if err != nil {
		return nil, err
	}

	if err := a.archive.Delete(ctx, record.ID); err != nil {
		log.Error().Err(err).Str("failedJobId", record.ID.String()).Msg("Failed to drop replayed job from archive")
	}
	return job, nil
}
