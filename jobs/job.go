// Package jobs is a small durable job queue on Redis lists. Producers enqueue
// named jobs with a JSON payload; a Worker runs the handler registered for
// each name, retrying failures until the job's attempts are exhausted.
package jobs

import (
	"context"
	"encoding/json"
	"time"
)

// Job is the unit stored in Redis. It is serialised as JSON.
type Job struct {
	ID               string          `json:"id"`
	Queue            string          `json:"queue"`
	Name             string          `json:"name"`
	Payload          json.RawMessage `json:"payload"`
	Attempts         int             `json:"attempts"`
	MaxAttempts      int             `json:"maxAttempts"`
	RemoveOnComplete bool            `json:"removeOnComplete"`
	FailedReason     string          `json:"failedReason,omitempty"`
	CreatedAt        time.Time       `json:"createdAt"`
}

// Options control delivery of a single job.
type Options struct {
	// MaxAttempts is the total number of handler invocations, first try
	// included. Values below 1 mean a single attempt.
	MaxAttempts      int
	RemoveOnComplete bool
}

// Handler processes one job. A returned error schedules a retry while
// attempts remain.
type Handler func(ctx context.Context, job *Job) error

// Decode unmarshals the job payload into v.
func (j *Job) Decode(v any) error {
	return json.Unmarshal(j.Payload, v)
}

func (j *Job) exhausted() bool {
	return j.Attempts >= j.MaxAttempts
}
