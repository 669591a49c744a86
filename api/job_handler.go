package api

import (
	"context"
	"crypto/subtle"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rpupo63/blog-backend/errs"
	"github.com/rpupo63/blog-backend/jobs"
	"github.com/rpupo63/blog-backend/services"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const adminTokenHeader = "X-Admin-Token"

// jobAdmin is the part of services.JobAdmin the handlers call.
type jobAdmin interface {
	Overview(ctx context.Context) (*services.JobOverview, error)
	Replay(ctx context.Context, id uuid.UUID) (*jobs.Job, error)
}

type jobHandler struct {
	responder Responder
	logger    zerolog.Logger
	jobs      jobAdmin
}

func newJobHandler(admin jobAdmin) jobHandler {
	logger := log.With().Str("handlerName", "jobHandler").Logger()

	return jobHandler{
		responder: NewResponder(logger),
		logger:    logger,
		jobs:      admin,
	}
}

// getJobs reports queue counts and the archived failed jobs
// @Router /admin/jobs [get]
func (h jobHandler) getJobs() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		overview, err := h.jobs.Overview(r.Context())
		if err != nil {
			h.responder.WriteError(w, err)
			return
		}

		h.responder.WriteJSON(w, overview)
	}
}

// replayFailedJob puts an archived job back on the queue
// @Router /admin/jobs/failed/{jobID}/replay [post]
func (h jobHandler) replayFailedJob() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "jobID"))
		if err != nil {
			h.responder.WriteError(w, errs.NewNotFound("failed job"))
			return
		}

		job, err := h.jobs.Replay(r.Context(), id)
		if err != nil {
			h.responder.WriteError(w, err)
			return
		}

		h.logger.Info().Str("failedJobId", id.String()).Str("jobId", job.ID).Msg("Replayed failed job")
		h.responder.WriteJSONWithStatus(w, http.StatusAccepted, job)
	}
}

type adminMiddleware struct {
	responder Responder
	token     []byte
}

func newAdminMiddleware(token string) adminMiddleware {
	logger := log.With().Str("handlerName", "adminMiddleware").Logger()
	return adminMiddleware{
		responder: NewResponder(logger),
		token:     []byte(token),
	}
}

// authorize admits requests carrying the configured operator token.
func (m adminMiddleware) authorize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		given := r.Header.Get(adminTokenHeader)
		if given == "" {
			m.responder.WriteError(w, errs.NewMissingTokenError())
			return
		}
		if subtle.ConstantTimeCompare([]byte(given), m.token) != 1 {
			m.responder.WriteError(w, errs.NewForbiddenError("admin token required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
