package api

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

type healthHandler struct {
	responder   Responder
	logger      zerolog.Logger
	checks      map[string]HealthCheck
	startupTime time.Time
}

func newHealthHandler(checks map[string]HealthCheck, startupTime time.Time) healthHandler {
	logger := log.With().Str("handlerName", "healthHandler").Logger()
	return healthHandler{
		responder:   NewResponder(logger),
		logger:      logger,
		checks:      checks,
		startupTime: startupTime,
	}
}

type healthResponse struct {
	Status string            `json:"status"`
	Uptime string            `json:"uptime"`
	Checks map[string]string `json:"checks,omitempty"`
}

func (h healthHandler) health() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		names := make([]string, 0, len(h.checks))
		for name := range h.checks {
			names = append(names, name)
		}
		sort.Strings(names)

		response := healthResponse{
			Status: "ok",
			Uptime: time.Since(h.startupTime).Round(time.Second).String(),
			Checks: make(map[string]string, len(names)),
		}
		status := http.StatusOK
		for _, name := range names {
			if err := h.checks[name](ctx); err != nil {
				h.logger.Warn().Err(err).Str("check", name).Msg("Health check failed")
				response.Checks[name] = err.Error()
				response.Status = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			response.Checks[name] = "ok"
		}

		h.responder.WriteJSONWithStatus(w, status, response)
	}
}
