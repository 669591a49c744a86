package api

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/rpupo63/blog-backend/auth"
	"github.com/rpupo63/blog-backend/errs"
	"github.com/rpupo63/blog-backend/models"
	"github.com/rpupo63/blog-backend/services"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type userStore interface {
	Add(ctx context.Context, user *models.User) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	FindByUsername(ctx context.Context, username string) (*models.User, error)
}

type authHandler struct {
	responder Responder
	logger    zerolog.Logger
	users     userStore
	tokens    *auth.Tokens
}

func newAuthHandler(users userStore, tokens *auth.Tokens) authHandler {
	logger := log.With().Str("handlerName", "authHandler").Logger()

	return authHandler{
		responder: NewResponder(logger),
		logger:    logger,
		users:     users,
		tokens:    tokens,
	}
}

// register creates a user and returns a token for it
// @Router /auth/register [post]
func (h authHandler) register() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req registerRequest
		if err := decodeJSON(w, r, &req); err != nil {
			h.responder.WriteError(w, err)
			return
		}
		if err := services.Validate(req); err != nil {
			h.responder.WriteError(w, err)
			return
		}

		hash, err := auth.HashPassword(req.Password)
		if err != nil {
			h.responder.WriteError(w, errs.NewInternalErrorWithCause("hash password", err))
			return
		}

		user := &models.User{Username: req.Username, Password: hash, Email: req.Email}
		if err := h.users.Add(r.Context(), user); err != nil {
			h.responder.WriteError(w, err)
			return
		}

		h.writeToken(w, http.StatusCreated, user)
	}
}

// login exchanges username and password for a token
// @Router /auth/login [post]
func (h authHandler) login() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req loginRequest
		if err := decodeJSON(w, r, &req); err != nil {
			h.responder.WriteError(w, err)
			return
		}
		if err := services.Validate(req); err != nil {
			h.responder.WriteError(w, err)
			return
		}

		user, err := h.users.FindByUsername(r.Context(), req.Username)
		if err != nil {
			h.responder.WriteError(w, err)
			return
		}
		if user == nil || !auth.CheckPassword(user.Password, req.Password) {
			h.responder.WriteError(w, errs.NewInvalidCredentialsError())
			return
		}

		h.writeToken(w, http.StatusOK, user)
	}
}

// profile returns the authenticated user
// @Router /auth/profile [get]
func (h authHandler) profile() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, err := ctxGetOwner(r.Context())
		if err != nil {
			h.responder.WriteError(w, errs.Unauthorized)
			return
		}

		user, err := h.users.FindByID(r.Context(), owner.ID)
		if err != nil {
			h.responder.WriteError(w, err)
			return
		}
		if user == nil {
			h.responder.WriteError(w, errs.NewNotFound("user"))
			return
		}

		h.responder.WriteJSON(w, profileResponse{ID: user.ID, Username: user.Username, Email: user.Email})
	}
}

func (h authHandler) writeToken(w http.ResponseWriter, status int, user *models.User) {
	token, err := h.tokens.Generate(user.ID, user.Email)
	if err != nil {
		h.responder.WriteError(w, errs.NewInternalErrorWithCause("sign token", err))
		return
	}
	h.responder.WriteJSONWithStatus(w, status, tokenResponse{Token: token})
}
