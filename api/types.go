package api

import (
	"time"

	"github.com/google/uuid"
	"github.com/rpupo63/blog-backend/errs"
	"github.com/rpupo63/blog-backend/models"
)

// routeHandlers contains all the handlers for different route types
type routeHandlers struct {
	authHandler   authHandler
	postHandler   postHandler
	healthHandler healthHandler
	// jobHandler is nil unless an admin token and a job admin are configured.
	jobHandler *jobHandler
}

// ErrorResponse represents an error response from the API
type ErrorResponse struct {
	Error   string            `json:"error" example:"Internal Server Error"`
	Status  string            `json:"status" example:"error"`
	Field   string            `json:"field,omitempty" example:"title"`
	Details string            `json:"details,omitempty" example:"Additional error details"`
	Cause   string            `json:"cause,omitempty" example:"Underlying error cause"`
	Fields  []errs.FieldError `json:"fields,omitempty"`
}

type tagResponse struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

type postResponse struct {
	ID          uuid.UUID     `json:"id"`
	Title       string        `json:"title"`
	Description *string       `json:"description"`
	FileName    *string       `json:"fileName"`
	Tags        []tagResponse `json:"tags"`
	CreatedAt   time.Time     `json:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt"`
}

type postCollectionResponse struct {
	Posts []postResponse `json:"posts"`
	Total int            `json:"total"`
}

type deleteResponse struct {
	Deleted bool `json:"deleted"`
}

func toPostResponse(post *models.Post) postResponse {
	tags := make([]tagResponse, 0, len(post.Tags))
	for _, tag := range post.Tags {
		tags = append(tags, tagResponse{ID: tag.ID, Name: tag.Name})
	}
	return postResponse{
		ID:          post.ID,
		Title:       post.Title,
		Description: post.Description,
		FileName:    post.FileName,
		Tags:        tags,
		CreatedAt:   post.CreatedAt,
		UpdatedAt:   post.UpdatedAt,
	}
}

func toPostCollectionResponse(posts []*models.Post) postCollectionResponse {
	out := make([]postResponse, 0, len(posts))
	for _, post := range posts {
		out = append(out, toPostResponse(post))
	}
	return postCollectionResponse{Posts: out, Total: len(out)}
}

type registerRequest struct {
	Username string `json:"username" validate:"required,min=3,max=255"`
	Password string `json:"password" validate:"required,min=8,max=72"`
	Email    string `json:"email" validate:"required,email,max=255"`
}

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

type profileResponse struct {
	ID       uuid.UUID `json:"id"`
	Username string    `json:"username"`
	Email    string    `json:"email"`
}
