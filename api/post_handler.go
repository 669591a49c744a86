package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rpupo63/blog-backend/errs"
	"github.com/rpupo63/blog-backend/models"
	"github.com/rpupo63/blog-backend/services"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	// multipartOverhead is allowed on top of the file limit for form fields
	// and part headers.
	multipartOverhead = 1 << 20
	// maxJSONBody fits the longest title, description and a generous tag
	// list even when every character is escaped.
	maxJSONBody = 1 << 20
)

// postLifecycle is the part of services.PostService the handlers call.
type postLifecycle interface {
	FindAll(ctx context.Context, owner services.Owner) ([]*models.Post, error)
	FindOneOrFail(ctx context.Context, owner services.Owner, id uuid.UUID) (*models.Post, error)
	Create(ctx context.Context, owner services.Owner, input services.CreatePostInput, upload *services.Upload) (*models.Post, error)
	Update(ctx context.Context, owner services.Owner, id uuid.UUID, input services.UpdatePostInput, upload *services.Upload) (*models.Post, error)
	Remove(ctx context.Context, owner services.Owner, id uuid.UUID) (bool, error)
}

type postHandler struct {
	responder   Responder
	logger      zerolog.Logger
	posts       postLifecycle
	maxFileSize int64
}

func newPostHandler(posts postLifecycle, maxFileSize int64) postHandler {
	logger := log.With().Str("handlerName", "postHandler").Logger()

	return postHandler{
		responder:   NewResponder(logger),
		logger:      logger,
		posts:       posts,
		maxFileSize: maxFileSize,
	}
}

// getAllPosts lists the caller's posts with their tags
// @Router /posts [get]
func (h postHandler) getAllPosts() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, err := ctxGetOwner(r.Context())
		if err != nil {
			h.responder.WriteError(w, errs.Unauthorized)
			return
		}

		posts, err := h.posts.FindAll(r.Context(), owner)
		if err != nil {
			h.responder.WriteError(w, err)
			return
		}

		h.responder.WriteJSON(w, toPostCollectionResponse(posts))
	}
}

// getPost returns one of the caller's posts
// @Router /posts/{postID} [get]
func (h postHandler) getPost() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, postID, ok := h.ownerAndPostID(w, r)
		if !ok {
			return
		}

		post, err := h.posts.FindOneOrFail(r.Context(), owner, postID)
		if err != nil {
			h.responder.WriteError(w, err)
			return
		}

		h.responder.WriteJSON(w, toPostResponse(post))
	}
}

// createPost accepts a JSON body or a multipart form with an optional file
// @Router /posts [post]
func (h postHandler) createPost() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, err := ctxGetOwner(r.Context())
		if err != nil {
			h.responder.WriteError(w, errs.Unauthorized)
			return
		}

		var input services.CreatePostInput
		var upload *services.Upload
		if isMultipart(r) {
			form, err := h.parseForm(w, r)
			if err != nil {
				h.responder.WriteError(w, err)
				return
			}
			input = services.CreatePostInput{Description: form.description, Tags: form.tags}
			if form.title != nil {
				input.Title = *form.title
			}
			upload = form.upload
		} else if err := decodeJSON(w, r, &input); err != nil {
			h.responder.WriteError(w, err)
			return
		}

		post, err := h.posts.Create(r.Context(), owner, input, upload)
		if err != nil {
			h.responder.WriteError(w, err)
			return
		}

		h.responder.WriteJSONWithStatus(w, http.StatusCreated, toPostResponse(post))
	}
}

// updatePost applies a partial update; tags are appended
// @Router /posts/{postID} [patch]
func (h postHandler) updatePost() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, postID, ok := h.ownerAndPostID(w, r)
		if !ok {
			return
		}

		var input services.UpdatePostInput
		var upload *services.Upload
		if isMultipart(r) {
			form, err := h.parseForm(w, r)
			if err != nil {
				h.responder.WriteError(w, err)
				return
			}
			input = services.UpdatePostInput{Title: form.title, Description: form.description, Tags: form.tags}
			upload = form.upload
		} else if err := decodeJSON(w, r, &input); err != nil {
			h.responder.WriteError(w, err)
			return
		}

		post, err := h.posts.Update(r.Context(), owner, postID, input, upload)
		if err != nil {
			h.responder.WriteError(w, err)
			return
		}

		h.responder.WriteJSON(w, toPostResponse(post))
	}
}

// deletePost soft-deletes one of the caller's posts
// @Router /posts/{postID} [delete]
func (h postHandler) deletePost() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, postID, ok := h.ownerAndPostID(w, r)
		if !ok {
			return
		}

		deleted, err := h.posts.Remove(r.Context(), owner, postID)
		if err != nil {
			h.responder.WriteError(w, err)
			return
		}

		h.responder.WriteJSON(w, deleteResponse{Deleted: deleted})
	}
}

func (h postHandler) ownerAndPostID(w http.ResponseWriter, r *http.Request) (services.Owner, uuid.UUID, bool) {
	owner, err := ctxGetOwner(r.Context())
	if err != nil {
		h.responder.WriteError(w, errs.Unauthorized)
		return services.Owner{}, uuid.Nil, false
	}

	postID, err := uuid.Parse(chi.URLParam(r, "postID"))
	if err != nil {
		// a malformed id can never match a post
		h.responder.WriteError(w, errs.NewNotFound("post"))
		return services.Owner{}, uuid.Nil, false
	}
	return owner, postID, true
}

type postForm struct {
	title       *string
	description *string
	tags        []services.TagInput
	upload      *services.Upload
}

func isMultipart(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mediaType == "multipart/form-data"
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			return errs.NewMaxBodySizeExceededError("body", maxJSONBody)
		}
		return errs.NewMalformedPayloadError("json", err)
	}
	return nil
}

// parseForm reads the multipart fields title, description, tags (repeated)
// and file. Absent fields stay nil.
func (h postHandler) parseForm(w http.ResponseWriter, r *http.Request) (*postForm, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxFileSize+multipartOverhead)
	if err := r.ParseMultipartForm(h.maxFileSize + multipartOverhead); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			return nil, errs.NewMaxBodySizeExceededError("file", h.maxFileSize)
		}
		return nil, errs.NewMalformedPayloadError("multipart", err)
	}

	form := &postForm{}
	if values, ok := r.MultipartForm.Value["title"]; ok && len(values) > 0 {
		form.title = &values[0]
	}
	if values, ok := r.MultipartForm.Value["description"]; ok && len(values) > 0 {
		form.description = &values[0]
	}
	for _, name := range r.MultipartForm.Value["tags"] {
		form.tags = append(form.tags, services.TagInput{Name: name})
	}

	file, header, err := r.FormFile("file")
	if errors.Is(err, http.ErrMissingFile) {
		return form, nil
	}
	if err != nil {
		return nil, errs.NewMalformedPayloadError("multipart", err)
	}
	defer file.Close()

	if header.Size > h.maxFileSize {
		return nil, errs.NewMaxBodySizeExceededError("file", h.maxFileSize)
	}
	data, err := io.ReadAll(io.LimitReader(file, h.maxFileSize+1))
	if err != nil {
		return nil, errs.NewMalformedPayloadError("multipart", err)
	}
	if int64(len(data)) > h.maxFileSize {
		return nil, errs.NewMaxBodySizeExceededError("file", h.maxFileSize)
	}

	form.upload = &services.Upload{Data: data, MimeType: detectMimeType(header.Header.Get("Content-Type"), data)}
	return form, nil
}

// detectMimeType trusts a specific declared type and sniffs the bytes when
// the client sent none or a generic one.
func detectMimeType(declared string, data []byte) string {
	declared = strings.TrimSpace(declared)
	if declared != "" && !strings.HasPrefix(declared, "application/octet-stream") {
		return declared
	}
	return mimetype.Detect(data).String()
}
