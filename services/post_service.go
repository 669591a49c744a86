package services

import (
	"context"

	"github.com/google/uuid"
	"github.com/rpupo63/blog-backend/errs"
	"github.com/rpupo63/blog-backend/filestore"
	"github.com/rpupo63/blog-backend/models"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// PostStore is the persistence the lifecycle needs; database.PostRepo
// implements it.
type PostStore interface {
	ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]*models.Post, error)
	FindByOwnerAndID(ctx context.Context, ownerID, id uuid.UUID) (*models.Post, error)
	SaveWithTags(ctx context.Context, ownerID uuid.UUID, post *models.Post, tags []models.Tag) (*models.Post, error)
	SoftDelete(ctx context.Context, id uuid.UUID) error
}

// Owner is the authenticated caller. Email is the notification recipient.
type Owner struct {
	ID    uuid.UUID
	Email string
}

type TagInput struct {
	Name string `json:"name" validate:"required,max=255"`
}

type CreatePostInput struct {
	Title       string     `json:"title" validate:"required,max=255"`
	Description *string    `json:"description" validate:"omitnil,max=10000"`
	Tags        []TagInput `json:"tags" validate:"omitempty,dive"`
}

// UpdatePostInput carries only the fields to change; nil means unchanged.
// Tags are appended to the post's existing tags.
type UpdatePostInput struct {
	Title       *string    `json:"title" validate:"omitnil,min=1,max=255"`
	Description *string    `json:"description" validate:"omitnil,max=10000"`
	Tags        []TagInput `json:"tags" validate:"omitempty,dive"`
}

// Upload is an attachment sent along with a create or update.
type Upload struct {
	Data     []byte
	MimeType string
}

// PostService runs the post lifecycle: persistence through PostStore,
// attachment bytes through the file store, then a notification.
type PostService struct {
	posts    PostStore
	files    filestore.Store
	notifier Notifier
	logger   zerolog.Logger
}

func NewPostService(posts PostStore, files filestore.Store, notifier Notifier) *PostService {
	return &PostService{
		posts:    posts,
		files:    files,
		notifier: notifier,
		logger:   log.With().Str("component", "postService").Logger(),
	}
}

func (s *PostService) FindAll(ctx context.Context, owner Owner) ([]*models.Post, error) {
	return s.posts.ListByOwner(ctx, owner.ID)
}

// FindOneOrFail returns the same NotFound for a missing post and for a post
// owned by someone else.
func (s *PostService) FindOneOrFail(ctx context.Context, owner Owner, id uuid.UUID) (*models.Post, error) {
	post, err := s.posts.FindByOwnerAndID(ctx, owner.ID, id)
	if err != nil {
		return nil, err
	}
	if post == nil {
		return nil, errs.NewNotFound("post")
	}
	return post, nil
}

func (s *PostService) Create(ctx context.Context, owner Owner, input CreatePostInput, upload *Upload) (*models.Post, error) {
	if err := Validate(input); err != nil {
		return nil, err
	}
	if err := checkUpload(upload); err != nil {
		return nil, err
	}

	post := &models.Post{
		Title:       input.Title,
		Description: input.Description,
	}

	var fileName string
	if upload != nil {
		name, err := s.writeUpload(ctx, upload)
		if err != nil {
			return nil, err
		}
		fileName = name
		post.FileName = &fileName
	}

	saved, err := s.posts.SaveWithTags(ctx, owner.ID, post, toTags(input.Tags))
	if err != nil {
		if fileName != "" {
			s.removeFile(ctx, fileName)
		}
		return nil, err
	}

	s.notifier.Notify(ctx, PostEvent{Kind: PostCreated, Recipient: owner.Email, Post: saved})
	return saved, nil
}

// Update merges the given fields onto the owner's post. An uploaded file is
// written and removed again straight away, yet its name is recorded on the
// post, so file_name may point at a file that no longer exists.
func (s *PostService) Update(ctx context.Context, owner Owner, id uuid.UUID, input UpdatePostInput, upload *Upload) (*models.Post, error) {
	if err := Validate(input); err != nil {
		return nil, err
	}
	if err := checkUpload(upload); err != nil {
		return nil, err
	}

	post, err := s.FindOneOrFail(ctx, owner, id)
	if err != nil {
		return nil, err
	}

	if upload != nil {
		// TODO: keep the uploaded bytes and delete the previous attachment
		// once replacing files on update is confirmed.
		name, err := s.writeUpload(ctx, upload)
		if err != nil {
			return nil, err
		}
		if err := s.files.Delete(ctx, name); err != nil {
			s.removeFile(ctx, name)
			return nil, err
		}
		post.FileName = &name
	}

	if input.Title != nil {
		post.Title = *input.Title
	}
	if input.Description != nil {
		post.Description = input.Description
	}

	saved, err := s.posts.SaveWithTags(ctx, owner.ID, post, toTags(input.Tags))
	if err != nil {
		return nil, err
	}

	s.notifier.Notify(ctx, PostEvent{Kind: PostUpdated, Recipient: owner.Email, Post: saved})
	return saved, nil
}

// Remove soft-deletes the owner's post and its attachment. A second call for
// the same id fails with NotFound.
func (s *PostService) Remove(ctx context.Context, owner Owner, id uuid.UUID) (bool, error) {
	post, err := s.FindOneOrFail(ctx, owner, id)
	if err != nil {
		return false, err
	}

	if err := s.posts.SoftDelete(ctx, post.ID); err != nil {
		return false, err
	}

	// the row is already gone, a stale file only costs disk
	if post.HasFile() {
		if err := s.files.Delete(ctx, *post.FileName); err != nil {
			s.logger.Error().Err(err).Str("postID", post.ID.String()).Str("fileName", *post.FileName).
				Msg("Failed to delete attachment of removed post")
		}
	}

	s.notifier.Notify(ctx, PostEvent{Kind: PostDeleted, Recipient: owner.Email, Post: post})
	return true, nil
}

func checkUpload(upload *Upload) error {
	if upload == nil {
		return nil
	}
	if _, ok := filestore.ExtensionFor(upload.MimeType); !ok {
		return errs.NewUnsupportedMediaTypeError(upload.MimeType, filestore.AllowedMimeTypes())
	}
	return nil
}

// writeUpload stores the upload under a fresh random name. A failed write is
// cleaned up before the error is returned.
func (s *PostService) writeUpload(ctx context.Context, upload *Upload) (string, error) {
	name, err := filestore.NewFileName(upload.MimeType)
	if err != nil {
		return "", errs.NewInternalErrorWithCause("derive file name", err)
	}

	if err := s.files.Write(ctx, name, upload.Data); err != nil {
		s.removeFile(ctx, name)
		return "", err
	}
	return name, nil
}

// removeFile deletes name if it exists. Failures are logged only.
func (s *PostService) removeFile(ctx context.Context, name string) {
	exists, err := s.files.Exists(ctx, name)
	if err != nil {
		s.logger.Error().Err(err).Str("fileName", name).Msg("Failed to check file during cleanup")
		return
	}
	if !exists {
		return
	}
	if err := s.files.Delete(ctx, name); err != nil {
		s.logger.Error().Err(err).Str("fileName", name).Msg("Failed to delete file during cleanup")
	}
}

func toTags(inputs []TagInput) []models.Tag {
	if len(inputs) == 0 {
		return nil
	}
	tags := make([]models.Tag, 0, len(inputs))
	for _, input := range inputs {
		tags = append(tags, models.Tag{Name: input.Name})
	}
	return tags
}
