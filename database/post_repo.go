package database

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/rpupo63/blog-backend/errs"
	"github.com/rpupo63/blog-backend/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PostRepo struct {
	db *gorm.DB
}

func NewPostRepo(db *gorm.DB) *PostRepo {
	return &PostRepo{db}
}

// ListByOwner returns the owner's live posts with their live tags.
func (r *PostRepo) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]*models.Post, error) {
	var posts []*models.Post
	err := r.db.WithContext(ctx).
		Preload("Tags", orderByCreated).
		Where("user_id = ?", ownerID).
		Order("created_at ASC").
		Find(&posts).Error
	if err != nil {
		return nil, errs.NewDatabaseError("find", "posts", err)
	}
	return posts, nil
}

// FindByOwnerAndID returns nil, nil when the post does not exist, belongs to
// another owner or was soft-deleted. The three cases are indistinguishable.
func (r *PostRepo) FindByOwnerAndID(ctx context.Context, ownerID, id uuid.UUID) (*models.Post, error) {
	var post models.Post
	err := r.db.WithContext(ctx).
		Preload("Tags", orderByCreated).
		Where("user_id = ?", ownerID).
		First(&post, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.NewDatabaseError("find", "post", err)
	}
	return &post, nil
}

// SaveWithTags creates or updates post and inserts tags in a single
// transaction. Nothing is persisted unless every statement succeeds. The post
// is forced onto ownerID and every tag is re-parented onto the post. The
// returned post holds the tags it already carried plus the inserted ones.
//
// Updating a post that was soft-deleted or moved to another owner since it was
// read fails with a not found error and leaves the row as it is.
func (r *PostRepo) SaveWithTags(ctx context.Context, ownerID uuid.UUID, post *models.Post, tags []models.Tag) (*models.Post, error) {
	post.UserID = ownerID
	existing := post.Tags
	isNew := post.ID == uuid.Nil

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if isNew {
			if res := tx.Omit(clause.Associations).Create(post); res.Error != nil {
				return queryError(res)
			}
		} else {
			// Updates keeps the soft delete scope, Save would upsert the row back.
			res := tx.Model(post).
				Where("user_id = ?", ownerID).
				Select("*").
				Omit(clause.Associations, "created_at", "deleted_at").
				Updates(post)
			if res.Error != nil {
				return queryError(res)
			}
			if res.RowsAffected == 0 {
				return errs.NewNotFound("post")
			}
		}

		if tags == nil {
			return nil
		}

		inserted := make([]models.Tag, len(tags))
		for i, tag := range tags {
			inserted[i] = models.Tag{ID: tag.ID, PostID: post.ID, Name: tag.Name}
		}
		if len(inserted) > 0 {
			if res := tx.Create(&inserted); res.Error != nil {
				if cerr, ok := constraintError("tag", "id", "post", res.Error); ok {
					cerr.Cause = queryError(res)
					return cerr
				}
				return queryError(res)
			}
		}

		post.Tags = append(append([]models.Tag{}, existing...), inserted...)
		return nil
	})
	if err != nil {
		post.Tags = existing
		if isNew {
			post.ID = uuid.Nil
		}
		if errs.IsNotFound(err) {
			return nil, err
		}
		return nil, errs.NewTransactionFailedError("save post and tags", err)
	}

	return post, nil
}

// SoftDelete marks the post deleted. Deleting an already deleted post is a no-op.
func (r *PostRepo) SoftDelete(ctx context.Context, id uuid.UUID) error {
	if err := r.db.WithContext(ctx).Delete(&models.Post{}, "id = ?", id).Error; err != nil {
		return errs.NewDatabaseError("delete", "post", err)
	}
	return nil
}

// queryError keeps the failed statement so the job log can print it.
func queryError(res *gorm.DB) error {
	return errs.NewQueryError(res.Statement.SQL.String(), res.Statement.Vars, res.Error)
}

func orderByCreated(db *gorm.DB) *gorm.DB {
	return db.Order("created_at ASC")
}
