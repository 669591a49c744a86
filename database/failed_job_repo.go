package database

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/rpupo63/blog-backend/errs"
	"github.com/rpupo63/blog-backend/models"
	"gorm.io/gorm"
)

type FailedJobRepo struct {
	db *gorm.DB
}

func NewFailedJobRepo(db *gorm.DB) *FailedJobRepo {
	return &FailedJobRepo{db}
}

func (r *FailedJobRepo) Add(ctx context.Context, job *models.FailedJob) error {
	if err := r.db.WithContext(ctx).Create(job).Error; err != nil {
		return errs.NewDatabaseError("create", "failed job", err)
	}
	return nil
}

// FindAll returns failed jobs, most recent first
func (r *FailedJobRepo) FindAll(ctx context.Context) ([]models.FailedJob, error) {
	var jobs []models.FailedJob
	if err := r.db.WithContext(ctx).Order("failed_at DESC").Find(&jobs).Error; err != nil {
		return nil, errs.NewDatabaseError("find", "failed jobs", err)
	}
	return jobs, nil
}

// FindByID returns nil, nil when no record has the id
func (r *FailedJobRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.FailedJob, error) {
	var job models.FailedJob
	err := r.db.WithContext(ctx).First(&job, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.NewDatabaseError("find", "failed job", err)
	}
	return &job, nil
}

func (r *FailedJobRepo) Delete(ctx context.Context, id uuid.UUID) error {
	if err := r.db.WithContext(ctx).Delete(&models.FailedJob{}, "id = ?", id).Error; err != nil {
		return errs.NewDatabaseError("delete", "failed job", err)
	}
	return nil
}
