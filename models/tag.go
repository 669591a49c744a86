package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Tag belongs to exactly one post and is only ever written as part of a post save.
type Tag struct {
	ID        uuid.UUID      `json:"id" db:"id" gorm:"type:uuid;primaryKey;not null"`
	PostID    uuid.UUID      `json:"postId" db:"post_id" gorm:"type:uuid;not null;index:idx_tags_post_id"`
	Name      string         `json:"name" db:"name" gorm:"type:varchar(255);not null"`
	CreatedAt time.Time      `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time      `json:"updatedAt" db:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" db:"deleted_at" gorm:"index"`
}

func (Tag) TableName() string { return "tags" }

func (t *Tag) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}
