package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Column limits shared by validation and the schema.
const (
	ShortLength = 255
	LongLength  = 10000
)

// Post is an owner-scoped blog post. Soft-deleted posts (DeletedAt set) are
// invisible to every default gorm query.
type Post struct {
	ID          uuid.UUID      `json:"id" db:"id" gorm:"type:uuid;primaryKey;not null"`
	UserID      uuid.UUID      `json:"userId" db:"user_id" gorm:"type:uuid;not null;index:idx_posts_user_id"`
	Title       string         `json:"title" db:"title" gorm:"type:varchar(255);not null"`
	Description *string        `json:"description,omitempty" db:"description" gorm:"type:varchar(10000)"`
	FileName    *string        `json:"fileName,omitempty" db:"file_name" gorm:"type:varchar(255)"`
	CreatedAt   time.Time      `json:"createdAt" db:"created_at"`
	UpdatedAt   time.Time      `json:"updatedAt" db:"updated_at"`
	DeletedAt   gorm.DeletedAt `json:"-" db:"deleted_at" gorm:"index"`
	Tags        []Tag          `json:"tags,omitempty" gorm:"foreignKey:PostID;references:ID"`
}

func (Post) TableName() string { return "posts" }

func (p *Post) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// HasFile reports whether an upload is attached to the post.
func (p *Post) HasFile() bool {
	return p.FileName != nil && *p.FileName != ""
}
