package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User owns posts. Password holds a bcrypt hash and is never serialized.
type User struct {
	ID        uuid.UUID      `json:"id" db:"id" gorm:"type:uuid;primaryKey;not null"`
	Username  string         `json:"username" db:"username" gorm:"type:varchar(255);not null;uniqueIndex:idx_users_username"`
	Password  string         `json:"-" db:"password" gorm:"type:varchar(255);not null"`
	Email     string         `json:"email" db:"email" gorm:"type:varchar(255);not null"`
	Code      *string        `json:"-" db:"code" gorm:"type:varchar(6)"`
	CreatedAt time.Time      `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time      `json:"updatedAt" db:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" db:"deleted_at" gorm:"index"`
}

func (User) TableName() string { return "users" }

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}
