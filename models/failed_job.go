package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// FailedJob is a background job that exhausted its attempts. It keeps what
// a replay needs to enqueue the job again.
type FailedJob struct {
	ID               uuid.UUID      `json:"id" db:"id" gorm:"type:uuid;primaryKey;not null"`
	JobID            string         `json:"jobId" db:"job_id" gorm:"type:varchar(64);not null;index"`
	Queue            string         `json:"queue" db:"queue" gorm:"type:varchar(255);not null"`
	Name             string         `json:"name" db:"name" gorm:"type:varchar(255);not null"`
	Payload          datatypes.JSON `json:"payload" db:"payload"`
	Attempts         int            `json:"attempts" db:"attempts" gorm:"not null;default:0"`
	MaxAttempts      int            `json:"maxAttempts" db:"max_attempts" gorm:"not null;default:1"`
	RemoveOnComplete bool           `json:"removeOnComplete" db:"remove_on_complete" gorm:"not null;default:false"`
	Reason           string         `json:"reason" db:"reason" gorm:"type:text"`
	FailedAt         time.Time      `json:"failedAt" db:"failed_at" gorm:"not null"`
}

func (FailedJob) TableName() string { return "failed_jobs" }

func (j *FailedJob) BeforeCreate(tx *gorm.DB) error {
	if j.ID == uuid.Nil {
		j.ID = uuid.New()
	}
	return nil
}
