package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Timestamps adds GORM auto-times
type Timestamps struct {
	CreatedAt time.Time      `json:"created_at" gorm:"autoCreateTime;index"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}

// ensureID assigns a UUID primary key when the caller did not set one.
func ensureID(id *string) {
	if *id == "" {
		*id = uuid.NewString()
	}
}

// AutoMigrate creates or updates every table the service owns or mirrors.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Profile{},
		&SkillLevel{},
		&Challenge{},
		&Squad{},
		&SquadMember{},
		&MatchQueueEntry{},
		&ChallengeSubmission{},
	)
}
