package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ChallengeSubmission records one squad member's answers for a challenge.
type ChallengeSubmission struct {
	ID          string         `gorm:"primaryKey;type:uuid" json:"id"`
	ChallengeID string         `gorm:"type:uuid;index;not null" json:"challenge_id"`
	SquadID     string         `gorm:"type:uuid;uniqueIndex:idx_submission_squad_user;not null" json:"squad_id"`
	UserID      string         `gorm:"type:uuid;uniqueIndex:idx_submission_squad_user;not null" json:"user_id"`
	Answers     datatypes.JSON `gorm:"type:jsonb;not null" json:"answers"`
	Score       int64          `json:"score"`
	TimeTaken   *int           `json:"time_taken,omitempty"`
	SubmittedAt time.Time      `gorm:"autoCreateTime" json:"submitted_at"`
}

func (s *ChallengeSubmission) BeforeCreate(tx *gorm.DB) error {
	ensureID(&s.ID)
	return nil
}
