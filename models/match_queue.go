package models

import (
	"time"

	"gorm.io/gorm"
)

const (
	QueueStatusWaiting = "waiting"
	QueueStatusMatched = "matched"
	QueueStatusExpired = "expired"
)

// MatchQueueEntry is one user's ticket to be paired for a duel on a
// challenge. SquadID/OpponentSquadID hold a match result that a peer
// produced and the owner has not collected yet.
type MatchQueueEntry struct {
	ID              string     `gorm:"primaryKey;type:uuid" json:"id"`
	UserID          string     `gorm:"type:uuid;uniqueIndex:idx_queue_user_challenge;not null" json:"user_id"`
	ChallengeID     string     `gorm:"type:uuid;uniqueIndex:idx_queue_user_challenge;index:idx_queue_scan,priority:1;not null" json:"challenge_id"`
	Status          string     `gorm:"type:varchar(16);index:idx_queue_scan,priority:2;not null" json:"status"`
	CreatedAt       time.Time  `gorm:"index:idx_queue_scan,priority:3" json:"created_at"`
	MatchedAt       *time.Time `json:"matched_at,omitempty"`
	SquadID         *string    `gorm:"type:uuid" json:"squad_id,omitempty"`
	OpponentSquadID *string    `gorm:"type:uuid" json:"opponent_squad_id,omitempty"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (MatchQueueEntry) TableName() string {
	return "match_queue"
}

func (e *MatchQueueEntry) BeforeCreate(tx *gorm.DB) error {
	ensureID(&e.ID)
	return nil
}

// HasUndeliveredMatch reports whether a peer paired this entry and the
// result is still waiting to be handed to its owner.
func (e *MatchQueueEntry) HasUndeliveredMatch() bool {
	return e.Status == QueueStatusMatched && e.SquadID != nil && e.OpponentSquadID != nil
}
