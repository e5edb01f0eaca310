package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	ChallengeTypeDuel  = "1v1"
	ChallengeTypeSquad = "squad"

	DefaultMaxSquadSize = 3
)

// Challenge is a timed activity definition. Read-only for matchmaking.
type Challenge struct {
	ID              string         `gorm:"primaryKey;type:uuid" json:"id"`
	Title           string         `gorm:"not null" json:"title"`
	Description     *string        `json:"description,omitempty"`
	ChallengeType   string         `gorm:"type:varchar(16);not null" json:"challenge_type"`
	SkillAreaID     string         `gorm:"type:uuid;index;not null" json:"skill_area_id"`
	DifficultyLevel *int           `json:"difficulty_level,omitempty"`
	TimeLimit       *int           `json:"time_limit,omitempty"` // seconds
	MaxSquadSize    *int           `json:"max_squad_size,omitempty"`
	StartsAt        *time.Time     `json:"starts_at,omitempty"`
	EndsAt          *time.Time     `json:"ends_at,omitempty"`
	Status          string         `gorm:"type:varchar(16);default:'pending'" json:"status"`
	Content         datatypes.JSON `gorm:"type:jsonb" json:"content"`
	CreatedAt       time.Time      `gorm:"autoCreateTime" json:"created_at"`
}

func (c *Challenge) BeforeCreate(tx *gorm.DB) error {
	ensureID(&c.ID)
	return nil
}

// SquadCap is the member cap for squads on this challenge, falling back to
// def (and then DefaultMaxSquadSize) when the challenge leaves it unset.
func (c *Challenge) SquadCap(def int) int {
	if c.MaxSquadSize != nil && *c.MaxSquadSize > 0 {
		return *c.MaxSquadSize
	}
	if def > 0 {
		return def
	}
	return DefaultMaxSquadSize
}
