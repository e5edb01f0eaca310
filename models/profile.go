package models

import (
	"time"

	"gorm.io/gorm"
)

// Profile is the platform's user profile. Bots are ordinary profiles too;
// the service only tells them apart by exclusion or username prefix.
type Profile struct {
	ID           string    `gorm:"primaryKey;type:uuid" json:"id"`
	Username     string    `gorm:"uniqueIndex;not null" json:"username"`
	DisplayName  *string   `json:"display_name,omitempty"`
	AvatarURL    *string   `json:"avatar_url,omitempty"`
	CurrentLevel int       `gorm:"default:1" json:"current_level"`
	TotalXP      int64     `gorm:"default:0" json:"total_xp"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (p *Profile) BeforeCreate(tx *gorm.DB) error {
	ensureID(&p.ID)
	return nil
}

// Level returns the aggregate level, treating unset values as level 1.
func (p *Profile) Level() int {
	if p.CurrentLevel < 1 {
		return 1
	}
	return p.CurrentLevel
}

// Name is what squads display for this profile.
func (p *Profile) Name() string {
	if p.DisplayName != nil && *p.DisplayName != "" {
		return *p.DisplayName
	}
	return p.Username
}

// SkillLevel is a user's level in one skill area, set during onboarding.
type SkillLevel struct {
	ID                  string    `gorm:"primaryKey;type:uuid" json:"id"`
	UserID              string    `gorm:"type:uuid;uniqueIndex:idx_skill_user_area;not null" json:"user_id"`
	SkillAreaID         string    `gorm:"type:uuid;uniqueIndex:idx_skill_user_area;not null" json:"skill_area_id"`
	Level               int       `gorm:"default:1" json:"level"`
	XP                  int64     `gorm:"default:0" json:"xp"`
	AssessmentCompleted bool      `gorm:"default:false" json:"assessment_completed"`
	CreatedAt           time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (SkillLevel) TableName() string {
	return "user_skill_levels"
}

func (s *SkillLevel) BeforeCreate(tx *gorm.DB) error {
	ensureID(&s.ID)
	return nil
}
