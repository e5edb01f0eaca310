package models

import (
	"time"

	"gorm.io/gorm"
)

const (
	SquadStatusForming = "forming"
	SquadStatusReady   = "ready"
	SquadStatusActive  = "active"

	MatchTypeSquad = "squad"
	MatchTypeDuel  = "1v1"

	RoleLeader = "leader"
	RoleMember = "member"
)

// Squad is a team bound to one challenge. OpponentSquadID, when set, must
// point at a squad whose OpponentSquadID points back.
type Squad struct {
	ID              string  `gorm:"primaryKey;type:uuid" json:"id"`
	ChallengeID     string  `gorm:"type:uuid;index;not null" json:"challenge_id"`
	Name            string  `gorm:"not null" json:"name"`
	Slug            string  `gorm:"index" json:"slug"`
	Status          string  `gorm:"type:varchar(16);index;not null" json:"status"`
	AverageLevel    float64 `json:"average_level"`
	OpponentSquadID *string `gorm:"type:uuid;index" json:"opponent_squad_id"`
	BotMode         bool    `gorm:"default:false" json:"bot_mode"`
	MatchType       string  `gorm:"type:varchar(16);default:'squad'" json:"match_type"`
	TotalScore      int64   `gorm:"default:0" json:"total_score"`

	Members []SquadMember `gorm:"foreignKey:SquadID" json:"members,omitempty"`

	Timestamps
}

func (s *Squad) BeforeCreate(tx *gorm.DB) error {
	ensureID(&s.ID)
	return nil
}

// SquadMember is a membership record.
type SquadMember struct {
	ID       string    `gorm:"primaryKey;type:uuid" json:"id"`
	SquadID  string    `gorm:"type:uuid;uniqueIndex:idx_member_squad_user;not null" json:"squad_id"`
	UserID   string    `gorm:"type:uuid;uniqueIndex:idx_member_squad_user;index;not null" json:"user_id"`
	Role     string    `gorm:"type:varchar(16);not null" json:"role"`
	JoinedAt time.Time `gorm:"autoCreateTime" json:"joined_at"`

	Profile *Profile `gorm:"foreignKey:UserID;references:ID" json:"profile,omitempty"`
}

func (m *SquadMember) BeforeCreate(tx *gorm.DB) error {
	ensureID(&m.ID)
	return nil
}
