package services

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rotisserie/eris"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"squad-match-service/logger"
	"squad-match-service/models"
	"squad-match-service/monitor"
)

const (
	squadMatchedMessage = "Successfully matched to squad"
	squadExistsMessage  = "Already a member of a squad for this challenge"
)

// SquadService places users into level-balanced squads and pairs ready
// squads against each other.
type SquadService struct {
	DB       *gorm.DB
	Metrics  *monitor.Metrics
	Notifier Notifier

	LevelRange     int
	DefaultMaxSize int
}

func NewSquadService(db *gorm.DB, metrics *monitor.Metrics, notifier Notifier, levelRange, defaultMaxSize int) *SquadService {
	if notifier == nil {
		notifier = NoopNotifier{}
	}
	return &SquadService{
		DB:             db,
		Metrics:        metrics,
		Notifier:       notifier,
		LevelRange:     levelRange,
		DefaultMaxSize: defaultMaxSize,
	}
}

type MatchSquadRequest struct {
	UserID      string `json:"userId" validate:"required"`
	ChallengeID string `json:"challengeId" validate:"required"`
	SkillAreaID string `json:"skillAreaId,omitempty"`
}

func (r *MatchSquadRequest) setCaller(id string) { fillCaller(&r.UserID, id) }

type SquadMatch struct {
	SquadID string `json:"squadId"`
	Message string `json:"message"`
}

// activeSquadStatuses are the states in which a membership still counts.
var activeSquadStatuses = []string{
	models.SquadStatusForming,
	models.SquadStatusReady,
	models.SquadStatusActive,
}

// MatchSquad joins the caller to the oldest forming squad near their skill
// level, or opens a new one. Levels are the caller's level in the
// challenge's skill area. The caller needs both a profile and a skill row.
func (s *SquadService) MatchSquad(ctx context.Context, req MatchSquadRequest) (*SquadMatch, error) {
	if req.UserID == "" || req.ChallengeID == "" {
		return nil, eris.Wrap(ErrInvalidParams, "missing required parameters: userId, challengeId")
	}

	var (
		match   *SquadMatch
		touched []string
		created bool
	)
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var challenge models.Challenge
		if err := tx.First(&challenge, "id = ?", req.ChallengeID).Error; err != nil {
			return notFound(err, "challenge")
		}
		if req.SkillAreaID != "" && req.SkillAreaID != challenge.SkillAreaID {
			return eris.Wrapf(ErrInvalidParams, "skillAreaId %s does not match the challenge", req.SkillAreaID)
		}

		if err := tx.First(&models.Profile{}, "id = ?", req.UserID).Error; err != nil {
			return notFound(err, "user profile")
		}

		var skill models.SkillLevel
		if err := tx.Where("user_id = ? AND skill_area_id = ?", req.UserID, challenge.SkillAreaID).
			Take(&skill).Error; err != nil {
			return notFound(err, "user skill level")
		}
		level := skill.Level
		if level < 1 {
			level = 1
		}

		existing, err := currentSquad(tx, req.UserID, challenge.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			match = &SquadMatch{SquadID: existing.ID, Message: squadExistsMessage}
			return nil
		}

		squad, err := s.joinFormingSquad(tx, &challenge, req.UserID, level)
		if err != nil {
			return err
		}
		if squad == nil {
			if squad, err = createFormingSquad(tx, &challenge, req.UserID, level, challenge.SquadCap(s.DefaultMaxSize)); err != nil {
				return err
			}
			created = true
		}
		touched = append(touched, squad.ID)

		linked, err := linkReadySquads(tx, challenge.ID)
		if err != nil {
			return err
		}
		touched = append(touched, linked...)

		match = &SquadMatch{SquadID: squad.ID, Message: squadMatchedMessage}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if created {
		s.Metrics.IncSquadsCreated(models.MatchTypeSquad, 1)
	}
	for _, id := range touched {
		notify(ctx, s.Notifier, SquadChannel(id), fiber.Map{"event": "squad_updated"})
	}
	logger.Log.Infow("[SQUAD] matched", "user_id", req.UserID, "challenge_id", req.ChallengeID, "squad_id", match.SquadID)
	return match, nil
}

// currentSquad finds a live human squad on the challenge the user already
// belongs to.
func currentSquad(tx *gorm.DB, userID, challengeID string) (*models.Squad, error) {
	var squad models.Squad
	err := tx.Joins("JOIN squad_members ON squad_members.squad_id = squads.id").
		Where("squad_members.user_id = ? AND squads.challenge_id = ?", userID, challengeID).
		Where("squads.bot_mode = ? AND squads.match_type = ? AND squads.status IN ?",
			false, models.MatchTypeSquad, activeSquadStatuses).
		Order("squads.created_at ASC").
		Take(&squad).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "failed to check existing squads")
	}
	return &squad, nil
}

// joinFormingSquad adds the user to the first forming squad in level range
// that still has room. It returns nil when none qualifies.
func (s *SquadService) joinFormingSquad(tx *gorm.DB, challenge *models.Challenge, userID string, level int) (*models.Squad, error) {
	capacity := challenge.SquadCap(s.DefaultMaxSize)

	var candidates []models.Squad
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("challenge_id = ? AND status = ? AND bot_mode = ? AND match_type = ?",
			challenge.ID, models.SquadStatusForming, false, models.MatchTypeSquad).
		Where("average_level BETWEEN ? AND ?", level-s.LevelRange, level+s.LevelRange).
		Order("created_at ASC").
		Find(&candidates).Error; err != nil {
		return nil, eris.Wrap(err, "failed to search forming squads")
	}

	for i := range candidates {
		squad := &candidates[i]
		var members int64
		if err := tx.Model(&models.SquadMember{}).Where("squad_id = ?", squad.ID).Count(&members).Error; err != nil {
			return nil, eris.Wrap(err, "failed to count squad members")
		}
		if int(members) >= capacity {
			continue
		}

		if err := tx.Create(&models.SquadMember{
			SquadID: squad.ID,
			UserID:  userID,
			Role:    models.RoleMember,
		}).Error; err != nil {
			return nil, eris.Wrap(err, "failed to add squad member")
		}
		if err := refreshSquadLevel(tx, squad, challenge.SkillAreaID, capacity); err != nil {
			return nil, err
		}
		return squad, nil
	}
	return nil, nil
}

// refreshSquadLevel recomputes the squad's mean member level and moves it
// to ready once it is full. Members without a skill row count as level 1.
func refreshSquadLevel(tx *gorm.DB, squad *models.Squad, skillAreaID string, capacity int) error {
	var levels []int
	if err := tx.Table("squad_members").
		Joins("LEFT JOIN user_skill_levels ON user_skill_levels.user_id = squad_members.user_id AND user_skill_levels.skill_area_id = ?", skillAreaID).
		Where("squad_members.squad_id = ?", squad.ID).
		Pluck("COALESCE(user_skill_levels.level, 1)", &levels).Error; err != nil {
		return eris.Wrap(err, "failed to load member levels")
	}

	avg := meanLevel(levels)
	status := models.SquadStatusForming
	if len(levels) >= capacity {
		status = models.SquadStatusReady
	}
	if err := tx.Model(&models.Squad{}).Where("id = ?", squad.ID).
		Updates(map[string]interface{}{"average_level": avg, "status": status}).Error; err != nil {
		return eris.Wrap(err, "failed to update squad level")
	}
	squad.AverageLevel, squad.Status = avg, status
	return nil
}

func meanLevel(levels []int) float64 {
	if len(levels) == 0 {
		return 0
	}
	sum := 0
	for _, l := range levels {
		if l < 1 {
			l = 1
		}
		sum += l
	}
	return float64(sum) / float64(len(levels))
}

// createFormingSquad opens a squad led by the user. A one-seat squad is
// full from the start.
func createFormingSquad(tx *gorm.DB, challenge *models.Challenge, userID string, level, capacity int) (*models.Squad, error) {
	status := models.SquadStatusForming
	if capacity <= 1 {
		status = models.SquadStatusReady
	}
	name := formingSquadName()
	squad := &models.Squad{
		ChallengeID:  challenge.ID,
		Name:         name,
		Slug:         squadSlug(name),
		Status:       status,
		AverageLevel: float64(level),
		MatchType:    models.MatchTypeSquad,
	}
	if err := tx.Create(squad).Error; err != nil {
		return nil, eris.Wrap(err, "failed to create squad")
	}
	if err := tx.Create(&models.SquadMember{
		SquadID: squad.ID,
		UserID:  userID,
		Role:    models.RoleLeader,
	}).Error; err != nil {
		return nil, eris.Wrap(err, "failed to add squad leader")
	}
	return squad, nil
}

// linkReadySquads pairs the two oldest unlinked ready squads, if present.
func linkReadySquads(tx *gorm.DB, challengeID string) ([]string, error) {
	var ready []models.Squad
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
		Where("challenge_id = ? AND status = ? AND bot_mode = ? AND match_type = ? AND opponent_squad_id IS NULL",
			challengeID, models.SquadStatusReady, false, models.MatchTypeSquad).
		Order("created_at ASC").
		Limit(2).
		Find(&ready).Error; err != nil {
		return nil, eris.Wrap(err, "failed to search ready squads")
	}
	if len(ready) < 2 {
		return nil, nil
	}
	if err := linkOpponents(tx, &ready[0], &ready[1], models.SquadStatusActive); err != nil {
		return nil, err
	}
	logger.Log.Infow("[SQUAD] linked opponents", "challenge_id", challengeID, "squad_id", ready[0].ID, "opponent_squad_id", ready[1].ID)
	return []string{ready[0].ID, ready[1].ID}, nil
}

// GetSquad loads a squad with its members and their profiles.
func (s *SquadService) GetSquad(ctx context.Context, id string) (*models.Squad, error) {
	var squad models.Squad
	if err := s.DB.WithContext(ctx).
		Preload("Members", func(db *gorm.DB) *gorm.DB { return db.Order("joined_at ASC") }).
		Preload("Members.Profile").
		First(&squad, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "squad")
	}
	return &squad, nil
}

// HandleMatchSquad serves POST /match-squad.
func (s *SquadService) HandleMatchSquad(c *fiber.Ctx) error {
	started := time.Now()
	var req MatchSquadRequest
	if err := parseBody(c, &req); err != nil {
		s.Metrics.ObserveRequest("match_squad", "error", started)
		return respondError(c, "[SQUAD]", err, "Failed to match squad")
	}

	match, err := s.MatchSquad(c.UserContext(), req)
	if err != nil {
		s.Metrics.ObserveRequest("match_squad", "error", started)
		return respondError(c, "[SQUAD]", err, "Failed to match squad")
	}
	s.Metrics.ObserveRequest("match_squad", "ok", started)
	return c.JSON(match)
}

// HandleGetSquad serves GET /squads/:id.
func (s *SquadService) HandleGetSquad(c *fiber.Ctx) error {
	squad, err := s.GetSquad(c.UserContext(), c.Params("id"))
	if err != nil {
		return respondError(c, "[SQUAD]", err, "Failed to load squad")
	}
	return c.JSON(squad)
}
