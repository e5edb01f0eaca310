package services

import (
	"context"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rotisserie/eris"
	"gorm.io/gorm"

	"squad-match-service/logger"
	"squad-match-service/models"
	"squad-match-service/monitor"
)

const (
	botsOnUserSquad     = 2
	botsOnOpponentSquad = 3
	botsNeeded          = botsOnUserSquad + botsOnOpponentSquad

	userBotSquadName     = "User Squad"
	opponentBotSquadName = "Opponent Squad"

	// randomPoolOrder samples the eligible pool before the limit applies.
	// RANDOM() is understood by both Postgres and SQLite.
	randomPoolOrder = "RANDOM()"
)

// BotService fills a match with bot profiles when no humans are around.
type BotService struct {
	DB       *gorm.DB
	Metrics  *monitor.Metrics
	Notifier Notifier

	UsernamePrefix string
	PoolLimit      int

	poolOrder string
	shuffle   func(n int, swap func(i, j int))
}

func NewBotService(db *gorm.DB, metrics *monitor.Metrics, notifier Notifier, usernamePrefix string, poolLimit int) *BotService {
	if notifier == nil {
		notifier = NoopNotifier{}
	}
	if poolLimit < botsNeeded {
		poolLimit = botsNeeded
	}
	return &BotService{
		DB:             db,
		Metrics:        metrics,
		Notifier:       notifier,
		UsernamePrefix: usernamePrefix,
		PoolLimit:      poolLimit,
		poolOrder:      randomPoolOrder,
		shuffle:        rand.Shuffle,
	}
}

type BotMatchRequest struct {
	UserID      string `json:"userId" validate:"required"`
	ChallengeID string `json:"challengeId" validate:"required"`
}

func (r *BotMatchRequest) setCaller(id string) { fillCaller(&r.UserID, id) }

type BotMatch struct {
	UserSquadID     string `json:"userSquadId"`
	OpponentSquadID string `json:"opponentSquadId"`
}

// CreateBotMatch puts the caller with two bots against three other bots.
func (s *BotService) CreateBotMatch(ctx context.Context, userID, challengeID string) (*BotMatch, error) {
	if userID == "" || challengeID == "" {
		return nil, eris.Wrap(ErrInvalidParams, "missing required parameters: userId, challengeId")
	}

	var match BotMatch
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var challenge models.Challenge
		if err := tx.First(&challenge, "id = ?", challengeID).Error; err != nil {
			return notFound(err, "challenge")
		}
		var caller models.Profile
		if err := tx.First(&caller, "id = ?", userID).Error; err != nil {
			return notFound(err, "user profile")
		}

		bots, err := s.pickBots(tx, userID)
		if err != nil {
			return err
		}

		userSquad, err := createBotSquad(tx, challenge.ID, userBotSquadName,
			append([]models.Profile{caller}, bots[:botsOnUserSquad]...))
		if err != nil {
			return err
		}
		opponentSquad, err := createBotSquad(tx, challenge.ID, opponentBotSquadName, bots[botsOnUserSquad:])
		if err != nil {
			return err
		}
		if err := linkOpponents(tx, userSquad, opponentSquad, models.SquadStatusActive); err != nil {
			return err
		}

		match = BotMatch{UserSquadID: userSquad.ID, OpponentSquadID: opponentSquad.ID}
		logger.Log.Infow("[BOTS] created bot match", "user_id", userID, "challenge_id", challengeID,
			"user_squad_id", userSquad.ID, "opponent_squad_id", opponentSquad.ID)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.Metrics.IncSquadsCreated("bot", 2)
	notify(ctx, s.Notifier, SquadChannel(match.UserSquadID), fiber.Map{"event": "matched"})
	return &match, nil
}

// pickBots draws botsNeeded distinct profiles other than the caller. The
// query samples up to PoolLimit rows at random from the whole eligible
// pool, which is then shuffled.
func (s *BotService) pickBots(tx *gorm.DB, userID string) ([]models.Profile, error) {
	q := tx.Where("id <> ?", userID)
	if s.UsernamePrefix != "" {
		q = q.Where(`username LIKE ? ESCAPE '\'`, likePrefix(s.UsernamePrefix))
	}

	var pool []models.Profile
	if err := q.Order(s.poolOrder).Limit(s.PoolLimit).Find(&pool).Error; err != nil {
		return nil, eris.Wrap(err, "failed to load bot profiles")
	}
	if len(pool) < botsNeeded {
		return nil, eris.Wrapf(ErrInsufficientBots, "found %d, need %d", len(pool), botsNeeded)
	}

	s.shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })
	return pool[:botsNeeded], nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func likePrefix(prefix string) string {
	return likeEscaper.Replace(prefix) + "%"
}

// createBotSquad creates a bot-mode squad; the first member leads.
func createBotSquad(tx *gorm.DB, challengeID, name string, members []models.Profile) (*models.Squad, error) {
	levels := make([]int, len(members))
	for i := range members {
		levels[i] = members[i].Level()
	}

	squad := &models.Squad{
		ChallengeID:  challengeID,
		Name:         name,
		Slug:         squadSlug(name),
		Status:       models.SquadStatusForming,
		AverageLevel: meanLevel(levels),
		BotMode:      true,
		MatchType:    models.MatchTypeSquad,
	}
	if err := tx.Create(squad).Error; err != nil {
		return nil, eris.Wrapf(err, "failed to create %s", name)
	}

	rows := make([]models.SquadMember, len(members))
	for i, p := range members {
		role := models.RoleMember
		if i == 0 {
			role = models.RoleLeader
		}
		rows[i] = models.SquadMember{SquadID: squad.ID, UserID: p.ID, Role: role}
	}
	if err := tx.Create(&rows).Error; err != nil {
		return nil, eris.Wrapf(err, "failed to add members to %s", name)
	}
	return squad, nil
}

// HandleCreateBotMatch serves POST /create-bot-squad-match.
func (s *BotService) HandleCreateBotMatch(c *fiber.Ctx) error {
	started := time.Now()
	var req BotMatchRequest
	if err := parseBody(c, &req); err != nil {
		s.Metrics.ObserveRequest("create_bot_squad_match", "error", started)
		return respondError(c, "[BOTS]", err, "Failed to create bot match")
	}

	match, err := s.CreateBotMatch(c.UserContext(), req.UserID, req.ChallengeID)
	if err != nil {
		s.Metrics.ObserveRequest("create_bot_squad_match", "error", started)
		return respondError(c, "[BOTS]", err, "Failed to create bot match")
	}
	s.Metrics.ObserveRequest("create_bot_squad_match", "ok", started)
	return c.JSON(match)
}
