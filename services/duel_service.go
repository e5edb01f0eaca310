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
	DuelStatusMatched = "matched"
	DuelStatusWaiting = "waiting"

	searchingMessage = "Searching for opponent..."

	// maxClaimAttempts bounds how often a lost claim on a peer entry is retried.
	maxClaimAttempts = 3
)

// DuelService pairs queued users into 1v1 matches.
type DuelService struct {
	DB       *gorm.DB
	Metrics  *monitor.Metrics
	Notifier Notifier

	now func() time.Time
}

func NewDuelService(db *gorm.DB, metrics *monitor.Metrics, notifier Notifier) *DuelService {
	if notifier == nil {
		notifier = NoopNotifier{}
	}
	return &DuelService{
		DB:       db,
		Metrics:  metrics,
		Notifier: notifier,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

type FindOpponentRequest struct {
	UserID      string `json:"userId" validate:"required"`
	ChallengeID string `json:"challengeId" validate:"required"`
}

func (r *FindOpponentRequest) setCaller(id string) { fillCaller(&r.UserID, id) }

// DuelResult is either a match (both squad ids set) or a waiting notice.
type DuelResult struct {
	Status          string `json:"status"`
	SquadID         string `json:"squadId,omitempty"`
	OpponentSquadID string `json:"opponentSquadId,omitempty"`
	Message         string `json:"message,omitempty"`
}

func waitingResult() *DuelResult {
	return &DuelResult{Status: DuelStatusWaiting, Message: searchingMessage}
}

type CreateDuelMatchRequest struct {
	ChallengeID string `json:"challengeId" validate:"required"`
	User1ID     string `json:"user1Id" validate:"required"`
	User2ID     string `json:"user2Id" validate:"required,nefield=User1ID"`
}

// Both users are named explicitly; the gateway identity is not applied.
func (r *CreateDuelMatchRequest) setCaller(string) {}

type DuelMatch struct {
	SquadID         string `json:"squadId"`
	OpponentSquadID string `json:"opponentSquadId"`
}

// FindOpponent queues the caller for the challenge and pairs them with the
// oldest other waiting user, if there is one.
func (s *DuelService) FindOpponent(ctx context.Context, userID, challengeID string) (*DuelResult, error) {
	if userID == "" || challengeID == "" {
		return nil, eris.Wrap(ErrInvalidParams, "missing required parameters: userId, challengeId")
	}

	if res, err := s.enqueue(ctx, userID, challengeID); err != nil || res != nil {
		return res, err
	}

	res, opponent, err := s.pair(ctx, userID, challengeID)
	if err != nil {
		return nil, err
	}
	if opponent != nil {
		s.Metrics.IncSquadsCreated(models.MatchTypeDuel, 2)
		notify(ctx, s.Notifier, QueueChannel(challengeID, opponent.UserID), DuelResult{
			Status:          DuelStatusMatched,
			SquadID:         res.OpponentSquadID,
			OpponentSquadID: res.SquadID,
		})
		logger.Log.Infow("[DUEL] matched", "challenge_id", challengeID, "user_id", userID,
			"opponent_id", opponent.UserID, "squad_id", res.SquadID)
	}
	return res, nil
}

// enqueue upserts the caller's waiting entry. It returns a result instead
// when a peer already paired the caller and the match was never collected.
func (s *DuelService) enqueue(ctx context.Context, userID, challengeID string) (*DuelResult, error) {
	var delivered *DuelResult
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var entry models.MatchQueueEntry
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ? AND challenge_id = ?", userID, challengeID).
			Take(&entry).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err == nil && entry.HasUndeliveredMatch() {
			delivered, err = collectMatch(tx, &entry)
			return err
		}

		now := s.now()
		row := models.MatchQueueEntry{
			UserID:      userID,
			ChallengeID: challengeID,
			Status:      models.QueueStatusWaiting,
			CreatedAt:   now,
		}
		return tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}, {Name: "challenge_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"status":            models.QueueStatusWaiting,
				"created_at":        now,
				"matched_at":        nil,
				"squad_id":          nil,
				"opponent_squad_id": nil,
				"updated_at":        now,
			}),
		}).Create(&row).Error
	})
	if err != nil {
		logger.Log.Errorw("[DUEL] failed to join queue", "user_id", userID, "challenge_id", challengeID, "error", err)
		return nil, eris.Wrap(ErrQueueUnavailable, "failed to join queue")
	}
	return delivered, nil
}

// pair claims the oldest other waiting entry and builds the duel. A nil
// opponent means the caller keeps waiting.
func (s *DuelService) pair(ctx context.Context, userID, challengeID string) (*DuelResult, *models.MatchQueueEntry, error) {
	var (
		result   = waitingResult()
		opponent *models.MatchQueueEntry
	)

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Own row first; peers are only taken with SKIP LOCKED below.
		var self models.MatchQueueEntry
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ? AND challenge_id = ?", userID, challengeID).
			Take(&self).Error; err != nil {
			return eris.Wrap(err, "failed to lock own queue entry")
		}
		if self.Status != models.QueueStatusWaiting {
			if self.HasUndeliveredMatch() {
				delivered, err := collectMatch(tx, &self)
				if err != nil {
					return err
				}
				result = delivered
			}
			return nil
		}

		now := s.now()
		peer, err := claimOldestPeer(tx, self, now)
		if err != nil || peer == nil {
			return err
		}

		claimed, err := claimEntry(tx, self.ID, now)
		if err != nil {
			return eris.Wrap(err, "failed to claim own queue entry")
		}
		if !claimed {
			return eris.Wrapf(ErrConflict, "queue entry for user %s is no longer waiting", userID)
		}

		mine, theirs, err := s.createDuelSquads(tx, challengeID, userID, peer.UserID)
		if err != nil {
			return err
		}

		// The peer collects this on its next call or through its stream.
		if err := tx.Model(&models.MatchQueueEntry{}).
			Where("id = ?", peer.ID).
			Updates(map[string]interface{}{
				"squad_id":          theirs.ID,
				"opponent_squad_id": mine.ID,
			}).Error; err != nil {
			return eris.Wrap(err, "failed to record match for opponent")
		}

		opponent = peer
		result = &DuelResult{Status: DuelStatusMatched, SquadID: mine.ID, OpponentSquadID: theirs.ID}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return result, opponent, nil
}

// claimOldestPeer takes the FIFO head of the challenge's waiting entries,
// skipping rows other pairers hold. A lost claim rescans.
func claimOldestPeer(tx *gorm.DB, self models.MatchQueueEntry, now time.Time) (*models.MatchQueueEntry, error) {
	for attempt := 0; attempt < maxClaimAttempts; attempt++ {
		var peer models.MatchQueueEntry
		err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("challenge_id = ? AND status = ? AND user_id <> ?",
				self.ChallengeID, models.QueueStatusWaiting, self.UserID).
			Order("created_at ASC").
			Take(&peer).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, eris.Wrap(err, "failed to search for opponents")
		}

		claimed, err := claimEntry(tx, peer.ID, now)
		if err != nil {
			return nil, eris.Wrap(err, "failed to claim opponent entry")
		}
		if claimed {
			return &peer, nil
		}
	}
	return nil, nil
}

// claimEntry flips a waiting entry to matched; false means someone else
// got there first.
func claimEntry(tx *gorm.DB, id string, at time.Time) (bool, error) {
	res := tx.Model(&models.MatchQueueEntry{}).
		Where("id = ? AND status = ?", id, models.QueueStatusWaiting).
		Updates(map[string]interface{}{
			"status":     models.QueueStatusMatched,
			"matched_at": at,
		})
	return res.RowsAffected == 1, res.Error
}

// collectMatch hands out a result a peer stored on entry and clears it.
func collectMatch(tx *gorm.DB, entry *models.MatchQueueEntry) (*DuelResult, error) {
	res := &DuelResult{
		Status:          DuelStatusMatched,
		SquadID:         *entry.SquadID,
		OpponentSquadID: *entry.OpponentSquadID,
	}
	if err := tx.Model(entry).Updates(map[string]interface{}{
		"squad_id":          nil,
		"opponent_squad_id": nil,
	}).Error; err != nil {
		return nil, eris.Wrap(err, "failed to collect match")
	}
	return res, nil
}

// CreateDuelMatch builds a linked pair of one-member squads for two users.
func (s *DuelService) CreateDuelMatch(ctx context.Context, challengeID, user1ID, user2ID string) (*DuelMatch, error) {
	var match DuelMatch
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		a, b, err := s.createDuelSquads(tx, challengeID, user1ID, user2ID)
		if err != nil {
			return err
		}
		match = DuelMatch{SquadID: a.ID, OpponentSquadID: b.ID}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.Metrics.IncSquadsCreated(models.MatchTypeDuel, 2)
	notify(ctx, s.Notifier, SquadChannel(match.SquadID), fiber.Map{"event": "matched"})
	notify(ctx, s.Notifier, SquadChannel(match.OpponentSquadID), fiber.Map{"event": "matched"})
	return &match, nil
}

func (s *DuelService) createDuelSquads(tx *gorm.DB, challengeID, user1ID, user2ID string) (*models.Squad, *models.Squad, error) {
	if user1ID == user2ID {
		return nil, nil, eris.Wrap(ErrInvalidParams, "a duel needs two different users")
	}

	var challenge models.Challenge
	if err := tx.First(&challenge, "id = ?", challengeID).Error; err != nil {
		return nil, nil, notFound(err, "challenge")
	}

	squads := make([]*models.Squad, 0, 2)
	for _, uid := range []string{user1ID, user2ID} {
		var profile models.Profile
		if err := tx.First(&profile, "id = ?", uid).Error; err != nil {
			return nil, nil, notFound(err, "profile "+uid)
		}

		name := duelSquadName(profile.Name())
		squad := &models.Squad{
			ChallengeID:  challenge.ID,
			Name:         name,
			Slug:         squadSlug(name),
			Status:       models.SquadStatusForming,
			AverageLevel: float64(profile.Level()),
			MatchType:    models.MatchTypeDuel,
		}
		if err := tx.Create(squad).Error; err != nil {
			return nil, nil, eris.Wrap(err, "failed to create duel squad")
		}
		if err := tx.Create(&models.SquadMember{
			SquadID: squad.ID,
			UserID:  uid,
			Role:    models.RoleLeader,
		}).Error; err != nil {
			return nil, nil, eris.Wrap(err, "failed to add duel squad member")
		}
		squads = append(squads, squad)
	}

	if err := linkOpponents(tx, squads[0], squads[1], models.SquadStatusActive); err != nil {
		return nil, nil, err
	}
	return squads[0], squads[1], nil
}

// ExpireStaleEntries marks waiting entries older than maxAge as expired.
func (s *DuelService) ExpireStaleEntries(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := s.now().Add(-maxAge)
	res := s.DB.WithContext(ctx).Model(&models.MatchQueueEntry{}).
		Where("status = ? AND created_at < ?", models.QueueStatusWaiting, cutoff).
		Update("status", models.QueueStatusExpired)
	if res.Error != nil {
		return 0, eris.Wrap(res.Error, "failed to expire stale queue entries")
	}
	s.Metrics.AddQueueExpired(res.RowsAffected)
	return res.RowsAffected, nil
}

// HandleFindOpponent serves POST /find-1v1-opponent.
func (s *DuelService) HandleFindOpponent(c *fiber.Ctx) error {
	started := time.Now()
	var req FindOpponentRequest
	if err := parseBody(c, &req); err != nil {
		s.Metrics.ObserveRequest("find_1v1_opponent", "error", started)
		return respondError(c, "[DUEL]", err, "Failed to find opponent")
	}

	res, err := s.FindOpponent(c.UserContext(), req.UserID, req.ChallengeID)
	if err != nil {
		s.Metrics.ObserveRequest("find_1v1_opponent", "error", started)
		return respondError(c, "[DUEL]", err, "Failed to find opponent")
	}
	s.Metrics.ObserveRequest("find_1v1_opponent", res.Status, started)
	return c.JSON(res)
}

// HandleCreateDuelMatch serves POST /create-1v1-match.
func (s *DuelService) HandleCreateDuelMatch(c *fiber.Ctx) error {
	started := time.Now()
	var req CreateDuelMatchRequest
	if err := parseBody(c, &req); err != nil {
		s.Metrics.ObserveRequest("create_1v1_match", "error", started)
		return respondError(c, "[DUEL]", err, "Failed to create match")
	}

	match, err := s.CreateDuelMatch(c.UserContext(), req.ChallengeID, req.User1ID, req.User2ID)
	if err != nil {
		s.Metrics.ObserveRequest("create_1v1_match", "error", started)
		return respondError(c, "[DUEL]", err, "Failed to create match")
	}
	s.Metrics.ObserveRequest("create_1v1_match", "ok", started)
	return c.JSON(match)
}
