package services

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rotisserie/eris"
	"gorm.io/gorm"

	"squad-match-service/logger"
	"squad-match-service/models"
	"squad-match-service/monitor"
)

// pointsPerAnswer is what each answered question adds to the squad score.
const pointsPerAnswer = 10

// SubmissionService records squad members' answers and keeps the squad
// total in step.
type SubmissionService struct {
	DB       *gorm.DB
	Metrics  *monitor.Metrics
	Notifier Notifier
}

func NewSubmissionService(db *gorm.DB, metrics *monitor.Metrics, notifier Notifier) *SubmissionService {
	if notifier == nil {
		notifier = NoopNotifier{}
	}
	return &SubmissionService{DB: db, Metrics: metrics, Notifier: notifier}
}

type SubmitAnswersRequest struct {
	ChallengeID string          `json:"-"`
	UserID      string          `json:"userId" validate:"required"`
	SquadID     string          `json:"squadId" validate:"required"`
	Answers     json.RawMessage `json:"answers" validate:"required"`
	TimeTaken   *int            `json:"timeTaken,omitempty" validate:"omitempty,gte=0"`
}

func (r *SubmitAnswersRequest) setCaller(id string) { fillCaller(&r.UserID, id) }

type SubmissionResult struct {
	SubmissionID string `json:"submissionId"`
	Score        int64  `json:"score"`
	TotalScore   int64  `json:"totalScore"`
}

// Submit stores one member's answers for the squad's challenge.
func (s *SubmissionService) Submit(ctx context.Context, req SubmitAnswersRequest) (*SubmissionResult, error) {
	answered, err := countAnswers(req.Answers)
	if err != nil {
		return nil, err
	}

	var result SubmissionResult
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var squad models.Squad
		if err := tx.First(&squad, "id = ?", req.SquadID).Error; err != nil {
			return notFound(err, "squad")
		}
		if squad.ChallengeID != req.ChallengeID {
			return eris.Wrapf(ErrInvalidParams, "squad %s does not belong to challenge %s", squad.ID, req.ChallengeID)
		}

		var member models.SquadMember
		if err := tx.Where("squad_id = ? AND user_id = ?", squad.ID, req.UserID).Take(&member).Error; err != nil {
			return notFound(err, "squad membership")
		}

		var existing int64
		if err := tx.Model(&models.ChallengeSubmission{}).
			Where("squad_id = ? AND user_id = ?", squad.ID, req.UserID).
			Count(&existing).Error; err != nil {
			return eris.Wrap(err, "failed to check previous submissions")
		}
		if existing > 0 {
			return eris.Wrap(ErrConflict, "answers already submitted for this squad")
		}

		sub := models.ChallengeSubmission{
			ChallengeID: req.ChallengeID,
			SquadID:     squad.ID,
			UserID:      req.UserID,
			Answers:     []byte(req.Answers),
			Score:       int64(answered * pointsPerAnswer),
			TimeTaken:   req.TimeTaken,
		}
		if err := tx.Create(&sub).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return eris.Wrap(ErrConflict, "answers already submitted for this squad")
			}
			return eris.Wrap(err, "failed to save submission")
		}

		if err := tx.Model(&models.Squad{}).Where("id = ?", squad.ID).
			Update("total_score", gorm.Expr("total_score + ?", sub.Score)).Error; err != nil {
			return eris.Wrap(err, "failed to update squad score")
		}

		result = SubmissionResult{
			SubmissionID: sub.ID,
			Score:        sub.Score,
			TotalScore:   squad.TotalScore + sub.Score,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	notify(ctx, s.Notifier, SquadChannel(req.SquadID), fiber.Map{"event": "submission", "userId": req.UserID})
	logger.Log.Infow("[SUBMIT] answers recorded", "squad_id", req.SquadID, "user_id", req.UserID, "score", result.Score)
	return &result, nil
}

// countAnswers accepts either an array of answers or an object keyed by
// question id.
func countAnswers(raw json.RawMessage) (int, error) {
	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err == nil {
		return len(list), nil
	}
	var byQuestion map[string]json.RawMessage
	if err := json.Unmarshal(raw, &byQuestion); err == nil {
		return len(byQuestion), nil
	}
	return 0, eris.Wrap(ErrInvalidParams, "answers must be a JSON array or object")
}

// HandleSubmit serves POST /challenges/:challenge_id/submissions.
func (s *SubmissionService) HandleSubmit(c *fiber.Ctx) error {
	started := time.Now()
	var req SubmitAnswersRequest
	if err := parseBody(c, &req); err != nil {
		s.Metrics.ObserveRequest("submit_answers", "error", started)
		return respondError(c, "[SUBMIT]", err, "Failed to submit answers")
	}
	req.ChallengeID = c.Params("challenge_id")

	res, err := s.Submit(c.UserContext(), req)
	if err != nil {
		s.Metrics.ObserveRequest("submit_answers", "error", started)
		return respondError(c, "[SUBMIT]", err, "Failed to submit answers")
	}
	s.Metrics.ObserveRequest("submit_answers", "ok", started)
	return c.Status(fiber.StatusCreated).JSON(res)
}
