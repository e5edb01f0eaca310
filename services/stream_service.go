package services

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"squad-match-service/logger"
	"squad-match-service/models"
	"squad-match-service/monitor"
)

const defaultPollInterval = 2 * time.Second

// StreamService pushes queue and squad state to clients over SSE. State is
// re-read from the database on every tick or notification and only sent
// when it changed.
type StreamService struct {
	DB       *gorm.DB
	Metrics  *monitor.Metrics
	Notifier Notifier

	PollInterval time.Duration
}

func NewStreamService(db *gorm.DB, metrics *monitor.Metrics, notifier Notifier) *StreamService {
	if notifier == nil {
		notifier = NoopNotifier{}
	}
	return &StreamService{DB: db, Metrics: metrics, Notifier: notifier, PollInterval: defaultPollInterval}
}

// snapshotFunc returns the event name and payload describing current state.
type snapshotFunc func(ctx context.Context) (string, interface{}, error)

type QueueSnapshot struct {
	ChallengeID     string     `json:"challengeId"`
	Status          string     `json:"status"`
	SquadID         string     `json:"squadId,omitempty"`
	OpponentSquadID string     `json:"opponentSquadId,omitempty"`
	MatchedAt       *time.Time `json:"matchedAt,omitempty"`
}

type SquadSnapshot struct {
	SquadID         string   `json:"squadId"`
	Status          string   `json:"status"`
	OpponentSquadID string   `json:"opponentSquadId,omitempty"`
	AverageLevel    float64  `json:"averageLevel"`
	TotalScore      int64    `json:"totalScore"`
	MemberIDs       []string `json:"memberIds"`
	Submissions     int64    `json:"submissions"`
}

func (s *StreamService) queueSnapshot(userID, challengeID string) snapshotFunc {
	return func(ctx context.Context) (string, interface{}, error) {
		var entry models.MatchQueueEntry
		err := s.DB.WithContext(ctx).
			Where("user_id = ? AND challenge_id = ?", userID, challengeID).
			Take(&entry).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "queue", QueueSnapshot{ChallengeID: challengeID, Status: "none"}, nil
		}
		if err != nil {
			return "", nil, err
		}

		snap := QueueSnapshot{ChallengeID: challengeID, Status: entry.Status, MatchedAt: entry.MatchedAt}
		if entry.HasUndeliveredMatch() {
			snap.SquadID, snap.OpponentSquadID = *entry.SquadID, *entry.OpponentSquadID
		}
		return "queue", snap, nil
	}
}

func (s *StreamService) squadSnapshot(squadID string) snapshotFunc {
	return func(ctx context.Context) (string, interface{}, error) {
		db := s.DB.WithContext(ctx)

		var squad models.Squad
		if err := db.First(&squad, "id = ?", squadID).Error; err != nil {
			return "", nil, err
		}

		snap := SquadSnapshot{
			SquadID:      squad.ID,
			Status:       squad.Status,
			AverageLevel: squad.AverageLevel,
			TotalScore:   squad.TotalScore,
			MemberIDs:    []string{},
		}
		if squad.OpponentSquadID != nil {
			snap.OpponentSquadID = *squad.OpponentSquadID
		}
		if err := db.Model(&models.SquadMember{}).Where("squad_id = ?", squad.ID).
			Order("joined_at ASC").Pluck("user_id", &snap.MemberIDs).Error; err != nil {
			return "", nil, err
		}
		if err := db.Model(&models.ChallengeSubmission{}).Where("squad_id = ?", squad.ID).
			Count(&snap.Submissions).Error; err != nil {
			return "", nil, err
		}
		return "squad", snap, nil
	}
}

// StreamQueue serves GET /match-queue/:challenge_id/stream for the caller.
func (s *StreamService) StreamQueue(c *fiber.Ctx) error {
	userID := localUserID(c)
	if userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "missing user identity"})
	}
	challengeID := c.Params("challenge_id")
	return s.serve(c, QueueChannel(challengeID, userID), s.queueSnapshot(userID, challengeID))
}

// StreamSquad serves GET /squads/:id/stream.
func (s *StreamService) StreamSquad(c *fiber.Ctx) error {
	if localUserID(c) == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "missing user identity"})
	}
	squadID := c.Params("id")
	if _, _, err := s.squadSnapshot(squadID)(c.UserContext()); err != nil {
		return respondError(c, "[STREAM]", notFound(err, "squad"), "Failed to open stream")
	}
	return s.serve(c, SquadChannel(squadID), s.squadSnapshot(squadID))
}

func (s *StreamService) serve(c *fiber.Ctx, channel string, snap snapshotFunc) error {
	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	// The fiber ctx is recycled once the handler returns; the stream writer
	// only keeps the underlying request ctx.
	rc := c.Context()
	rc.SetBodyStreamWriter(func(w *bufio.Writer) {
		s.Metrics.StreamOpened()
		defer s.Metrics.StreamClosed()

		subCtx, cancel := context.WithCancel(context.Background())
		defer cancel()

		wake, release, err := s.Notifier.Subscribe(subCtx, channel)
		if err != nil {
			logger.Log.Warnw("[STREAM] subscribe failed, polling only", "channel", channel, "error", err)
			wake, release = nil, func() {}
		}
		defer release()

		s.pump(rc, w, wake, snap)
	})
	return nil
}

// pump writes an event whenever the snapshot changes, and a comment line
// otherwise so dead clients surface as flush errors.
func (s *StreamService) pump(ctx context.Context, w *bufio.Writer, wake <-chan struct{}, snap snapshotFunc) {
	interval := s.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last []byte
	emit := func() bool {
		event, payload, err := snap(ctx)
		if err != nil {
			logger.Log.Warnw("[STREAM] snapshot failed", "error", err)
			_, _ = w.WriteString(":\n\n")
			return w.Flush() == nil
		}
		body, err := json.Marshal(payload)
		if err != nil {
			logger.Log.Errorw("[STREAM] encode failed", "error", err)
			return false
		}
		if bytes.Equal(body, last) {
			_, _ = w.WriteString(":\n\n")
		} else {
			last = body
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, body)
		}
		return w.Flush() == nil
	}

	if !emit() {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-wake:
		}
		if !emit() {
			return
		}
	}
}
