package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"squad-match-service/logger"
	"squad-match-service/monitor"
)

// RosterSource fetches the roster object. *utils.R2Client satisfies it.
type RosterSource interface {
	FetchObject(ctx context.Context, key string) ([]byte, error)
}

type RosterBot struct {
	ID           string  `json:"id,omitempty"`
	Username     string  `json:"username"`
	DisplayName  *string `json:"display_name,omitempty"`
	AvatarURL    *string `json:"avatar_url,omitempty"`
	CurrentLevel int     `json:"current_level"`
}

type BotRoster struct {
	GeneratedAt time.Time   `json:"generated_at"`
	Bots        []RosterBot `json:"bots"`
}

// botNamespace seeds stable ids for roster entries that do not carry one.
var botNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("squad-match-service/bots"))

// BotRosterWorker imports bot profiles from a JSON object in R2 so bot
// fill has a pool to draw from.
type BotRosterWorker struct {
	db      *gorm.DB
	metrics *monitor.Metrics
	source  RosterSource
	key     string
	prefix  string
}

func NewBotRosterWorker(db *gorm.DB, metrics *monitor.Metrics, source RosterSource, key, usernamePrefix string) *BotRosterWorker {
	return &BotRosterWorker{db: db, metrics: metrics, source: source, key: key, prefix: usernamePrefix}
}

// Sync downloads the roster and upserts every bot.
func (w *BotRosterWorker) Sync(ctx context.Context) error {
	body, err := w.source.FetchObject(ctx, w.key)
	if err != nil {
		return err
	}

	var roster BotRoster
	if err := json.Unmarshal(body, &roster); err != nil {
		return fmt.Errorf("failed to decode bot roster %s: %w", w.key, err)
	}

	// Bots keep the roster's timestamp so they never move the profile
	// sync cursor past real platform changes.
	stamp := roster.GeneratedAt.UTC()
	if roster.GeneratedAt.IsZero() {
		stamp = time.Unix(0, 0).UTC()
	}

	profiles := make([]RemoteProfile, 0, len(roster.Bots))
	for _, b := range roster.Bots {
		name := strings.TrimSpace(b.Username)
		if name == "" {
			continue
		}
		if w.prefix != "" && !strings.HasPrefix(name, w.prefix) {
			name = w.prefix + name
		}
		id := b.ID
		if id == "" {
			id = uuid.NewSHA1(botNamespace, []byte(name)).String()
		}
		profiles = append(profiles, RemoteProfile{
			ID:           id,
			Username:     name,
			DisplayName:  b.DisplayName,
			AvatarURL:    b.AvatarURL,
			CurrentLevel: b.CurrentLevel,
			CreatedAt:    stamp,
			UpdatedAt:    stamp,
		})
	}

	n := UpsertProfiles(ctx, w.db, profiles)
	w.metrics.AddProfilesSynced(n)
	logger.Log.Infow("[ROSTER] imported bot roster", "key", w.key, "bots", len(roster.Bots), "upserted", n)
	return nil
}
