package workers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"squad-match-service/logger"
	"squad-match-service/models"
	"squad-match-service/monitor"
	"squad-match-service/utils"
)

// RemoteSkillLevel is one skill-area level as exported by the platform.
type RemoteSkillLevel struct {
	SkillAreaID         string `json:"skill_area_id"`
	Level               int    `json:"level"`
	XP                  int64  `json:"xp"`
	AssessmentCompleted bool   `json:"assessment_completed"`
}

// RemoteProfile matches the platform's profile export.
type RemoteProfile struct {
	ID           string             `json:"id"`
	Username     string             `json:"username"`
	DisplayName  *string            `json:"display_name,omitempty"`
	AvatarURL    *string            `json:"avatar_url,omitempty"`
	CurrentLevel int                `json:"current_level"`
	TotalXP      int64              `json:"total_xp"`
	SkillLevels  []RemoteSkillLevel `json:"skill_levels"`
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
}

type GetProfileChangesResponse struct {
	Profiles []RemoteProfile `json:"profiles"`
}

// ProfileSyncWorker mirrors platform profiles and skill levels into the
// local tables the matchmaker reads.
type ProfileSyncWorker struct {
	db           *gorm.DB
	metrics      *monitor.Metrics
	interval     time.Duration
	baseURL      string // e.g. "http://localhost:8500"
	endpointPath string // e.g. "/api/v1/public/profiles"
	serviceToken string
	httpClient   *http.Client
}

func NewProfileSyncWorker(db *gorm.DB, metrics *monitor.Metrics, baseURL, endpointPath, serviceToken string, interval time.Duration) *ProfileSyncWorker {
	if interval <= 0 {
		interval = time.Minute
	}
	return &ProfileSyncWorker{
		db:           db,
		metrics:      metrics,
		interval:     interval,
		baseURL:      baseURL,
		endpointPath: endpointPath,
		serviceToken: serviceToken,
		httpClient:   utils.HTTPClient,
	}
}

func (w *ProfileSyncWorker) Start(ctx context.Context) {
	logger.Log.Infow("[SYNC] starting profile sync worker", "base_url", w.baseURL, "interval", w.interval)
	go w.run(ctx)
}

func (w *ProfileSyncWorker) run(ctx context.Context) {
	if _, err := w.SyncOnce(ctx); err != nil {
		logger.Log.Warnw("[SYNC] initial sync failed", "error", err)
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := w.SyncOnce(ctx); err != nil {
				logger.Log.Errorw("[SYNC] sync batch failed", "error", err)
			}
		case <-ctx.Done():
			logger.Log.Info("[SYNC] profile sync worker stopped")
			return
		}
	}
}

// SyncOnce pulls changes since the newest local profile and upserts them.
// It returns how many profiles were stored.
func (w *ProfileSyncWorker) SyncOnce(ctx context.Context) (int, error) {
	since, err := w.lastSyncTime(ctx)
	if err != nil {
		return 0, err
	}
	profiles, err := w.fetchChanges(ctx, since)
	if err != nil {
		return 0, err
	}
	if len(profiles) == 0 {
		return 0, nil
	}

	n := UpsertProfiles(ctx, w.db, profiles)
	w.metrics.AddProfilesSynced(n)
	logger.Log.Infow("[SYNC] synced profiles", "received", len(profiles), "upserted", n, "since", since.Format(time.RFC3339))
	return n, nil
}

// lastSyncTime is the newest updated_at already mirrored, or the zero
// time for a full backfill.
func (w *ProfileSyncWorker) lastSyncTime(ctx context.Context) (time.Time, error) {
	var latest models.Profile
	err := w.db.WithContext(ctx).Select("updated_at").Order("updated_at DESC").Take(&latest).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read sync cursor: %w", err)
	}
	return latest.UpdatedAt, nil
}

func (w *ProfileSyncWorker) fetchChanges(ctx context.Context, since time.Time) ([]RemoteProfile, error) {
	base, err := url.Parse(w.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid profile sync URL %q: %w", w.baseURL, err)
	}
	endpoint := base.JoinPath(w.endpointPath)
	q := endpoint.Query()
	q.Set("since", since.UTC().Format(time.RFC3339Nano))
	endpoint.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request to %s: %w", endpoint, err)
	}
	req.Header.Set("X-Service-Token", w.serviceToken)

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("profile sync request failed: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("profile sync returned %d: %s", resp.StatusCode, string(body))
	}

	var out GetProfileChangesResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode profile sync response: %w", err)
	}
	return out.Profiles, nil
}

// UpsertProfiles stores profiles and their skill levels, one transaction
// per profile. Failures are logged and skipped.
func UpsertProfiles(ctx context.Context, db *gorm.DB, profiles []RemoteProfile) int {
	stored := 0
	for _, rp := range profiles {
		if rp.ID == "" || rp.Username == "" {
			logger.Log.Warnw("[SYNC] skipping profile without id or username", "id", rp.ID)
			continue
		}
		err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return upsertProfile(tx, rp)
		})
		if err != nil {
			logger.Log.Warnw("[SYNC] failed to upsert profile", "id", rp.ID, "username", rp.Username, "error", err)
			continue
		}
		stored++
	}
	return stored
}

func upsertProfile(tx *gorm.DB, rp RemoteProfile) error {
	level := rp.CurrentLevel
	if level < 1 {
		level = 1
	}
	profile := models.Profile{
		ID:           rp.ID,
		Username:     rp.Username,
		DisplayName:  rp.DisplayName,
		AvatarURL:    rp.AvatarURL,
		CurrentLevel: level,
		TotalXP:      rp.TotalXP,
		CreatedAt:    rp.CreatedAt,
		UpdatedAt:    rp.UpdatedAt,
	}
	if err := tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"username", "display_name", "avatar_url", "current_level", "total_xp", "updated_at",
		}),
	}).Create(&profile).Error; err != nil {
		return err
	}

	for _, sl := range rp.SkillLevels {
		if sl.SkillAreaID == "" {
			continue
		}
		lvl := sl.Level
		if lvl < 1 {
			lvl = 1
		}
		row := models.SkillLevel{
			UserID:              rp.ID,
			SkillAreaID:         sl.SkillAreaID,
			Level:               lvl,
			XP:                  sl.XP,
			AssessmentCompleted: sl.AssessmentCompleted,
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "skill_area_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"level", "xp", "assessment_completed", "updated_at"}),
		}).Create(&row).Error; err != nil {
			return err
		}
	}
	return nil
}
