package services

import (
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"squad-match-service/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, models.AutoMigrate(db))
	return db
}

func seedProfile(t *testing.T, db *gorm.DB, username string, level int) models.Profile {
	t.Helper()
	p := models.Profile{Username: username, CurrentLevel: level}
	require.NoError(t, db.Create(&p).Error)
	return p
}

func seedSkill(t *testing.T, db *gorm.DB, userID, skillAreaID string, level int) {
	t.Helper()
	require.NoError(t, db.Create(&models.SkillLevel{UserID: userID, SkillAreaID: skillAreaID, Level: level}).Error)
}

func seedChallenge(t *testing.T, db *gorm.DB, challengeType, skillAreaID string) models.Challenge {
	t.Helper()
	c := models.Challenge{
		Title:         fmt.Sprintf("%s challenge", challengeType),
		ChallengeType: challengeType,
		SkillAreaID:   skillAreaID,
		Content:       []byte(`{"questions":[]}`),
	}
	require.NoError(t, db.Create(&c).Error)
	return c
}

func loadSquad(t *testing.T, db *gorm.DB, id string) models.Squad {
	t.Helper()
	var s models.Squad
	require.NoError(t, db.Preload("Members").First(&s, "id = ?", id).Error)
	return s
}

func countRows(t *testing.T, db *gorm.DB, model interface{}) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(model).Count(&n).Error)
	return n
}
