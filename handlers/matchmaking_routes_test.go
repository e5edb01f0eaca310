package handlers

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"squad-match-service/models"
	"squad-match-service/monitor"
	"squad-match-service/services"
)

const testServiceToken = "svc-token"

func newTestApp(t *testing.T) (*fiber.App, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger:  gormlogger.Default.LogMode(gormlogger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, models.AutoMigrate(db))

	metrics := monitor.NewMetrics("routes_test")
	app := NewApp("https://app.example")
	SetupMetricsRoute(app, metrics)
	SetupMatchmakingRoutes(app, Services{
		Duel:        services.NewDuelService(db, metrics, nil),
		Squad:       services.NewSquadService(db, metrics, nil, 1, 3),
		Bot:         services.NewBotService(db, metrics, nil, "", 50),
		Submission:  services.NewSubmissionService(db, metrics, nil),
		Stream:      services.NewStreamService(db, metrics, nil),
		JWTSecret:   "jwt-secret",
		GatewayAuth: testServiceToken,
	})
	return app, db
}

func decode(t *testing.T, body io.Reader) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(body).Decode(&out))
	return out
}

func TestHealthz(t *testing.T) {
	app, _ := newTestApp(t)

	resp, err := app.Test(httptest.NewRequest("GET", "/healthz", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", decode(t, resp.Body)["status"])
}

func TestPreflight(t *testing.T) {
	app, _ := newTestApp(t)

	req := httptest.NewRequest("OPTIONS", "/match-squad", nil)
	req.Header.Set("Origin", "https://app.example")
	req.Header.Set("Access-Control-Request-Method", "POST")
	resp, err := app.Test(req)
	require.NoError(t, err)

	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "https://app.example", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Headers"), "apikey")
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Credentials"))
}

func TestMatchmakingRoutes_RequireGatewayToken(t *testing.T) {
	app, _ := newTestApp(t)

	req := httptest.NewRequest("POST", "/find-1v1-opponent", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestMatchmakingRoutes_GatewayIdentity(t *testing.T) {
	app, db := newTestApp(t)

	alice := models.Profile{Username: "alice", CurrentLevel: 2}
	require.NoError(t, db.Create(&alice).Error)
	challenge := models.Challenge{Title: "duel", ChallengeType: models.ChallengeTypeDuel, SkillAreaID: "math", Content: []byte(`{}`)}
	require.NoError(t, db.Create(&challenge).Error)

	req := httptest.NewRequest("POST", "/find-1v1-opponent", strings.NewReader(`{"challengeId":"`+challenge.ID+`"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+testServiceToken)
	req.Header.Set("X-User-ID", alice.ID)
	resp, err := app.Test(req)
	require.NoError(t, err)

	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, services.DuelStatusWaiting, decode(t, resp.Body)["status"])
}

func TestGetSquad_NotFound(t *testing.T) {
	app, _ := newTestApp(t)

	req := httptest.NewRequest("GET", "/squads/missing", nil)
	req.Header.Set("Authorization", "Bearer "+testServiceToken)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	assert.NotEmpty(t, decode(t, resp.Body)["error"])
}

func TestStreams_RequireIdentity(t *testing.T) {
	app, _ := newTestApp(t)

	resp, err := app.Test(httptest.NewRequest("GET", "/squads/abc/stream", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest("GET", "/match-queue/abc/stream?token=garbage", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestUnknownRoute(t *testing.T) {
	app, _ := newTestApp(t)

	resp, err := app.Test(httptest.NewRequest("GET", "/nope", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	assert.NotEmpty(t, decode(t, resp.Body)["error"])
}

func TestMetricsRoute(t *testing.T) {
	app, _ := newTestApp(t)

	resp, err := app.Test(httptest.NewRequest("GET", "/metrics", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "go_goroutines")
}
