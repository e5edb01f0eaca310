package services

import (
	"context"
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"squad-match-service/models"
)

func newBotService(t *testing.T, bots int) (*BotService, models.Challenge, models.Profile) {
	t.Helper()
	db := newTestDB(t)
	c := seedChallenge(t, db, models.ChallengeTypeSquad, "logic")
	user := seedProfile(t, db, "human", 2)
	for i := 0; i < bots; i++ {
		seedProfile(t, db, fmt.Sprintf("bot_%02d", i), 1)
	}
	s := NewBotService(db, nil, nil, "bot_", 200)
	// Alphabetical pool reversed instead of random so picks are predictable.
	s.poolOrder = "username ASC"
	s.shuffle = func(n int, swap func(i, j int)) {
		for i := 0; i < n/2; i++ {
			swap(i, n-1-i)
		}
	}
	return s, c, user
}

func TestCreateBotMatch_SplitsTwoPlusOneAgainstThree(t *testing.T) {
	s, c, user := newBotService(t, 7)

	m, err := s.CreateBotMatch(context.Background(), user.ID, c.ID)
	require.NoError(t, err)

	mine := loadSquad(t, s.DB, m.UserSquadID)
	theirs := loadSquad(t, s.DB, m.OpponentSquadID)

	require.Len(t, mine.Members, 3)
	require.Len(t, theirs.Members, 3)
	assert.Equal(t, "User Squad", mine.Name)
	assert.Equal(t, "Opponent Squad", theirs.Name)

	seen := map[string]bool{}
	humans := 0
	for _, sq := range []models.Squad{mine, theirs} {
		assert.True(t, sq.BotMode)
		assert.Equal(t, models.SquadStatusActive, sq.Status)
		for _, mem := range sq.Members {
			assert.False(t, seen[mem.UserID], "member %s drawn twice", mem.UserID)
			seen[mem.UserID] = true
			if mem.UserID == user.ID {
				humans++
				assert.Equal(t, mine.ID, sq.ID)
				assert.Equal(t, models.RoleLeader, mem.Role)
			}
		}
	}
	assert.Equal(t, 1, humans)

	require.NotNil(t, mine.OpponentSquadID)
	require.NotNil(t, theirs.OpponentSquadID)
	assert.Equal(t, theirs.ID, *mine.OpponentSquadID)
	assert.Equal(t, mine.ID, *theirs.OpponentSquadID)
}

func TestCreateBotMatch_UsesShuffledPool(t *testing.T) {
	s, c, user := newBotService(t, 6)

	m, err := s.CreateBotMatch(context.Background(), user.ID, c.ID)
	require.NoError(t, err)

	// Reversed pool: bot_05 and bot_04 join the caller.
	var names []string
	require.NoError(t, s.DB.Table("squad_members").
		Joins("JOIN profiles ON profiles.id = squad_members.user_id").
		Where("squad_members.squad_id = ? AND squad_members.role = ?", m.UserSquadID, models.RoleMember).
		Order("profiles.username DESC").
		Pluck("profiles.username", &names).Error)
	assert.Equal(t, []string{"bot_05", "bot_04"}, names)
}

func TestPickBots_SamplesBeyondPoolLimit(t *testing.T) {
	s, _, user := newBotService(t, 8)
	s.PoolLimit = botsNeeded
	s.poolOrder = randomPoolOrder
	s.shuffle = rand.Shuffle

	picked := map[string]int{}
	for i := 0; i < 40; i++ {
		bots, err := s.pickBots(s.DB, user.ID)
		require.NoError(t, err)
		require.Len(t, bots, botsNeeded)
		for _, b := range bots {
			assert.NotEqual(t, user.ID, b.ID)
			picked[b.Username]++
		}
	}

	// Each bot misses a single draw with probability 3/8; missing all 40
	// is effectively impossible.
	for i := 0; i < 8; i++ {
		assert.Positive(t, picked[fmt.Sprintf("bot_%02d", i)], "bot_%02d never picked", i)
	}
}

func TestCreateBotMatch_InsufficientBotsCreatesNothing(t *testing.T) {
	s, c, user := newBotService(t, 4)

	_, err := s.CreateBotMatch(context.Background(), user.ID, c.ID)
	require.Error(t, err)
	assert.Equal(t, fiber.StatusServiceUnavailable, StatusFor(err))
	assert.EqualValues(t, 0, countRows(t, s.DB, &models.Squad{}))
	assert.EqualValues(t, 0, countRows(t, s.DB, &models.SquadMember{}))
}

func TestCreateBotMatch_PrefixFiltersPool(t *testing.T) {
	s, c, user := newBotService(t, 3)
	for i := 0; i < 4; i++ {
		seedProfile(t, s.DB, fmt.Sprintf("player_%d", i), 1)
	}

	_, err := s.CreateBotMatch(context.Background(), user.ID, c.ID)
	assert.Equal(t, fiber.StatusServiceUnavailable, StatusFor(err))

	s.UsernamePrefix = ""
	_, err = s.CreateBotMatch(context.Background(), user.ID, c.ID)
	assert.NoError(t, err)
}

func TestCreateBotMatch_NotFound(t *testing.T) {
	s, c, user := newBotService(t, 5)
	ctx := context.Background()

	_, err := s.CreateBotMatch(ctx, user.ID, "missing")
	assert.Equal(t, fiber.StatusNotFound, StatusFor(err))

	_, err = s.CreateBotMatch(ctx, "missing", c.ID)
	assert.Equal(t, fiber.StatusNotFound, StatusFor(err))

	_, err = s.CreateBotMatch(ctx, "", c.ID)
	assert.Equal(t, fiber.StatusBadRequest, StatusFor(err))
}

func TestLikePrefix(t *testing.T) {
	assert.Equal(t, `bot\_%`, likePrefix("bot_"))
	assert.Equal(t, `a\%b\\%`, likePrefix(`a%b\`))
}
