package services

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormingSquadName(t *testing.T) {
	name := formingSquadName()
	assert.True(t, strings.HasPrefix(name, "Squad "))
	assert.Len(t, strings.TrimPrefix(name, "Squad "), 6)
}

func TestDuelSquadName(t *testing.T) {
	assert.Equal(t, "Zoe Quinn (1v1)", duelSquadName("zoë quinn"))
	assert.True(t, strings.HasPrefix(duelSquadName("   "), "Duelist "))
}

func TestSquadSlug(t *testing.T) {
	s := squadSlug("User Squad")
	assert.True(t, strings.HasPrefix(s, "user-squad-"))
	assert.Equal(t, strings.ToLower(s), s)
	assert.NotContains(t, s, " ")
}
