package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sampleRequest struct {
	UserID      string `json:"userId" validate:"required"`
	ChallengeID string `json:"challengeId" validate:"required"`
	Other       string `json:"other,omitempty" validate:"omitempty,uuid"`
}

func TestValidateStruct_OK(t *testing.T) {
	assert.NoError(t, ValidateStruct(sampleRequest{UserID: "u", ChallengeID: "c"}))
}

func TestValidateStruct_MissingUsesJSONNames(t *testing.T) {
	err := ValidateStruct(sampleRequest{})
	require.Error(t, err)
	assert.Equal(t, "missing required parameters: userId, challengeId", err.Error())
}

func TestValidateStruct_Invalid(t *testing.T) {
	err := ValidateStruct(sampleRequest{UserID: "u", ChallengeID: "c", Other: "nope"})
	require.Error(t, err)
	assert.Equal(t, "invalid parameters: other (uuid)", err.Error())
}
