package gameerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRejection_MatchesKind(t *testing.T) {
	err := Resource("not enough mana: %d", 3)
	assert.ErrorIs(t, err, ErrResource)
	assert.NotErrorIs(t, err, ErrValidation)
	assert.Equal(t, "not enough mana: 3", err.Error())

	wrapped := fmt.Errorf("attack: %w", err)
	assert.ErrorIs(t, wrapped, ErrResource)
	assert.True(t, IsRejection(wrapped))
}

func TestToResult(t *testing.T) {
	res, err := ToResult(nil)
	require.NoError(t, err)
	assert.True(t, res.OK)

	res, err = ToResult(fmt.Errorf("dodge: %w", Consistency("phase has moved on")))
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, "phase has moved on", res.Reason)

	dbErr := errors.New("disk full")
	_, err = ToResult(dbErr)
	assert.ErrorIs(t, err, dbErr)
	assert.False(t, IsRejection(dbErr))
}
