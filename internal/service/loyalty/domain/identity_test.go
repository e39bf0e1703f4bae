package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentityVariants(t *testing.T) {
	user := Authenticated("user-42")
	id, ok := user.UserID()
	assert.True(t, ok)
	assert.Equal(t, "user-42", id)
	_, ok = user.DeviceToken()
	assert.False(t, ok)
	assert.False(t, user.IsAnonymous())

	device := Anonymous("  dev-1 ")
	token, ok := device.DeviceToken()
	assert.True(t, ok)
	assert.Equal(t, "dev-1", token)
	_, ok = device.UserID()
	assert.False(t, ok)
	assert.True(t, device.IsAnonymous())
	assert.Equal(t, "anonymous:dev-1", device.String())
}

func TestParseIdentity(t *testing.T) {
	id, err := ParseIdentity("Authenticated", "u1")
	require.NoError(t, err)
	assert.Equal(t, Authenticated("u1"), id)

	_, err = ParseIdentity("robot", "x")
	assert.True(t, errors.Is(err, ErrInvalidIdentity))

	_, err = ParseIdentity("anonymous", "   ")
	assert.True(t, errors.Is(err, ErrInvalidIdentity))
}

func TestIdentityValidate_ZeroValue(t *testing.T) {
	assert.ErrorIs(t, Identity{}.Validate(), ErrInvalidIdentity)
}

func TestBusinessHelpers(t *testing.T) {
	b := &Business{Status: BusinessActive, StampsForReward: 10, Timezone: "Not/AZone"}
	assert.True(t, b.IsActive())
	assert.Equal(t, "UTC", b.Location().String())
	assert.True(t, b.RewardReached(10))
	assert.False(t, b.RewardReached(9))

	b.StampsForReward = 0
	assert.False(t, b.RewardReached(100))
}
