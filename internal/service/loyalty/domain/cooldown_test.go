package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEvaluateCooldown_NoLastScan(t *testing.T) {
	status := EvaluateCooldown(nil, 30, time.Now())
	assert.False(t, status.InCooldown)
	assert.Zero(t, status.RemainingSeconds)
	assert.Nil(t, status.LastScanAt)
}

func TestEvaluateCooldown_Boundary(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	const minutes = 5
	window := time.Duration(minutes) * time.Minute

	justInside := now.Add(-(window - time.Millisecond))
	status := EvaluateCooldown(&justInside, minutes, now)
	assert.True(t, status.InCooldown)
	assert.Equal(t, 1, status.RemainingSeconds)

	exactly := now.Add(-window)
	status = EvaluateCooldown(&exactly, minutes, now)
	assert.False(t, status.InCooldown)
	assert.Zero(t, status.RemainingSeconds)
}

func TestEvaluateCooldown_NinetySecondsIntoTwoMinutes(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	last := now.Add(-90 * time.Second)

	status := EvaluateCooldown(&last, 2, now)
	assert.True(t, status.InCooldown)
	assert.Equal(t, 30, status.RemainingSeconds)
	assert.Equal(t, &last, status.LastScanAt)
	assert.Equal(t, 30*time.Second, status.RemainingDuration())
}

func TestEvaluateCooldown_DisabledWindow(t *testing.T) {
	now := time.Now()
	last := now.Add(-time.Second)
	assert.False(t, EvaluateCooldown(&last, 0, now).InCooldown)
}

func TestEvaluateCooldown_FutureScanIsCappedToWindow(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	future := now.Add(10 * time.Minute)

	status := EvaluateCooldown(&future, 1, now)
	assert.True(t, status.InCooldown)
	assert.Equal(t, 60, status.RemainingSeconds)
}

func TestFullWindow(t *testing.T) {
	assert.Equal(t, CooldownStatus{InCooldown: true, RemainingSeconds: 120}, FullWindow(2))
	assert.Equal(t, CooldownStatus{}, FullWindow(0))
}
