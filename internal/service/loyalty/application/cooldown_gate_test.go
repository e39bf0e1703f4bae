package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stampcard/internal/service/loyalty/domain"
)

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }

func TestCooldownGate_AuthenticatedWithoutMemberIsFree(t *testing.T) {
	gate := NewCooldownGate(newMemStore(), newMemDevices(), testTracer, WithCooldownClock(clock))

	status := gate.Check(context.Background(), domain.Authenticated("u1"), "biz", 10)
	assert.False(t, status.InCooldown)
	assert.Nil(t, status.LastScanAt)
}

func TestCooldownGate_AuthenticatedWithoutEventsIsFree(t *testing.T) {
	store := newMemStore()
	store.seedMember("biz", domain.Authenticated("u1"), 3, 3)
	gate := NewCooldownGate(store, newMemDevices(), testTracer, WithCooldownClock(clock))

	assert.False(t, gate.Check(context.Background(), domain.Authenticated("u1"), "biz", 10).InCooldown)
}

func TestCooldownGate_AuthenticatedUsesLatestStampEvent(t *testing.T) {
	store := newMemStore()
	m := store.seedMember("biz", domain.Authenticated("u1"), 3, 3)
	store.seedEvent(m.ID, fixedNow.Add(-90*time.Second))
	gate := NewCooldownGate(store, newMemDevices(), testTracer, WithCooldownClock(clock))

	status := gate.Check(context.Background(), domain.Authenticated("u1"), "biz", 2)
	assert.True(t, status.InCooldown)
	assert.Equal(t, 30, status.RemainingSeconds)
	require.NotNil(t, status.LastScanAt)
	assert.Equal(t, fixedNow.Add(-90*time.Second), *status.LastScanAt)
}

func TestCooldownGate_AnonymousUsesDeviceCache(t *testing.T) {
	devices := newMemDevices()
	gate := NewCooldownGate(newMemStore(), devices, testTracer, WithCooldownClock(clock))
	anon := domain.Anonymous("device-1")

	assert.False(t, gate.Check(context.Background(), anon, "biz", 5).InCooldown)

	gate.Record(context.Background(), anon, "biz", 5)
	status := gate.Check(context.Background(), anon, "biz", 5)
	assert.True(t, status.InCooldown)
	assert.Equal(t, 300, status.RemainingSeconds)

	// 其他商家不受影响
	assert.False(t, gate.Check(context.Background(), anon, "other", 5).InCooldown)
}

func TestCooldownGate_RecordIsNoopForAuthenticated(t *testing.T) {
	devices := newMemDevices()
	gate := NewCooldownGate(newMemStore(), devices, testTracer, WithCooldownClock(clock))

	gate.Record(context.Background(), domain.Authenticated("u1"), "biz", 5)
	assert.Empty(t, devices.scans)
}

func TestCooldownGate_FailOpenOnLookupError(t *testing.T) {
	store := newMemStore()
	store.getMemberErr = errors.New("connection reset")
	devices := newMemDevices()
	devices.getErr = errors.New("storage unavailable")
	gate := NewCooldownGate(store, devices, testTracer, WithCooldownClock(clock))

	assert.False(t, gate.Check(context.Background(), domain.Authenticated("u1"), "biz", 10).InCooldown)
	assert.False(t, gate.Check(context.Background(), domain.Anonymous("d"), "biz", 10).InCooldown)
}

func TestCooldownGate_FailOpenOnLatestEventError(t *testing.T) {
	store := newMemStore()
	store.seedMember("biz", domain.Authenticated("u1"), 1, 1)
	store.latestErr = errors.New("timeout")
	gate := NewCooldownGate(store, newMemDevices(), testTracer, WithCooldownClock(clock))

	assert.False(t, gate.Check(context.Background(), domain.Authenticated("u1"), "biz", 10).InCooldown)
}

func TestCooldownGate_FailClosedPolicy(t *testing.T) {
	store := newMemStore()
	store.getMemberErr = errors.New("connection reset")
	gate := NewCooldownGate(store, newMemDevices(), testTracer,
		WithCooldownClock(clock), WithFailurePolicy(FailClosed))

	status := gate.Check(context.Background(), domain.Authenticated("u1"), "biz", 10)
	assert.True(t, status.InCooldown)
	assert.Equal(t, 600, status.RemainingSeconds)
}

func TestCooldownGate_RecordTTLCoversLongCooldown(t *testing.T) {
	devices := newMemDevices()
	gate := NewCooldownGate(newMemStore(), devices, testTracer, WithCooldownClock(clock))
	anon := domain.Anonymous("device-1")

	// 短冷却按默认下限保留
	gate.Record(context.Background(), anon, "cafe", 5)
	assert.Equal(t, defaultDeviceTTL, devices.ttls["device-1|cafe"])

	// 48 小时冷却必须保留到窗口结束之后
	gate.Record(context.Background(), anon, "hotel", 48*60)
	assert.Equal(t, 48*time.Hour+deviceTTLSlack, devices.ttls["device-1|hotel"])
}

func TestCooldownGate_RecordFailureIsSwallowed(t *testing.T) {
	devices := newMemDevices()
	devices.setErr = errors.New("quota exceeded")
	gate := NewCooldownGate(newMemStore(), devices, testTracer, WithCooldownClock(clock))

	assert.NotPanics(t, func() {
		gate.Record(context.Background(), domain.Anonymous("d"), "biz", 5)
	})
}

func TestParseFailurePolicy(t *testing.T) {
	assert.Equal(t, FailClosed, ParseFailurePolicy("fail_closed"))
	assert.Equal(t, FailOpen, ParseFailurePolicy("anything"))
	assert.Equal(t, "fail_open", FailOpen.String())
}
