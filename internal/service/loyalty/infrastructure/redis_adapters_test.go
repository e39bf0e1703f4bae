package infrastructure

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"stampcard/internal/pkg/redis"
	"stampcard/internal/service/loyalty/application"
	"stampcard/internal/service/loyalty/domain"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.Wrap(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisDeviceCache_RoundTrip(t *testing.T) {
	mr, client := newTestRedis(t)
	cache := NewRedisDeviceCache(client)
	ctx := context.Background()

	last, err := cache.GetLastScan(ctx, "device-1", "cafe")
	require.NoError(t, err)
	assert.Nil(t, last)

	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, cache.SetLastScan(ctx, "device-1", "cafe", at, 10*time.Minute))

	last, err = cache.GetLastScan(ctx, "device-1", "cafe")
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.True(t, last.Equal(at))

	// 按商家隔离
	other, err := cache.GetLastScan(ctx, "device-1", "bakery")
	require.NoError(t, err)
	assert.Nil(t, other)

	mr.FastForward(11 * time.Minute)
	last, err = cache.GetLastScan(ctx, "device-1", "cafe")
	require.NoError(t, err)
	assert.Nil(t, last)
}

func TestRedisDeviceCache_KeepsScanForLongCooldown(t *testing.T) {
	mr, client := newTestRedis(t)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	// 匿名路径不访问 MemberStore
	gate := application.NewCooldownGate(nil, NewRedisDeviceCache(client), otel.Tracer("test"),
		application.WithCooldownClock(func() time.Time { return now }))
	anon := domain.Anonymous("dev-1")
	ctx := context.Background()

	gate.Record(ctx, anon, "hotel", 48*60)

	now = now.Add(25 * time.Hour)
	mr.FastForward(25 * time.Hour)

	status := gate.Check(ctx, anon, "hotel", 48*60)
	assert.True(t, status.InCooldown)
	assert.Equal(t, int((23 * time.Hour).Seconds()), status.RemainingSeconds)

	now = now.Add(23*time.Hour + time.Second)
	mr.FastForward(23*time.Hour + time.Second)
	assert.False(t, gate.Check(ctx, anon, "hotel", 48*60).InCooldown)
}

func TestRedisDeviceCache_CorruptValue(t *testing.T) {
	mr, client := newTestRedis(t)
	cache := NewRedisDeviceCache(client)

	require.NoError(t, mr.Set(lastScanKey("d", "cafe"), "not-a-number"))
	_, err := cache.GetLastScan(context.Background(), "d", "cafe")
	assert.Error(t, err)
}

func TestRedisDeviceCache_ConnectionError(t *testing.T) {
	mr, client := newTestRedis(t)
	cache := NewRedisDeviceCache(client)
	mr.Close()

	_, err := cache.GetLastScan(context.Background(), "d", "cafe")
	assert.Error(t, err)
}

func TestRedisLease_ExclusiveUntilReleased(t *testing.T) {
	_, client := newTestRedis(t)
	ctx := context.Background()

	a, err := NewRedisLease(client, "expiry-sweep", time.Minute)
	require.NoError(t, err)
	b, err := NewRedisLease(client, "expiry-sweep", time.Minute)
	require.NoError(t, err)

	ok, err := a.TryAcquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.TryAcquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	// 非持有者释放不生效
	require.NoError(t, b.Release(ctx))
	ok, err = b.TryAcquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, a.Release(ctx))
	ok, err = b.TryAcquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLease_ExpiresAfterTTL(t *testing.T) {
	mr, client := newTestRedis(t)
	ctx := context.Background()

	a, err := NewRedisLease(client, "expiry-sweep", 30*time.Second)
	require.NoError(t, err)
	b, err := NewRedisLease(client, "expiry-sweep", 30*time.Second)
	require.NoError(t, err)

	ok, err := a.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(31 * time.Second)
	ok, err = b.TryAcquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok, "a crashed holder must not block the sweep forever")
}

func TestMemoryDeviceCache(t *testing.T) {
	cache := NewMemoryDeviceCache()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }
	ctx := context.Background()

	last, err := cache.GetLastScan(ctx, "d", "cafe")
	require.NoError(t, err)
	assert.Nil(t, last)

	require.NoError(t, cache.SetLastScan(ctx, "d", "cafe", now, time.Minute))
	last, err = cache.GetLastScan(ctx, "d", "cafe")
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, now, *last)

	now = now.Add(time.Minute)
	last, err = cache.GetLastScan(ctx, "d", "cafe")
	require.NoError(t, err)
	assert.Nil(t, last)
	assert.Equal(t, 0, cache.entries.Count())
}
