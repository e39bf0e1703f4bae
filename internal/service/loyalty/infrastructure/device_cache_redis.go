package infrastructure

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/pkg/errors"
	goredis "github.com/redis/go-redis/v9"

	"stampcard/internal/pkg/redis"
)

// RedisDeviceCache 把匿名设备的最近扫码时间存在 Redis 中，多实例部署时共享。
type RedisDeviceCache struct {
	redisClient *redis.Client
}

func NewRedisDeviceCache(redisClient *redis.Client) *RedisDeviceCache {
	return &RedisDeviceCache{redisClient: redisClient}
}

func lastScanKey(deviceToken, businessID string) string {
	return fmt.Sprintf("stampcard:last_scan:{%s}:%s", businessID, deviceToken)
}

// GetLastScan 没有记录时返回 (nil, nil)
func (c *RedisDeviceCache) GetLastScan(ctx context.Context, deviceToken, businessID string) (*time.Time, error) {
	raw, err := c.redisClient.GetClient().Get(ctx, lastScanKey(deviceToken, businessID)).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "redis get last scan")
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, errors.Wrapf(err, "corrupt last scan value %q", raw)
	}
	at := time.UnixMilli(ms).UTC()
	return &at, nil
}

// SetLastScan 以毫秒时间戳写入，ttl 到期后自动清理
func (c *RedisDeviceCache) SetLastScan(ctx context.Context, deviceToken, businessID string, at time.Time, ttl time.Duration) error {
	err := c.redisClient.GetClient().Set(ctx, lastScanKey(deviceToken, businessID), at.UnixMilli(), ttl).Err()
	return errors.Wrap(err, "redis set last scan")
}
