package infrastructure

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"stampcard/internal/pkg/redis"
)

const releaseLeaseScriptName = "release_lease"

// RedisLease 基于 SET NX PX 的租约。owner 是本实例的随机令牌，只有持有者才能释放。
type RedisLease struct {
	redisClient *redis.Client
	key         string
	owner       string
	ttl         time.Duration
}

// NewRedisLease 创建租约并加载释放脚本
func NewRedisLease(redisClient *redis.Client, name string, ttl time.Duration) (*RedisLease, error) {
	if err := redisClient.LoadScriptFromContent(releaseLeaseScriptName, releaseLeaseScript); err != nil {
		return nil, fmt.Errorf("failed to load lease release script: %w", err)
	}
	return &RedisLease{
		redisClient: redisClient,
		key:         fmt.Sprintf("stampcard:lease:{%s}", name),
		owner:       uuid.NewString(),
		ttl:         ttl,
	}, nil
}

func (l *RedisLease) TryAcquire(ctx context.Context) (bool, error) {
	ok, err := l.redisClient.GetClient().SetNX(ctx, l.key, l.owner, l.ttl).Result()
	if err != nil {
		return false, errors.Wrap(err, "acquire redis lease")
	}
	return ok, nil
}

// Release 只删除自己持有的租约；租约已过期或被他人持有时什么也不做
func (l *RedisLease) Release(ctx context.Context) error {
	result, err := l.redisClient.RunScript(ctx, releaseLeaseScriptName, []string{l.key}, l.owner)
	if err != nil {
		return fmt.Errorf("lease release script failed: %w", err)
	}
	if _, ok := result.(int64); !ok {
		return fmt.Errorf("unexpected result type from Lua script: %T", result)
	}
	return nil
}

var releaseLeaseScript = `
-- KEYS[1]: 租约 key
-- ARGV[1]: 持有者令牌
if redis.call('get', KEYS[1]) == ARGV[1] then
    return redis.call('del', KEYS[1])
end
return 0
`
