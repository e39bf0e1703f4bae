package infrastructure

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"stampcard/internal/service/loyalty/domain"
)

type cachedBusiness struct {
	business  *domain.Business
	expiresAt time.Time
}

// CachedMemberStore 给 GetBusiness 加一层短 TTL 的进程内缓存。
// 商家配置读多写少，同一商家的并发加载通过 singleflight 合并成一次查询；其余方法直接透传。
type CachedMemberStore struct {
	domain.MemberStore

	ttl   time.Duration
	now   func() time.Time
	group singleflight.Group

	mu      sync.RWMutex
	entries map[string]cachedBusiness
}

func NewCachedMemberStore(inner domain.MemberStore, ttl time.Duration) *CachedMemberStore {
	return &CachedMemberStore{
		MemberStore: inner,
		ttl:         ttl,
		now:         time.Now,
		entries:     make(map[string]cachedBusiness),
	}
}

func (c *CachedMemberStore) GetBusiness(ctx context.Context, businessID string) (*domain.Business, error) {
	if c.ttl <= 0 {
		return c.MemberStore.GetBusiness(ctx, businessID)
	}

	c.mu.RLock()
	entry, ok := c.entries[businessID]
	c.mu.RUnlock()
	if ok && c.now().Before(entry.expiresAt) {
		return entry.business, nil
	}

	v, err, _ := c.group.Do(businessID, func() (interface{}, error) {
		b, err := c.MemberStore.GetBusiness(ctx, businessID)
		if err != nil {
			// 不缓存错误，包括 ErrBusinessNotFound
			return nil, err
		}
		c.mu.Lock()
		c.entries[businessID] = cachedBusiness{business: b, expiresAt: c.now().Add(c.ttl)}
		c.mu.Unlock()
		return b, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.Business), nil
}
