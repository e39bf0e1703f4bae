package infrastructure

import (
	"context"
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"
)

type deviceEntry struct {
	at        time.Time
	expiresAt time.Time
}

// MemoryDeviceCache 是单实例部署或本地开发用的设备缓存，进程重启后丢失
type MemoryDeviceCache struct {
	entries cmap.ConcurrentMap[string, deviceEntry]
	now     func() time.Time
}

func NewMemoryDeviceCache() *MemoryDeviceCache {
	return &MemoryDeviceCache{
		entries: cmap.New[deviceEntry](),
		now:     time.Now,
	}
}

func (c *MemoryDeviceCache) GetLastScan(_ context.Context, deviceToken, businessID string) (*time.Time, error) {
	key := businessID + "|" + deviceToken
	entry, ok := c.entries.Get(key)
	if !ok {
		return nil, nil
	}
	if !entry.expiresAt.IsZero() && !c.now().Before(entry.expiresAt) {
		c.entries.RemoveCb(key, func(_ string, v deviceEntry, exists bool) bool {
			return exists && v == entry
		})
		return nil, nil
	}
	at := entry.at
	return &at, nil
}

func (c *MemoryDeviceCache) SetLastScan(_ context.Context, deviceToken, businessID string, at time.Time, ttl time.Duration) error {
	entry := deviceEntry{at: at}
	if ttl > 0 {
		entry.expiresAt = c.now().Add(ttl)
	}
	c.entries.Set(businessID+"|"+deviceToken, entry)
	return nil
}
