// internal/service/loyalty/domain/repository.go
package domain

import (
	"context"
	"time"
)

// MemberStore 定义了会员数据的持久化接口。
// 它位于领域层，但由基础设施层实现；存储是会员余额的唯一仲裁者。
type MemberStore interface {
	// GetBusiness 读取商家配置及其加倍规则，不存在时返回 ErrBusinessNotFound。
	GetBusiness(ctx context.Context, businessID string) (*Business, error)

	// GetMember 查找 (businessID, identity) 对应的会员，不存在时返回 (nil, nil)。
	GetMember(ctx context.Context, businessID string, identity Identity) (*Member, error)

	// UpsertMember 原子地对会员余额做增量写入（不存在则创建），并追加一条 StampEvent。
	// 幂等键重复时返回 ErrDuplicateScan 且不做任何修改。
	UpsertMember(ctx context.Context, params UpsertMemberParams) (*Member, error)

	// GetLatestStampEvent 返回会员最近一条发放流水，没有时返回 (nil, nil)。
	GetLatestStampEvent(ctx context.Context, memberID string) (*StampEvent, error)

	// RunExpirySweep 是覆盖所有商家的单次原子过期操作，返回过期的印花总数。
	RunExpirySweep(ctx context.Context, now time.Time) (int, error)
}

// DeviceCache 是匿名身份使用的设备本地"最近扫码时间"存储，按商家区分。
type DeviceCache interface {
	GetLastScan(ctx context.Context, deviceToken, businessID string) (*time.Time, error)
	SetLastScan(ctx context.Context, deviceToken, businessID string, at time.Time, ttl time.Duration) error
}

// Lease 是有时限的分布式租约，保证全系统同一时刻至多一个过期清扫在执行。
type Lease interface {
	// TryAcquire 非阻塞地尝试获取租约，已被他人持有时返回 (false, nil)。
	TryAcquire(ctx context.Context) (bool, error)
	// Release 释放自己持有的租约
	Release(ctx context.Context) error
}

// LedgerPublisher 是账本事件的出站端口
type LedgerPublisher interface {
	PublishStampsCredited(ctx context.Context, event *StampsCredited) error
	PublishStampsExpired(ctx context.Context, event *StampsExpired) error
}
