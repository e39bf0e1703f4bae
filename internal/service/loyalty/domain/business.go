// internal/service/loyalty/domain/business.go
package domain

import "time"

// BusinessStatus 定义了商家集点活动的状态
type BusinessStatus string

const (
	BusinessActive   BusinessStatus = "ACTIVE"
	BusinessInactive BusinessStatus = "INACTIVE"
)

// Business 是商家的集点配置。它由后台维护，本子系统只读。
type Business struct {
	ID                string
	Name              string
	Status            BusinessStatus
	CooldownMinutes   int    // 两次有效扫码之间的最小间隔，<=0 表示不限制
	StampValidityDays int    // 印花有效期，<=0 表示永不过期
	StampsForReward   int    // 兑换奖励所需印花数，<=0 表示未配置
	Timezone          string // IANA 时区名，用于判断加倍时段
	BonusRules        []BonusPeriodRule
}

func (b *Business) IsActive() bool {
	return b.Status == BusinessActive
}

// Location 返回商家所在时区，配置缺失或非法时使用 UTC
func (b *Business) Location() *time.Location {
	if b.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(b.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// RewardReached 判断余额是否已达到兑换门槛
func (b *Business) RewardReached(activeStamps int) bool {
	return b.StampsForReward > 0 && activeStamps >= b.StampsForReward
}
