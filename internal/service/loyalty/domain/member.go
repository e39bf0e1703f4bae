// internal/service/loyalty/domain/member.go
package domain

import "time"

// Member 表示一个身份与一个商家的会员关系，持有印花余额。
// ActiveStamps 只会被发放增加、被过期清扫减少，且永远 >= 0；
// LifetimeStamps 只增不减。
type Member struct {
	ID             string
	BusinessID     string
	Identity       Identity
	ActiveStamps   int
	LifetimeStamps int
	CustomerName   string
	ReferralCode   string
	JoinedAt       time.Time
	UpdatedAt      time.Time
}

func (m *Member) IsAnonymous() bool {
	return m.Identity.IsAnonymous()
}

// StampEvent 是只追加的发放流水，也是已登录身份冷却判断的"最近一次扫码"时间来源。
type StampEvent struct {
	ID             string
	MemberID       string
	BusinessID     string
	Count          int
	IdempotencyKey string
	CreatedAt      time.Time
	ExpiredAt      *time.Time // 被过期清扫处理后由存储侧填充
}

// ExpiredStampsLogEntry 是过期清扫写下的审计记录，一次清扫中每个受影响会员一条。
type ExpiredStampsLogEntry struct {
	ID            string
	BusinessID    string
	MemberID      string
	CustomerName  string
	StampsExpired int
	ExpiredAt     time.Time
}

// UpsertMemberParams 描述一次原子的"增量写入会员 + 追加流水"操作
type UpsertMemberParams struct {
	BusinessID     string
	Identity       Identity
	ActiveDelta    int
	LifetimeDelta  int
	CustomerName   string
	ReferralCode   string // 仅在新建会员时使用
	IdempotencyKey string // 为空表示不去重
	At             time.Time
}
