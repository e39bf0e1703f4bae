// internal/service/loyalty/domain/event.go
package domain

import "time"

// ScanRequested 是扫码请求事件，经由 Kafka 进入扫码流程。
// EventID 同时作为发放的幂等键。
type ScanRequested struct {
	EventID      string       `json:"eventId"`
	TraceID      string       `json:"traceId,omitempty"`
	BusinessID   string       `json:"businessId"`
	IdentityKind IdentityKind `json:"identityKind"`
	IdentityRef  string       `json:"identityRef"`
	CustomerName string       `json:"customerName,omitempty"`
	ReferralCode string       `json:"referralCode,omitempty"`
	RequestedAt  time.Time    `json:"requestedAt"`
}

// StampsCredited 在一次发放成功后发布
type StampsCredited struct {
	EventID          string    `json:"eventId"`
	BusinessID       string    `json:"businessId"`
	MemberID         string    `json:"memberId"`
	IdentityKind     string    `json:"identityKind"`
	Count            int       `json:"count"`
	NewActiveBalance int       `json:"newActiveBalance"`
	LifetimeStamps   int       `json:"lifetimeStamps"`
	RewardAvailable  bool      `json:"rewardAvailable"`
	CreditedAt       time.Time `json:"creditedAt"`
}

// StampsExpired 在一次清扫过期了至少一个印花后发布
type StampsExpired struct {
	SweepID      string    `json:"sweepId"`
	ExpiredCount int       `json:"expiredCount"`
	SweptAt      time.Time `json:"sweptAt"`
}
