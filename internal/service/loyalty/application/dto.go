package application

import "stampcard/internal/service/loyalty/domain"

// ScanRequest 是扫码用例的输入
type ScanRequest struct {
	EventID      string `json:"event_id"` // 可选，作为幂等键
	BusinessID   string `json:"business_id"`
	IdentityKind string `json:"identity_kind"`
	IdentityRef  string `json:"identity_ref"`
	CustomerName string `json:"customer_name,omitempty"`
	ReferralCode string `json:"referral_code,omitempty"`
}

// ScanResult 是扫码用例的输出
type ScanResult struct {
	Credited         bool   `json:"credited"`
	Duplicate        bool   `json:"duplicate"`
	StampsAwarded    int    `json:"stamps_awarded"`
	NewActiveBalance int    `json:"new_active_balance"`
	LifetimeStamps   int    `json:"lifetime_stamps"`
	MemberID         string `json:"member_id,omitempty"`
	RewardAvailable  bool   `json:"reward_available"`
	InCooldown       bool   `json:"in_cooldown"`
	RemainingSeconds int    `json:"remaining_seconds,omitempty"`
	Message          string `json:"message"`
}

// ToScanRequest 从 Kafka 事件转换为应用层请求
func ToScanRequest(event *domain.ScanRequested) *ScanRequest {
	return &ScanRequest{
		EventID:      event.EventID,
		BusinessID:   event.BusinessID,
		IdentityKind: string(event.IdentityKind),
		IdentityRef:  event.IdentityRef,
		CustomerName: event.CustomerName,
		ReferralCode: event.ReferralCode,
	}
}

// MemberView 是会员查询的响应体
type MemberView struct {
	MemberID        string `json:"member_id"`
	BusinessID      string `json:"business_id"`
	IsAnonymous     bool   `json:"is_anonymous"`
	ActiveStamps    int    `json:"active_stamps"`
	LifetimeStamps  int    `json:"lifetime_stamps"`
	CustomerName    string `json:"customer_name,omitempty"`
	ReferralCode    string `json:"referral_code"`
	RewardAvailable bool   `json:"reward_available"`
}
