package domain

import "time"

// CooldownStatus 是冷却检查的结果
type CooldownStatus struct {
	InCooldown       bool       `json:"in_cooldown"`
	RemainingSeconds int        `json:"remaining_seconds"`
	LastScanAt       *time.Time `json:"last_scan_at,omitempty"`
}

// RemainingDuration 以 time.Duration 返回剩余等待时间
func (s CooldownStatus) RemainingDuration() time.Duration {
	return time.Duration(s.RemainingSeconds) * time.Second
}

// EvaluateCooldown 根据最近一次扫码时间计算冷却状态。
// remaining = cooldownMinutes*60s - (now - lastScanAt)，大于 0 时处于冷却中，
// 剩余秒数向上取整。lastScanAt 为空或 cooldownMinutes<=0 时永不冷却。
func EvaluateCooldown(lastScanAt *time.Time, cooldownMinutes int, now time.Time) CooldownStatus {
	status := CooldownStatus{LastScanAt: lastScanAt}
	if lastScanAt == nil || cooldownMinutes <= 0 {
		return status
	}

	window := time.Duration(cooldownMinutes) * time.Minute
	remaining := window - now.Sub(*lastScanAt)
	if remaining <= 0 {
		return status
	}
	// 时钟回拨时 elapsed 为负，剩余时间不超过一个完整窗口
	if remaining > window {
		remaining = window
	}

	status.InCooldown = true
	status.RemainingSeconds = int((remaining + time.Second - 1) / time.Second)
	return status
}

// FullWindow 返回一个"整窗口冷却"的状态，用于 fail-closed 策略
func FullWindow(cooldownMinutes int) CooldownStatus {
	if cooldownMinutes <= 0 {
		return CooldownStatus{}
	}
	return CooldownStatus{InCooldown: true, RemainingSeconds: cooldownMinutes * 60}
}
