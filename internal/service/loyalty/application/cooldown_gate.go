// internal/service/loyalty/application/cooldown_gate.go
package application

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"stampcard/internal/pkg/logger"
	"stampcard/internal/pkg/metrics"
	"stampcard/internal/service/loyalty/domain"
)

// FailurePolicy 决定冷却查询出错时的行为。
type FailurePolicy int

const (
	// FailOpen 查询失败时放行：误拦正常扫码比偶尔多发一次更糟。
	FailOpen FailurePolicy = iota
	// FailClosed 查询失败时按完整冷却窗口拦截
	FailClosed
)

func (p FailurePolicy) String() string {
	if p == FailClosed {
		return "fail_closed"
	}
	return "fail_open"
}

// ParseFailurePolicy 解析配置，未知值回退为 FailOpen
func ParseFailurePolicy(s string) FailurePolicy {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "fail_closed", "fail-closed", "closed":
		return FailClosed
	default:
		return FailOpen
	}
}

const (
	defaultDeviceTTL = 24 * time.Hour
	deviceTTLSlack   = 10 * time.Minute
)

// CooldownGate 判断某个身份在某商家当前是否允许再次扫码。
type CooldownGate struct {
	store   domain.MemberStore
	devices domain.DeviceCache
	tracer  trace.Tracer

	policy    FailurePolicy
	deviceTTL time.Duration
	now       func() time.Time
}

type CooldownOption func(*CooldownGate)

func WithFailurePolicy(p FailurePolicy) CooldownOption {
	return func(g *CooldownGate) { g.policy = p }
}

// WithDeviceTTL 设置设备缓存中扫码时间的最短保留时长，冷却窗口更长时按窗口加余量保留
func WithDeviceTTL(ttl time.Duration) CooldownOption {
	return func(g *CooldownGate) {
		if ttl > 0 {
			g.deviceTTL = ttl
		}
	}
}

func WithCooldownClock(now func() time.Time) CooldownOption {
	return func(g *CooldownGate) { g.now = now }
}

func NewCooldownGate(store domain.MemberStore, devices domain.DeviceCache, tracer trace.Tracer, opts ...CooldownOption) *CooldownGate {
	g := &CooldownGate{
		store:     store,
		devices:   devices,
		tracer:    tracer,
		policy:    FailOpen,
		deviceTTL: defaultDeviceTTL,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Check 返回冷却状态。它从不返回错误：查询失败按 FailurePolicy 处理并记录日志。
func (g *CooldownGate) Check(ctx context.Context, identity domain.Identity, businessID string, cooldownMinutes int) domain.CooldownStatus {
	ctx, span := g.tracer.Start(ctx, "cooldown.Check")
	defer span.End()

	span.SetAttributes(
		attribute.String("business.id", businessID),
		attribute.String("identity.kind", string(identity.Kind())),
		attribute.Int("cooldown.minutes", cooldownMinutes),
	)

	if cooldownMinutes <= 0 {
		return domain.CooldownStatus{}
	}

	lastScanAt, err := g.lastScan(ctx, identity, businessID)
	if err != nil {
		span.RecordError(err)
		metrics.CooldownLookupErrors.WithLabelValues(g.policy.String()).Inc()
		logger.Ctx(ctx).Warn().Err(err).
			Str("business_id", businessID).
			Str("identity_kind", string(identity.Kind())).
			Str("policy", g.policy.String()).
			Msg("cooldown lookup failed, applying failure policy")
		if g.policy == FailClosed {
			return domain.FullWindow(cooldownMinutes)
		}
		return domain.CooldownStatus{}
	}

	status := domain.EvaluateCooldown(lastScanAt, cooldownMinutes, g.now())
	span.SetAttributes(
		attribute.Bool("cooldown.active", status.InCooldown),
		attribute.Int("cooldown.remaining_seconds", status.RemainingSeconds),
	)
	return status
}

// lastScan 按身份类型分派：已登录查最近一条发放流水，匿名查设备缓存
func (g *CooldownGate) lastScan(ctx context.Context, identity domain.Identity, businessID string) (*time.Time, error) {
	if err := identity.Validate(); err != nil {
		return nil, err
	}

	switch identity.Kind() {
	case domain.IdentityAuthenticated:
		member, err := g.store.GetMember(ctx, businessID, identity)
		if err != nil {
			return nil, err
		}
		if member == nil {
			return nil, nil
		}
		event, err := g.store.GetLatestStampEvent(ctx, member.ID)
		if err != nil {
			return nil, err
		}
		if event == nil {
			return nil, nil
		}
		at := event.CreatedAt
		return &at, nil

	case domain.IdentityAnonymous:
		token, _ := identity.DeviceToken()
		return g.devices.GetLastScan(ctx, token, businessID)
	}
	return nil, domain.ErrInvalidIdentity
}

// Record 在一次成功发放后记下扫码时间。
// 只有匿名身份需要写设备缓存；已登录身份的 StampEvent 本身就是时间记录，不重复写。
// 缓存的保留时长至少覆盖整个冷却窗口，否则窗口未结束记录就已过期。
func (g *CooldownGate) Record(ctx context.Context, identity domain.Identity, businessID string, cooldownMinutes int) {
	token, ok := identity.DeviceToken()
	if !ok {
		return
	}

	ctx, span := g.tracer.Start(ctx, "cooldown.Record")
	defer span.End()

	ttl := g.recordTTL(cooldownMinutes)
	span.SetAttributes(attribute.Int64("cooldown.record_ttl_seconds", int64(ttl/time.Second)))

	if err := g.devices.SetLastScan(ctx, token, businessID, g.now(), ttl); err != nil {
		span.RecordError(err)
		logger.Ctx(ctx).Warn().Err(err).Str("business_id", businessID).Msg("failed to record anonymous scan time")
	}
}

// recordTTL 返回冷却窗口加余量，不低于 deviceTTL
func (g *CooldownGate) recordTTL(cooldownMinutes int) time.Duration {
	ttl := time.Duration(cooldownMinutes)*time.Minute + deviceTTLSlack
	if ttl < g.deviceTTL {
		return g.deviceTTL
	}
	return ttl
}
