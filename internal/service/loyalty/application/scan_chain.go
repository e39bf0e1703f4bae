// internal/service/loyalty/application/scan_chain.go
package application

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"stampcard/internal/pkg/logger"
	"stampcard/internal/pkg/metrics"
	"stampcard/internal/service/loyalty/domain"
)

// ScanContext 在扫码责任链中传递上下文数据
type ScanContext struct {
	Ctx    context.Context
	Tracer trace.Tracer
	Now    time.Time

	Request  *ScanRequest
	Identity domain.Identity
	Business *domain.Business
	Count    int
	Result   *ScanResult

	Store     domain.MemberStore
	Cooldown  *CooldownGate
	Resolver  domain.BonusPeriodResolver
	Creditor  *StampCreditor
	Publisher domain.LedgerPublisher
}

type Handler interface {
	SetNext(handler Handler) Handler
	Handle(scanCtx *ScanContext) error
}

type NextHandler struct {
	next Handler
}

func (h *NextHandler) SetNext(handler Handler) Handler {
	h.next = handler
	return handler
}

func (h *NextHandler) executeNext(scanCtx *ScanContext) error {
	if h.next != nil {
		return h.next.Handle(scanCtx)
	}
	return nil
}

// LoadBusinessHandler 读取商家配置并拒绝未启用的商家
type LoadBusinessHandler struct {
	NextHandler
}

func (h *LoadBusinessHandler) Handle(scanCtx *ScanContext) error {
	ctx, span := scanCtx.Tracer.Start(scanCtx.Ctx, "scan.LoadBusiness")
	defer span.End()

	business, err := scanCtx.Store.GetBusiness(ctx, scanCtx.Request.BusinessID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Business lookup failed")
		return err
	}
	if !business.IsActive() {
		span.SetStatus(codes.Error, "Business inactive")
		return domain.ErrBusinessInactive
	}
	scanCtx.Business = business
	return h.executeNext(scanCtx)
}

// CooldownCheckHandler 处于冷却期时中断链路
type CooldownCheckHandler struct {
	NextHandler
}

func (h *CooldownCheckHandler) Handle(scanCtx *ScanContext) error {
	status := scanCtx.Cooldown.Check(scanCtx.Ctx, scanCtx.Identity, scanCtx.Business.ID, scanCtx.Business.CooldownMinutes)
	if status.InCooldown {
		scanCtx.Result.InCooldown = true
		scanCtx.Result.RemainingSeconds = status.RemainingSeconds
		scanCtx.Result.Message = "Please wait before scanning again."
		return domain.ErrInCooldown
	}
	return h.executeNext(scanCtx)
}

// BonusResolveHandler 按商家时区计算本次应发放的印花数
type BonusResolveHandler struct {
	NextHandler
}

func (h *BonusResolveHandler) Handle(scanCtx *ScanContext) error {
	_, span := scanCtx.Tracer.Start(scanCtx.Ctx, "scan.ResolveBonus")
	local := scanCtx.Now.In(scanCtx.Business.Location())
	scanCtx.Count = scanCtx.Resolver.Resolve(scanCtx.Business.BonusRules, local)
	span.SetAttributes(attribute.Int("stamp.count", scanCtx.Count))
	span.End()

	if scanCtx.Count > domain.BaselineStamps {
		metrics.BonusAppliedTotal.Inc()
	}
	return h.executeNext(scanCtx)
}

// CreditHandler 执行发放，失败时中断链路
type CreditHandler struct {
	NextHandler
}

func (h *CreditHandler) Handle(scanCtx *ScanContext) error {
	req := scanCtx.Request
	result := scanCtx.Creditor.Credit(scanCtx.Ctx, CreditRequest{
		BusinessID:     scanCtx.Business.ID,
		Identity:       scanCtx.Identity,
		Count:          scanCtx.Count,
		IdempotencyKey: req.EventID,
		CustomerName:   req.CustomerName,
		ReferralCode:   req.ReferralCode,
	})
	if !result.Success {
		scanCtx.Result.Message = "Stamp could not be credited, please scan again."
		return result.Err
	}

	out := scanCtx.Result
	out.Credited = !result.Duplicate
	out.Duplicate = result.Duplicate
	out.NewActiveBalance = result.NewActiveBalance
	out.LifetimeStamps = result.LifetimeStamps
	out.MemberID = result.MemberID
	out.RewardAvailable = scanCtx.Business.RewardReached(result.NewActiveBalance)
	if result.Duplicate {
		out.Message = "This scan was already credited."
	} else {
		out.StampsAwarded = scanCtx.Count
		out.Message = "Stamp credited."
	}
	return h.executeNext(scanCtx)
}

// CooldownRecordHandler 记录匿名身份的扫码时间
type CooldownRecordHandler struct {
	NextHandler
}

func (h *CooldownRecordHandler) Handle(scanCtx *ScanContext) error {
	if scanCtx.Result.Credited {
		scanCtx.Cooldown.Record(scanCtx.Ctx, scanCtx.Identity, scanCtx.Business.ID, scanCtx.Business.CooldownMinutes)
	}
	return h.executeNext(scanCtx)
}

// NotificationHandler 发布账本事件。发送失败不影响扫码结果。
type NotificationHandler struct {
	NextHandler
}

func (h *NotificationHandler) Handle(scanCtx *ScanContext) error {
	if !scanCtx.Result.Credited || scanCtx.Publisher == nil {
		return h.executeNext(scanCtx)
	}

	ctx, span := scanCtx.Tracer.Start(scanCtx.Ctx, "scan.Notify")
	defer span.End()

	out := scanCtx.Result
	event := &domain.StampsCredited{
		EventID:          scanCtx.Request.EventID,
		BusinessID:       scanCtx.Business.ID,
		MemberID:         out.MemberID,
		IdentityKind:     string(scanCtx.Identity.Kind()),
		Count:            out.StampsAwarded,
		NewActiveBalance: out.NewActiveBalance,
		LifetimeStamps:   out.LifetimeStamps,
		RewardAvailable:  out.RewardAvailable,
		CreditedAt:       scanCtx.Now,
	}
	if err := scanCtx.Publisher.PublishStampsCredited(ctx, event); err != nil {
		span.RecordError(err)
		logger.Ctx(ctx).Warn().Err(err).Str("member_id", out.MemberID).Msg("failed to publish stamps credited event")
	}
	return h.executeNext(scanCtx)
}
