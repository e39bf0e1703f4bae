// internal/service/loyalty/application/service.go
package application

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"stampcard/internal/pkg/logger"
	"stampcard/internal/pkg/metrics"
	"stampcard/internal/service/loyalty/domain"
)

// ScanService 编排一次扫码：商家校验 -> 冷却检查 -> 加倍计算 -> 发放 -> 记录 -> 通知
type ScanService struct {
	store     domain.MemberStore
	cooldown  *CooldownGate
	resolver  domain.BonusPeriodResolver
	creditor  *StampCreditor
	publisher domain.LedgerPublisher
	tracer    trace.Tracer
	now       func() time.Time
}

func NewScanService(store domain.MemberStore, cooldown *CooldownGate, resolver domain.BonusPeriodResolver, creditor *StampCreditor, publisher domain.LedgerPublisher, tracer trace.Tracer) *ScanService {
	return &ScanService{
		store: store, cooldown: cooldown, resolver: resolver,
		creditor: creditor, publisher: publisher,
		tracer: tracer, now: time.Now,
	}
}

// Scan 处理一次扫码。处于冷却期时返回 domain.ErrInCooldown，同时 result 中带有剩余秒数。
func (s *ScanService) Scan(ctx context.Context, req *ScanRequest) (*ScanResult, error) {
	ctx, span := s.tracer.Start(ctx, "app.Scan")
	defer span.End()

	span.SetAttributes(
		attribute.String("business.id", req.BusinessID),
		attribute.String("identity.kind", req.IdentityKind),
		attribute.String("scan.event_id", req.EventID),
	)

	result := &ScanResult{}
	identity, err := domain.ParseIdentity(req.IdentityKind, req.IdentityRef)
	if err != nil {
		span.RecordError(err)
		metrics.ScansTotal.WithLabelValues("rejected").Inc()
		return result, err
	}

	scanCtx := &ScanContext{
		Ctx:       ctx,
		Tracer:    s.tracer,
		Now:       s.now(),
		Request:   req,
		Identity:  identity,
		Result:    result,
		Store:     s.store,
		Cooldown:  s.cooldown,
		Resolver:  s.resolver,
		Creditor:  s.creditor,
		Publisher: s.publisher,
	}

	if err := s.buildChain().Handle(scanCtx); err != nil {
		switch {
		case errors.Is(err, domain.ErrInCooldown):
			metrics.ScansTotal.WithLabelValues("cooldown").Inc()
			span.AddEvent("Scan blocked by cooldown")
			logger.Ctx(ctx).Info().
				Str("business_id", req.BusinessID).
				Int("remaining_seconds", result.RemainingSeconds).
				Msg("scan rejected, still in cooldown")
		case errors.Is(err, domain.ErrBusinessNotFound), errors.Is(err, domain.ErrBusinessInactive):
			metrics.ScansTotal.WithLabelValues("rejected").Inc()
			span.RecordError(err)
		default:
			metrics.ScansTotal.WithLabelValues("failed").Inc()
			span.RecordError(err)
			span.SetStatus(codes.Error, "Scan processing failed")
			logger.Ctx(ctx).Error().Err(err).Str("business_id", req.BusinessID).Msg("scan processing failed")
		}
		return result, err
	}

	if result.Duplicate {
		metrics.ScansTotal.WithLabelValues("duplicate").Inc()
	} else {
		metrics.ScansTotal.WithLabelValues("credited").Inc()
	}
	span.SetAttributes(
		attribute.Int("stamp.count", result.StampsAwarded),
		attribute.Int("member.active", result.NewActiveBalance),
	)
	return result, nil
}

// HandleScanEvent 是 Kafka 驱动适配器的入口。
// 冷却和重复属于正常业务结果，不作为错误返回，避免消息被重投。
func (s *ScanService) HandleScanEvent(ctx context.Context, event *domain.ScanRequested) error {
	ctx, span := s.tracer.Start(ctx, "app.HandleScanEvent", trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()

	result, err := s.Scan(ctx, ToScanRequest(event))
	switch {
	case err == nil:
		logger.Ctx(ctx).Info().
			Str("event_id", event.EventID).
			Bool("duplicate", result.Duplicate).
			Int("active", result.NewActiveBalance).
			Msg("scan event processed")
		return nil
	case errors.Is(err, domain.ErrInCooldown),
		errors.Is(err, domain.ErrBusinessInactive),
		errors.Is(err, domain.ErrBusinessNotFound),
		errors.Is(err, domain.ErrInvalidIdentity):
		logger.Ctx(ctx).Info().Err(err).Str("event_id", event.EventID).Msg("scan event rejected")
		return nil
	default:
		span.RecordError(err)
		return err
	}
}

// CheckCooldown 使用商家配置的冷却时长检查某身份
func (s *ScanService) CheckCooldown(ctx context.Context, businessID string, identity domain.Identity) (domain.CooldownStatus, error) {
	ctx, span := s.tracer.Start(ctx, "app.CheckCooldown")
	defer span.End()

	business, err := s.store.GetBusiness(ctx, businessID)
	if err != nil {
		span.RecordError(err)
		return domain.CooldownStatus{}, err
	}
	return s.cooldown.Check(ctx, identity, business.ID, business.CooldownMinutes), nil
}

// GetMember 返回会员余额视图
func (s *ScanService) GetMember(ctx context.Context, businessID string, identity domain.Identity) (*MemberView, error) {
	ctx, span := s.tracer.Start(ctx, "app.GetMember")
	defer span.End()

	if err := identity.Validate(); err != nil {
		return nil, err
	}
	business, err := s.store.GetBusiness(ctx, businessID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	member, err := s.store.GetMember(ctx, businessID, identity)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if member == nil {
		return nil, domain.ErrMemberNotFound
	}
	return &MemberView{
		MemberID:        member.ID,
		BusinessID:      member.BusinessID,
		IsAnonymous:     member.IsAnonymous(),
		ActiveStamps:    member.ActiveStamps,
		LifetimeStamps:  member.LifetimeStamps,
		CustomerName:    member.CustomerName,
		ReferralCode:    member.ReferralCode,
		RewardAvailable: business.RewardReached(member.ActiveStamps),
	}, nil
}

func (s *ScanService) buildChain() Handler {
	chain := new(LoadBusinessHandler)
	chain.
		SetNext(new(CooldownCheckHandler)).
		SetNext(new(BonusResolveHandler)).
		SetNext(new(CreditHandler)).
		SetNext(new(CooldownRecordHandler)).
		SetNext(new(NotificationHandler))
	return chain
}
