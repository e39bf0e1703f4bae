// internal/service/loyalty/application/stamp_creditor.go
package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"stampcard/internal/pkg/logger"
	"stampcard/internal/pkg/metrics"
	"stampcard/internal/service/loyalty/domain"
)

// CreditRequest 是一次发放的输入，Count 已经过加倍规则计算
type CreditRequest struct {
	BusinessID     string
	Identity       domain.Identity
	Count          int
	IdempotencyKey string
	CustomerName   string
	ReferralCode   string
}

// CreditResult 是发放结果。Success=false 时 Err 一定不为空。
type CreditResult struct {
	Success          bool
	NewActiveBalance int
	LifetimeStamps   int
	MemberID         string
	Created          bool
	Duplicate        bool
	Err              error
}

func failed(err error) CreditResult {
	return CreditResult{Success: false, Err: err}
}

// StampCreditor 执行"读-增量写-回读"的印花发放。
// 没有 IdempotencyKey 时它本身不幂等：同一次扫码调用两次会发两次，
// 去重依赖调用方先走 CooldownGate。
type StampCreditor struct {
	store  domain.MemberStore
	tracer trace.Tracer
	now    func() time.Time
}

func NewStampCreditor(store domain.MemberStore, tracer trace.Tracer) *StampCreditor {
	return &StampCreditor{store: store, tracer: tracer, now: time.Now}
}

// Credit 给 (BusinessID, Identity) 增加 Count 个印花，会员不存在时创建。
// 任一步存储失败都直接返回失败，不重试。
func (c *StampCreditor) Credit(ctx context.Context, req CreditRequest) CreditResult {
	ctx, span := c.tracer.Start(ctx, "creditor.Credit")
	defer span.End()

	span.SetAttributes(
		attribute.String("business.id", req.BusinessID),
		attribute.String("identity.kind", string(req.Identity.Kind())),
		attribute.Int("stamp.count", req.Count),
		attribute.Bool("idempotent", req.IdempotencyKey != ""),
	)

	fail := func(err error, msg string) CreditResult {
		span.RecordError(err)
		span.SetStatus(codes.Error, msg)
		logger.Ctx(ctx).Error().Err(err).
			Str("business_id", req.BusinessID).
			Str("identity_kind", string(req.Identity.Kind())).
			Int("count", req.Count).
			Msg(msg)
		return failed(err)
	}

	if req.Count < domain.BaselineStamps {
		return fail(domain.ErrInvalidStampCount, "rejected credit with invalid count")
	}
	if err := req.Identity.Validate(); err != nil {
		return fail(err, "rejected credit with invalid identity")
	}

	// 1. 读取现有会员，查询失败是硬错误
	existing, err := c.store.GetMember(ctx, req.BusinessID, req.Identity)
	if err != nil {
		return fail(fmt.Errorf("member lookup failed: %w", err), "member lookup failed")
	}

	params := domain.UpsertMemberParams{
		BusinessID:     req.BusinessID,
		Identity:       req.Identity,
		ActiveDelta:    req.Count,
		LifetimeDelta:  req.Count,
		CustomerName:   req.CustomerName,
		IdempotencyKey: req.IdempotencyKey,
		At:             c.now(),
	}
	if existing == nil {
		params.ReferralCode = req.ReferralCode
		if params.ReferralCode == "" {
			params.ReferralCode = NewReferralCode()
		}
	}

	// 2/3. 存储侧原子增量写入 + 追加流水；写失败是硬错误
	if _, err := c.store.UpsertMember(ctx, params); err != nil {
		if errors.Is(err, domain.ErrDuplicateScan) {
			return c.duplicate(ctx, span, req)
		}
		return fail(fmt.Errorf("member write failed: %w", err), "member write failed")
	}

	// 4. 回读，以存储中的值为准，并识别"写入成功但实际未生效"的情况
	after, err := c.store.GetMember(ctx, req.BusinessID, req.Identity)
	if err != nil {
		return fail(fmt.Errorf("%w: %v", ErrBalanceUnverified, err), "balance re-read failed")
	}
	if after == nil {
		return fail(domain.ErrSilentWriteFailure, "member missing after write")
	}
	expectedLifetime := req.Count
	if existing != nil {
		expectedLifetime += existing.LifetimeStamps
	}
	// 并发发放只会让累计值更大，所以回读值小于预期说明本次写入丢失
	if after.LifetimeStamps < expectedLifetime {
		return fail(domain.ErrSilentWriteFailure, "lifetime stamps did not advance after write")
	}

	metrics.StampsCreditedTotal.Add(float64(req.Count))
	span.AddEvent("Stamps credited")
	logger.Ctx(ctx).Info().
		Str("business_id", req.BusinessID).
		Str("member_id", after.ID).
		Int("count", req.Count).
		Int("active", after.ActiveStamps).
		Int("lifetime", after.LifetimeStamps).
		Msg("stamps credited")

	return CreditResult{
		Success:          true,
		NewActiveBalance: after.ActiveStamps,
		LifetimeStamps:   after.LifetimeStamps,
		MemberID:         after.ID,
		Created:          existing == nil,
	}
}

// duplicate 处理幂等键重复：不改任何数据，返回当前余额
func (c *StampCreditor) duplicate(ctx context.Context, span trace.Span, req CreditRequest) CreditResult {
	span.AddEvent("Duplicate scan ignored")
	logger.Ctx(ctx).Info().
		Str("business_id", req.BusinessID).
		Str("idempotency_key", req.IdempotencyKey).
		Msg("duplicate scan, balance unchanged")

	current, err := c.store.GetMember(ctx, req.BusinessID, req.Identity)
	if err != nil {
		span.RecordError(err)
		return failed(fmt.Errorf("%w: %v", ErrBalanceUnverified, err))
	}
	if current == nil {
		return failed(domain.ErrSilentWriteFailure)
	}
	return CreditResult{
		Success:          true,
		Duplicate:        true,
		NewActiveBalance: current.ActiveStamps,
		LifetimeStamps:   current.LifetimeStamps,
		MemberID:         current.ID,
	}
}

// NewReferralCode 生成 8 位大写字母数字推荐码
func NewReferralCode() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}
