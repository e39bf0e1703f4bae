package infrastructure

import (
	"stampcard/internal/service/loyalty/domain"
)

// ToDomainBusiness 将数据库模型转换为领域模型
func ToDomainBusiness(model *BusinessModel) *domain.Business {
	if model == nil {
		return nil
	}
	rules := make([]domain.BonusPeriodRule, 0, len(model.BonusRules))
	for _, r := range model.BonusRules {
		rules = append(rules, domain.BonusPeriodRule{
			ID:         r.ID,
			BusinessID: r.BusinessID,
			DayOfWeek:  r.DayOfWeek,
			StartTime:  r.StartTime,
			EndTime:    r.EndTime,
			BonusType:  domain.BonusType(r.BonusType),
			BonusValue: r.BonusValue,
		})
	}
	return &domain.Business{
		ID:                model.ID,
		Name:              model.Name,
		Status:            domain.BusinessStatus(model.Status),
		CooldownMinutes:   model.CooldownMinutes,
		StampValidityDays: model.StampValidityDays,
		StampsForReward:   model.StampsForReward,
		Timezone:          model.Timezone,
		BonusRules:        rules,
	}
}

// ToDomainMember 将数据库模型转换为领域模型
func ToDomainMember(model *MemberModel) *domain.Member {
	if model == nil {
		return nil
	}
	identity := domain.Authenticated(model.IdentityRef)
	if domain.IdentityKind(model.IdentityKind) == domain.IdentityAnonymous {
		identity = domain.Anonymous(model.IdentityRef)
	}
	return &domain.Member{
		ID:             model.ID,
		BusinessID:     model.BusinessID,
		Identity:       identity,
		ActiveStamps:   model.ActiveStamps,
		LifetimeStamps: model.LifetimeStamps,
		CustomerName:   model.CustomerName,
		ReferralCode:   model.ReferralCode,
		JoinedAt:       model.JoinedAt,
		UpdatedAt:      model.UpdatedAt,
	}
}

// FromUpsertParams 为首次扫码构造新的会员模型
func FromUpsertParams(p domain.UpsertMemberParams) *MemberModel {
	model := &MemberModel{
		BusinessID:     p.BusinessID,
		IdentityKind:   string(p.Identity.Kind()),
		IdentityRef:    p.Identity.Ref(),
		IsAnonymous:    p.Identity.IsAnonymous(),
		ActiveStamps:   p.ActiveDelta,
		LifetimeStamps: p.LifetimeDelta,
		CustomerName:   p.CustomerName,
		ReferralCode:   p.ReferralCode,
		JoinedAt:       p.At,
		UpdatedAt:      p.At,
	}
	if userID, ok := p.Identity.UserID(); ok {
		model.UserID = &userID
	}
	return model
}

// ToDomainStampEvent 将数据库模型转换为领域模型
func ToDomainStampEvent(model *StampEventModel) *domain.StampEvent {
	if model == nil {
		return nil
	}
	event := &domain.StampEvent{
		ID:         model.ID,
		MemberID:   model.MemberID,
		BusinessID: model.BusinessID,
		Count:      model.Stamps,
		CreatedAt:  model.CreatedAt,
		ExpiredAt:  model.ExpiredAt,
	}
	if model.IdempotencyKey != nil {
		event.IdempotencyKey = *model.IdempotencyKey
	}
	return event
}
