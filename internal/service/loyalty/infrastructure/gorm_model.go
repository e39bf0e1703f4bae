package infrastructure

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// BusinessModel 对应数据库中的 businesses 表（由后台维护，本服务只读）
type BusinessModel struct {
	ID                string `gorm:"primaryKey;size:64"`
	Name              string `gorm:"size:128"`
	Status            string `gorm:"size:16;not null;default:ACTIVE"`
	CooldownMinutes   int    `gorm:"not null;default:0"`
	StampValidityDays int    `gorm:"not null;default:0"`
	StampsForReward   int    `gorm:"not null;default:0"`
	Timezone          string `gorm:"size:64"`
	CreatedAt         time.Time
	UpdatedAt         time.Time

	// 关联关系
	BonusRules []BonusPeriodRuleModel `gorm:"foreignKey:BusinessID"`
}

func (BusinessModel) TableName() string {
	return "businesses"
}

// BonusPeriodRuleModel 对应 bonus_period_rules 表
type BonusPeriodRuleModel struct {
	ID         int64   `gorm:"primaryKey;autoIncrement"`
	BusinessID string  `gorm:"size:64;not null;index"`
	DayOfWeek  int     `gorm:"not null"`
	StartTime  string  `gorm:"size:8;not null"`
	EndTime    string  `gorm:"size:8;not null"`
	BonusType  string  `gorm:"size:16;not null"`
	BonusValue float64 `gorm:"type:decimal(10,2);not null"`
}

func (BonusPeriodRuleModel) TableName() string {
	return "bonus_period_rules"
}

// MemberModel 对应 members 表，(business_id, identity_kind, identity_ref) 唯一
type MemberModel struct {
	ID             string  `gorm:"primaryKey;size:36"`
	BusinessID     string  `gorm:"size:64;not null;uniqueIndex:uk_member_identity,priority:1"`
	IdentityKind   string  `gorm:"size:16;not null;uniqueIndex:uk_member_identity,priority:2"`
	IdentityRef    string  `gorm:"size:128;not null;uniqueIndex:uk_member_identity,priority:3"`
	UserID         *string `gorm:"size:128;index"` // 匿名会员为 NULL
	IsAnonymous    bool    `gorm:"not null"`
	ActiveStamps   int     `gorm:"not null;default:0"`
	LifetimeStamps int     `gorm:"not null;default:0"`
	CustomerName   string  `gorm:"size:128"`
	ReferralCode   string  `gorm:"size:16;index"`
	JoinedAt       time.Time
	UpdatedAt      time.Time
}

func (MemberModel) TableName() string {
	return "members"
}

func (m *MemberModel) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}

// StampEventModel 对应只追加的 stamp_events 表
type StampEventModel struct {
	ID             string     `gorm:"primaryKey;size:36"`
	MemberID       string     `gorm:"size:36;not null;index:idx_event_member_created,priority:1"`
	BusinessID     string     `gorm:"size:64;not null;index:idx_event_business_expiry,priority:1"`
	Stamps         int        `gorm:"not null"`
	IdempotencyKey *string    `gorm:"size:128;uniqueIndex"` // NULL 不参与唯一约束
	CreatedAt      time.Time  `gorm:"index:idx_event_member_created,priority:2;index:idx_event_business_expiry,priority:3"`
	ExpiredAt      *time.Time `gorm:"index:idx_event_business_expiry,priority:2"`
}

func (StampEventModel) TableName() string {
	return "stamp_events"
}

func (e *StampEventModel) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	return nil
}

// ExpiredStampsLogModel 对应 expired_stamps_log 审计表
type ExpiredStampsLogModel struct {
	ID            string    `gorm:"primaryKey;size:36"`
	BusinessID    string    `gorm:"size:64;not null;index:idx_expired_business_at,priority:1"`
	MemberID      string    `gorm:"size:36;not null"`
	CustomerName  string    `gorm:"size:128"`
	StampsExpired int       `gorm:"not null"`
	ExpiredAt     time.Time `gorm:"index:idx_expired_business_at,priority:2"`
}

func (ExpiredStampsLogModel) TableName() string {
	return "expired_stamps_log"
}

func (l *ExpiredStampsLogModel) BeforeCreate(tx *gorm.DB) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	return nil
}

// AllModels 返回需要迁移的全部模型
func AllModels() []interface{} {
	return []interface{}{
		&BusinessModel{},
		&BonusPeriodRuleModel{},
		&MemberModel{},
		&StampEventModel{},
		&ExpiredStampsLogModel{},
	}
}
