package infrastructure

import (
	"context"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"stampcard/internal/pkg/logger"
	"stampcard/internal/service/loyalty/domain"
)

// GormMemberStore 是 domain.MemberStore 的 GORM 实现
type GormMemberStore struct {
	db *gorm.DB
}

// NewGormMemberStore 创建一个新的 GORM 仓储实例
func NewGormMemberStore(db *gorm.DB) *GormMemberStore {
	return &GormMemberStore{db: db}
}

// Migrate 自动建表，供 stamp-admin migrate 和测试使用
func Migrate(db *gorm.DB) error {
	return errors.Wrap(db.AutoMigrate(AllModels()...), "auto migrate loyalty schema")
}

// GetBusiness 读取商家及其加倍规则
func (r *GormMemberStore) GetBusiness(ctx context.Context, businessID string) (*domain.Business, error) {
	var model BusinessModel
	err := r.db.WithContext(ctx).
		Preload("BonusRules", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		Where("id = ?", businessID).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrBusinessNotFound
		}
		return nil, errors.Wrapf(err, "load business %s", businessID)
	}
	return ToDomainBusiness(&model), nil
}

// GetMember 查找会员，不存在时返回 (nil, nil)
func (r *GormMemberStore) GetMember(ctx context.Context, businessID string, identity domain.Identity) (*domain.Member, error) {
	var model MemberModel
	err := whereIdentity(r.db.WithContext(ctx), businessID, identity).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "load member %s@%s", identity, businessID)
	}
	return ToDomainMember(&model), nil
}

// UpsertMember 在一个事务内完成余额增量写入与流水追加。
// 增量通过 SQL 表达式完成，并发扫码不会互相覆盖。
func (r *GormMemberStore) UpsertMember(ctx context.Context, p domain.UpsertMemberParams) (*domain.Member, error) {
	at := p.At.UTC()
	var saved MemberModel

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if p.IdempotencyKey != "" {
			var seen int64
			if err := tx.Model(&StampEventModel{}).Where("idempotency_key = ?", p.IdempotencyKey).Count(&seen).Error; err != nil {
				return errors.Wrap(err, "check idempotency key")
			}
			if seen > 0 {
				return domain.ErrDuplicateScan
			}
		}

		updated, err := r.increment(tx, p, at)
		if err != nil {
			return err
		}
		if !updated {
			model := FromUpsertParams(p)
			model.JoinedAt, model.UpdatedAt = at, at
			if err := tx.Create(model).Error; err != nil {
				if !isDuplicateKeyErr(err) {
					return errors.Wrap(err, "create member")
				}
				// 并发的首次扫码抢先建了会员，退回增量写入
				if updated, err = r.increment(tx, p, at); err != nil {
					return err
				}
				if !updated {
					return errors.New("member vanished after concurrent create")
				}
			}
		}

		if err := whereIdentity(tx, p.BusinessID, p.Identity).First(&saved).Error; err != nil {
			return errors.Wrap(err, "reload member in transaction")
		}

		event := &StampEventModel{
			MemberID:   saved.ID,
			BusinessID: p.BusinessID,
			Stamps:     p.LifetimeDelta,
			CreatedAt:  at,
		}
		if p.IdempotencyKey != "" {
			key := p.IdempotencyKey
			event.IdempotencyKey = &key
		}
		if err := tx.Create(event).Error; err != nil {
			if isDuplicateKeyErr(err) {
				return domain.ErrDuplicateScan
			}
			return errors.Wrap(err, "append stamp event")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ToDomainMember(&saved), nil
}

func (r *GormMemberStore) increment(tx *gorm.DB, p domain.UpsertMemberParams, at time.Time) (bool, error) {
	updates := map[string]interface{}{
		"active_stamps":   gorm.Expr("active_stamps + ?", p.ActiveDelta),
		"lifetime_stamps": gorm.Expr("lifetime_stamps + ?", p.LifetimeDelta),
		"updated_at":      at,
	}
	if p.CustomerName != "" {
		updates["customer_name"] = p.CustomerName
	}
	res := whereIdentity(tx.Model(&MemberModel{}), p.BusinessID, p.Identity).Updates(updates)
	if res.Error != nil {
		return false, errors.Wrap(res.Error, "increment member stamps")
	}
	return res.RowsAffected > 0, nil
}

// GetLatestStampEvent 返回会员最近一条流水
func (r *GormMemberStore) GetLatestStampEvent(ctx context.Context, memberID string) (*domain.StampEvent, error) {
	var models []StampEventModel
	err := r.db.WithContext(ctx).
		Where("member_id = ?", memberID).
		Order("created_at DESC").
		Limit(1).
		Find(&models).Error
	if err != nil {
		return nil, errors.Wrapf(err, "load latest stamp event of %s", memberID)
	}
	if len(models) == 0 {
		return nil, nil
	}
	return ToDomainStampEvent(&models[0]), nil
}

type expiringStamps struct {
	MemberID string
	Expired  int
}

// RunExpirySweep 在一个事务里处理所有设置了有效期的商家：
// 早于截止时间且未过期的流水被标记为过期，对应会员余额扣减（不低于 0），
// 每个实际扣减的会员写一条审计日志。任何一步失败都整体回滚。
func (r *GormMemberStore) RunExpirySweep(ctx context.Context, now time.Time) (int, error) {
	now = now.UTC()
	total := 0

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var businesses []BusinessModel
		if err := tx.Where("stamp_validity_days > 0").Find(&businesses).Error; err != nil {
			return errors.Wrap(err, "list businesses with stamp validity")
		}

		for _, b := range businesses {
			cutoff := now.Add(-time.Duration(b.StampValidityDays) * 24 * time.Hour)

			var rows []expiringStamps
			err := tx.Model(&StampEventModel{}).
				Select("member_id, SUM(stamps) AS expired").
				Where("business_id = ? AND expired_at IS NULL AND created_at < ?", b.ID, cutoff).
				Group("member_id").
				Scan(&rows).Error
			if err != nil {
				return errors.Wrapf(err, "aggregate expiring stamps of %s", b.ID)
			}

			for _, row := range rows {
				n, err := expireMember(tx, b.ID, row, cutoff, now)
				if err != nil {
					return err
				}
				total += n
			}
			if len(rows) > 0 {
				logger.Ctx(ctx).Debug().Str("business_id", b.ID).Int("members", len(rows)).Msg("expired stamps for business")
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

func expireMember(tx *gorm.DB, businessID string, row expiringStamps, cutoff, now time.Time) (int, error) {
	var member MemberModel
	if err := tx.Where("id = ?", row.MemberID).First(&member).Error; err != nil {
		return 0, errors.Wrapf(err, "load member %s for expiry", row.MemberID)
	}

	deduct := row.Expired
	if member.ActiveStamps < deduct {
		deduct = member.ActiveStamps
	}

	if deduct > 0 {
		err := tx.Model(&MemberModel{}).Where("id = ?", member.ID).Updates(map[string]interface{}{
			"active_stamps": gorm.Expr("CASE WHEN active_stamps > ? THEN active_stamps - ? ELSE 0 END", deduct, deduct),
			"updated_at":    now,
		}).Error
		if err != nil {
			return 0, errors.Wrapf(err, "deduct expired stamps of %s", member.ID)
		}

		entry := &ExpiredStampsLogModel{
			BusinessID:    businessID,
			MemberID:      member.ID,
			CustomerName:  member.CustomerName,
			StampsExpired: deduct,
			ExpiredAt:     now,
		}
		if err := tx.Create(entry).Error; err != nil {
			return 0, errors.Wrap(err, "write expired stamps log")
		}
	}

	err := tx.Model(&StampEventModel{}).
		Where("member_id = ? AND expired_at IS NULL AND created_at < ?", member.ID, cutoff).
		Update("expired_at", now).Error
	if err != nil {
		return 0, errors.Wrapf(err, "mark stamp events of %s expired", member.ID)
	}
	return deduct, nil
}

// ListExpiredLog 按时间倒序列出商家的过期审计记录
func (r *GormMemberStore) ListExpiredLog(ctx context.Context, businessID string, limit int) ([]domain.ExpiredStampsLogEntry, error) {
	var models []ExpiredStampsLogModel
	err := r.db.WithContext(ctx).
		Where("business_id = ?", businessID).
		Order("expired_at DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, errors.Wrapf(err, "list expired log of %s", businessID)
	}
	entries := make([]domain.ExpiredStampsLogEntry, 0, len(models))
	for _, m := range models {
		entries = append(entries, domain.ExpiredStampsLogEntry{
			ID:            m.ID,
			BusinessID:    m.BusinessID,
			MemberID:      m.MemberID,
			CustomerName:  m.CustomerName,
			StampsExpired: m.StampsExpired,
			ExpiredAt:     m.ExpiredAt,
		})
	}
	return entries, nil
}

func whereIdentity(db *gorm.DB, businessID string, identity domain.Identity) *gorm.DB {
	return db.Where("business_id = ? AND identity_kind = ? AND identity_ref = ?",
		businessID, string(identity.Kind()), identity.Ref())
}

// isDuplicateKeyErr 兼容 MySQL 1062 与 SQLite 的唯一约束错误
func isDuplicateKeyErr(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
