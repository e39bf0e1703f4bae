// internal/service/loyalty/domain/bonus.go
package domain

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// BonusType 决定加倍时段的计算方式
type BonusType string

const (
	BonusMultiplier BonusType = "multiplier" // 发放 bonusValue 个印花
	BonusFixed      BonusType = "fixed"      // 在基础 1 个之上额外加 bonusValue 个
)

// BaselineStamps 是没有任何加倍规则生效时每次扫码发放的印花数
const BaselineStamps = 1

// BonusPeriodRule 是商家配置的按星期几+时间段生效的加倍规则。
// StartTime/EndTime 是同一天内的本地时钟字符串，形如 "09:00"。
type BonusPeriodRule struct {
	ID         int64
	BusinessID string
	DayOfWeek  int // 0=周日 ... 6=周六，与 time.Weekday 一致
	StartTime  string
	EndTime    string
	BonusType  BonusType
	BonusValue float64
}

// Precedence 决定多条规则同时命中时选哪一条
type Precedence int

const (
	// PrecedenceHighestAward 选发放数最多的规则，相同时按输入顺序
	PrecedenceHighestAward Precedence = iota
	// PrecedenceFirstMatch 按输入顺序取第一条命中的规则
	PrecedenceFirstMatch
)

// ParsePrecedence 解析配置中的优先级名称，未知值回退为 PrecedenceHighestAward
func ParsePrecedence(s string) Precedence {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "first_match", "first-match", "first":
		return PrecedenceFirstMatch
	default:
		return PrecedenceHighestAward
	}
}

// BonusPeriodResolver 根据商家的加倍规则和时间点计算本次扫码应发放的印花数。
// 它是纯函数：不访问任何外部依赖。
type BonusPeriodResolver struct {
	Precedence Precedence
}

// Resolve 返回 now 时刻应发放的印花数，结果恒 >= 1。
// now 应已转换到商家时区。规则缺失、格式错误或计算出错都回退到基础值 1，
// 无法解析的加倍规则绝不能阻塞扫码。
func (r BonusPeriodResolver) Resolve(rules []BonusPeriodRule, now time.Time) (count int) {
	defer func() {
		if recover() != nil {
			count = BaselineStamps
		}
	}()

	day := int(now.Weekday())
	clock := now.Hour()*60 + now.Minute()

	best := 0
	for _, rule := range rules {
		if rule.DayOfWeek != day {
			continue
		}
		start, ok := parseClock(rule.StartTime)
		if !ok {
			continue
		}
		end, ok := parseClock(rule.EndTime)
		if !ok {
			continue
		}
		if clock < start || clock > end {
			continue
		}
		award, ok := rule.award()
		if !ok {
			continue
		}
		if r.Precedence == PrecedenceFirstMatch {
			return award
		}
		if award > best {
			best = award
		}
	}

	if best < BaselineStamps {
		return BaselineStamps
	}
	return best
}

// award 计算单条规则的发放数；规则值非法时返回 false
func (rule BonusPeriodRule) award() (int, bool) {
	v := rule.BonusValue
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0, false
	}
	var n int
	switch rule.BonusType {
	case BonusMultiplier:
		n = int(math.Floor(v))
	case BonusFixed:
		n = BaselineStamps + int(math.Floor(v))
	default:
		return 0, false
	}
	if n < BaselineStamps {
		n = BaselineStamps
	}
	return n, true
}

// parseClock 把 "HH:MM" 或 "HH:MM:SS" 解析为当天的分钟数，秒被忽略
func parseClock(s string) (int, bool) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 && len(parts) != 3 {
		return 0, false
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, false
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, false
	}
	if len(parts) == 3 {
		if sec, err := strconv.Atoi(parts[2]); err != nil || sec < 0 || sec > 59 {
			return 0, false
		}
	}
	return h*60 + m, true
}
