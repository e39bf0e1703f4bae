// internal/pkg/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "stampcard"

var (
	// ScansTotal 按处理结果统计扫码次数：credited / cooldown / duplicate / failed / rejected
	ScansTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "scans_total",
		Help:      "Scan events by outcome.",
	}, []string{"outcome"})

	// StampsCreditedTotal 累计发放的印花数
	StampsCreditedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stamps_credited_total",
		Help:      "Stamps credited to members.",
	})

	// CooldownLookupErrors 冷却查询失败次数，按失败策略区分
	CooldownLookupErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cooldown_lookup_errors_total",
		Help:      "Cooldown lookups that failed and were resolved by the failure policy.",
	}, []string{"policy"})

	BonusAppliedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "bonus_applied_total",
		Help:      "Scans that received more than the baseline stamp.",
	})

	// SweepRunsTotal 过期清扫执行次数：ok / failed / skipped
	SweepRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "expiry_sweep_runs_total",
		Help:      "Expiry sweep ticks by outcome.",
	}, []string{"outcome"})

	StampsExpiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stamps_expired_total",
		Help:      "Stamps retired by the expiry sweep.",
	})

	SweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "expiry_sweep_duration_seconds",
		Help:      "Duration of a single expiry sweep.",
		Buckets:   prometheus.DefBuckets,
	})
)
