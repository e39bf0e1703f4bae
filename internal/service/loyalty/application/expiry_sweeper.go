// internal/service/loyalty/application/expiry_sweeper.go
package application

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/panics"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"stampcard/internal/pkg/logger"
	"stampcard/internal/pkg/metrics"
	"stampcard/internal/service/loyalty/domain"
)

const defaultTickTimeout = 5 * time.Minute

// ExpirySweeper 是周期执行过期清扫的单例。
// 过期的具体计算由存储侧的原子操作完成，这里只负责调度：
// 不重复启动定时器、不重叠执行、单次失败不影响后续 tick。
type ExpirySweeper struct {
	store     domain.MemberStore
	lease     domain.Lease // 为空时只有进程内互斥
	publisher domain.LedgerPublisher
	tracer    trace.Tracer

	tickTimeout time.Duration
	now         func() time.Time

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	inFlight atomic.Bool
}

type SweeperOption func(*ExpirySweeper)

// WithLease 设置跨进程租约
func WithLease(lease domain.Lease) SweeperOption {
	return func(s *ExpirySweeper) { s.lease = lease }
}

func WithLedgerPublisher(p domain.LedgerPublisher) SweeperOption {
	return func(s *ExpirySweeper) { s.publisher = p }
}

func WithTickTimeout(d time.Duration) SweeperOption {
	return func(s *ExpirySweeper) {
		if d > 0 {
			s.tickTimeout = d
		}
	}
}

func WithSweeperClock(now func() time.Time) SweeperOption {
	return func(s *ExpirySweeper) { s.now = now }
}

func NewExpirySweeper(store domain.MemberStore, tracer trace.Tracer, opts ...SweeperOption) *ExpirySweeper {
	s := &ExpirySweeper{
		store:       store,
		tracer:      tracer,
		tickTimeout: defaultTickTimeout,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start 立即执行一次清扫，然后每 intervalMinutes 分钟执行一次。
// 已在运行时什么都不做。
func (s *ExpirySweeper) Start(ctx context.Context, intervalMinutes int) error {
	if intervalMinutes <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidInterval, intervalMinutes)
	}
	return s.StartEvery(ctx, time.Duration(intervalMinutes)*time.Minute)
}

// StartEvery 与 Start 相同，但以任意时长作为周期
func (s *ExpirySweeper) StartEvery(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidInterval, interval)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		logger.Ctx(ctx).Info().Msg("expiry sweeper already running, ignoring start")
		return nil
	}

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.running = true
	s.cancel = cancel
	s.done = done

	go s.loop(loopCtx, interval, done)

	logger.Ctx(ctx).Info().Str("interval", interval.String()).Msg("✅ Expiry sweeper started")
	return nil
}

// Stop 取消定时器并等待循环退出。正在执行的 tick 会完整跑完，
// Stop 返回后不会再有新的 tick。未运行时什么都不做。
func (s *ExpirySweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	cancel()
	<-done
	logger.Ctx(context.Background()).Info().Msg("🛑 Expiry sweeper stopped")
}

func (s *ExpirySweeper) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *ExpirySweeper) loop(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer func() {
		// 父 context 被取消导致退出时，同样把状态复位，允许再次 Start
		s.mu.Lock()
		if s.done == done {
			s.running = false
			s.cancel()
			s.cancel, s.done = nil, nil
		}
		s.mu.Unlock()
		close(done)
	}()

	s.tick(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// 取消与 tick 同时就绪时，select 可能选中 tick，这里再检查一次
			if ctx.Err() != nil {
				return
			}
			s.tick(ctx)
		}
	}
}

// tick 执行一次清扫并吞掉所有错误和 panic，保证调度继续
func (s *ExpirySweeper) tick(loopCtx context.Context) {
	// 进行中的清扫不受 Stop 打断，只受单次超时约束
	ctx, cancel := context.WithTimeout(context.WithoutCancel(loopCtx), s.tickTimeout)
	defer cancel()

	var pc panics.Catcher
	pc.Try(func() {
		if _, err := s.RunOnce(ctx); err != nil {
			logger.Ctx(ctx).Error().Err(err).Msg("expiry sweep tick failed, will retry on next tick")
		}
	})
	if r := pc.Recovered(); r != nil {
		metrics.SweepRunsTotal.WithLabelValues("failed").Inc()
		logger.Ctx(ctx).Error().Str("panic", fmt.Sprint(r.Value)).Msg("expiry sweep tick panicked")
	}
}

// RunOnce 执行一次清扫并返回过期印花数。
// 同一进程内与另一次清扫重叠时返回 ErrSweepInProgress；租约被他人持有时返回 ErrLeaseNotAcquired。
func (s *ExpirySweeper) RunOnce(ctx context.Context) (int, error) {
	if !s.inFlight.CompareAndSwap(false, true) {
		metrics.SweepRunsTotal.WithLabelValues("skipped").Inc()
		return 0, ErrSweepInProgress
	}
	defer s.inFlight.Store(false)

	ctx, span := s.tracer.Start(ctx, "sweeper.RunOnce")
	defer span.End()

	if s.lease != nil {
		acquired, err := s.lease.TryAcquire(ctx)
		if err != nil {
			span.RecordError(err)
			metrics.SweepRunsTotal.WithLabelValues("failed").Inc()
			return 0, fmt.Errorf("failed to acquire sweep lease: %w", err)
		}
		if !acquired {
			span.AddEvent("Lease held elsewhere, sweep skipped")
			metrics.SweepRunsTotal.WithLabelValues("skipped").Inc()
			logger.Ctx(ctx).Info().Msg("sweep lease held by another process, skipping tick")
			return 0, ErrLeaseNotAcquired
		}
		defer func() {
			if err := s.lease.Release(ctx); err != nil {
				logger.Ctx(ctx).Warn().Err(err).Msg("failed to release sweep lease")
			}
		}()
	}

	started := time.Now()
	sweptAt := s.now()
	expired, err := s.store.RunExpirySweep(ctx, sweptAt)
	metrics.SweepDuration.Observe(time.Since(started).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "expiry sweep failed")
		metrics.SweepRunsTotal.WithLabelValues("failed").Inc()
		return 0, err
	}

	span.SetAttributes(attribute.Int("stamps.expired", expired))
	metrics.SweepRunsTotal.WithLabelValues("ok").Inc()
	metrics.StampsExpiredTotal.Add(float64(expired))
	logger.Ctx(ctx).Info().Int("expired", expired).Msg("expiry sweep finished")

	if expired > 0 && s.publisher != nil {
		event := &domain.StampsExpired{SweepID: uuid.NewString(), ExpiredCount: expired, SweptAt: sweptAt}
		if err := s.publisher.PublishStampsExpired(ctx, event); err != nil {
			span.RecordError(err)
			logger.Ctx(ctx).Warn().Err(err).Msg("failed to publish stamps expired event")
		}
	}
	return expired, nil
}
