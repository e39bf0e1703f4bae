package application

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"

	"stampcard/internal/service/loyalty/domain"
)

var testTracer = otel.Tracer("loyalty-test")

// memStore 是 domain.MemberStore 的内存实现，支持按方法注入错误
type memStore struct {
	mu         sync.Mutex
	businesses map[string]*domain.Business
	members    map[string]*domain.Member // key: businessID|identity
	events     []domain.StampEvent
	keys       map[string]bool

	getMemberErr   error
	getMemberCalls int
	failGetAfter   int // >0 时第 N 次及之后的 GetMember 返回 getMemberErr
	upsertErr      error
	upsertNoop     bool // 模拟"写入返回成功但未生效"
	latestErr      error

	sweepCalls   atomic.Int32
	sweepResult  int
	sweepErr     error
	sweepPanic   bool
	sweepBlock   chan struct{}
	sweepStarted chan struct{}
}

func newMemStore() *memStore {
	return &memStore{
		businesses: map[string]*domain.Business{},
		members:    map[string]*domain.Member{},
		keys:       map[string]bool{},
	}
}

func memberKey(businessID string, id domain.Identity) string {
	return businessID + "|" + id.String()
}

func (s *memStore) GetBusiness(_ context.Context, businessID string) (*domain.Business, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.businesses[businessID]
	if !ok {
		return nil, domain.ErrBusinessNotFound
	}
	cp := *b
	return &cp, nil
}

func (s *memStore) GetMember(_ context.Context, businessID string, id domain.Identity) (*domain.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getMemberCalls++
	if s.getMemberErr != nil && (s.failGetAfter == 0 || s.getMemberCalls >= s.failGetAfter) {
		return nil, s.getMemberErr
	}
	m, ok := s.members[memberKey(businessID, id)]
	if !ok {
		return nil, nil
	}
	cp := *m
	return &cp, nil
}

func (s *memStore) UpsertMember(_ context.Context, p domain.UpsertMemberParams) (*domain.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.upsertErr != nil {
		return nil, s.upsertErr
	}
	if p.IdempotencyKey != "" && s.keys[p.IdempotencyKey] {
		return nil, domain.ErrDuplicateScan
	}
	if s.upsertNoop {
		return &domain.Member{}, nil
	}

	key := memberKey(p.BusinessID, p.Identity)
	m, ok := s.members[key]
	if !ok {
		m = &domain.Member{
			ID:           fmt.Sprintf("m-%d", len(s.members)+1),
			BusinessID:   p.BusinessID,
			Identity:     p.Identity,
			CustomerName: p.CustomerName,
			ReferralCode: p.ReferralCode,
			JoinedAt:     p.At,
		}
		s.members[key] = m
	}
	m.ActiveStamps += p.ActiveDelta
	m.LifetimeStamps += p.LifetimeDelta
	m.UpdatedAt = p.At

	if p.IdempotencyKey != "" {
		s.keys[p.IdempotencyKey] = true
	}
	s.events = append(s.events, domain.StampEvent{
		ID: fmt.Sprintf("e-%d", len(s.events)+1), MemberID: m.ID, BusinessID: p.BusinessID,
		Count: p.ActiveDelta, IdempotencyKey: p.IdempotencyKey, CreatedAt: p.At,
	})
	cp := *m
	return &cp, nil
}

func (s *memStore) GetLatestStampEvent(_ context.Context, memberID string) (*domain.StampEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latestErr != nil {
		return nil, s.latestErr
	}
	for i := len(s.events) - 1; i >= 0; i-- {
		if s.events[i].MemberID == memberID {
			e := s.events[i]
			return &e, nil
		}
	}
	return nil, nil
}

func (s *memStore) RunExpirySweep(_ context.Context, _ time.Time) (int, error) {
	s.sweepCalls.Add(1)
	if s.sweepStarted != nil {
		select {
		case s.sweepStarted <- struct{}{}:
		default:
		}
	}
	if s.sweepBlock != nil {
		<-s.sweepBlock
	}
	if s.sweepPanic {
		panic("boom")
	}
	return s.sweepResult, s.sweepErr
}

func (s *memStore) seedMember(businessID string, id domain.Identity, active, lifetime int) *domain.Member {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := &domain.Member{
		ID:             fmt.Sprintf("seed-%d", len(s.members)+1),
		BusinessID:     businessID,
		Identity:       id,
		ActiveStamps:   active,
		LifetimeStamps: lifetime,
	}
	s.members[memberKey(businessID, id)] = m
	return m
}

func (s *memStore) seedEvent(memberID string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, domain.StampEvent{ID: "seed-event", MemberID: memberID, Count: 1, CreatedAt: at})
}

// memDevices 是 domain.DeviceCache 的内存实现
type memDevices struct {
	mu     sync.Mutex
	scans  map[string]time.Time
	ttls   map[string]time.Duration
	getErr error
	setErr error
}

func newMemDevices() *memDevices {
	return &memDevices{scans: map[string]time.Time{}, ttls: map[string]time.Duration{}}
}

func (d *memDevices) GetLastScan(_ context.Context, token, businessID string) (*time.Time, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.getErr != nil {
		return nil, d.getErr
	}
	at, ok := d.scans[token+"|"+businessID]
	if !ok {
		return nil, nil
	}
	return &at, nil
}

func (d *memDevices) SetLastScan(_ context.Context, token, businessID string, at time.Time, ttl time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.setErr != nil {
		return d.setErr
	}
	d.scans[token+"|"+businessID] = at
	d.ttls[token+"|"+businessID] = ttl
	return nil
}

type fakeLease struct {
	acquire    bool
	err        error
	acquired   atomic.Int32
	released   atomic.Int32
	releaseErr error
}

func (l *fakeLease) TryAcquire(context.Context) (bool, error) {
	if l.err != nil {
		return false, l.err
	}
	if l.acquire {
		l.acquired.Add(1)
	}
	return l.acquire, nil
}

func (l *fakeLease) Release(context.Context) error {
	l.released.Add(1)
	return l.releaseErr
}

type fakePublisher struct {
	mu       sync.Mutex
	credited []*domain.StampsCredited
	expired  []*domain.StampsExpired
	err      error
}

func (p *fakePublisher) PublishStampsCredited(_ context.Context, e *domain.StampsCredited) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.credited = append(p.credited, e)
	return p.err
}

func (p *fakePublisher) PublishStampsExpired(_ context.Context, e *domain.StampsExpired) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expired = append(p.expired, e)
	return p.err
}

func (p *fakePublisher) expiredCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.expired)
}
