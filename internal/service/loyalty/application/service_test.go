package application

import (
	"context"
	"errors"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stampcard/internal/service/loyalty/domain"
)

// 2024-01-02 10:00 UTC 是周二
var tuesdayTen = time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)

type scanFixture struct {
	store     *memStore
	devices   *memDevices
	publisher *fakePublisher
	svc       *ScanService
	now       time.Time
}

func newScanFixture(t *testing.T, business *domain.Business) *scanFixture {
	t.Helper()
	f := &scanFixture{
		store:     newMemStore(),
		devices:   newMemDevices(),
		publisher: &fakePublisher{},
		now:       tuesdayTen,
	}
	if business != nil {
		f.store.businesses[business.ID] = business
	}
	nowFn := func() time.Time { return f.now }

	gate := NewCooldownGate(f.store, f.devices, testTracer, WithCooldownClock(nowFn))
	creditor := NewStampCreditor(f.store, testTracer)
	creditor.now = nowFn
	f.svc = NewScanService(f.store, gate, domain.BonusPeriodResolver{}, creditor, f.publisher, testTracer)
	f.svc.now = nowFn
	return f
}

func activeBusiness() *domain.Business {
	return &domain.Business{
		ID:              "cafe",
		Status:          domain.BusinessActive,
		CooldownMinutes: 2,
		StampsForReward: 3,
	}
}

func TestScan_FirstAnonymousScan(t *testing.T) {
	f := newScanFixture(t, activeBusiness())

	res, err := f.svc.Scan(context.Background(), &ScanRequest{BusinessID: "cafe", IdentityKind: "anonymous", IdentityRef: "dev-1"})
	require.NoError(t, err)
	assert.True(t, res.Credited)
	assert.Equal(t, 1, res.StampsAwarded)
	assert.Equal(t, 1, res.NewActiveBalance)
	assert.Equal(t, 1, res.LifetimeStamps)
	assert.False(t, res.RewardAvailable)

	require.Len(t, f.publisher.credited, 1)
	assert.Equal(t, res.MemberID, f.publisher.credited[0].MemberID)
}

func TestScan_AnonymousSecondScanHitsCooldown(t *testing.T) {
	f := newScanFixture(t, activeBusiness())
	req := &ScanRequest{BusinessID: "cafe", IdentityKind: "anonymous", IdentityRef: "dev-1"}

	_, err := f.svc.Scan(context.Background(), req)
	require.NoError(t, err)

	f.now = f.now.Add(90 * time.Second)
	res, err := f.svc.Scan(context.Background(), req)
	assert.ErrorIs(t, err, domain.ErrInCooldown)
	assert.True(t, res.InCooldown)
	assert.Equal(t, 30, res.RemainingSeconds)
	assert.False(t, res.Credited)

	f.now = f.now.Add(30 * time.Second)
	res, err = f.svc.Scan(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 2, res.NewActiveBalance)
}

func TestScan_AuthenticatedCooldownComesFromLedger(t *testing.T) {
	f := newScanFixture(t, activeBusiness())
	req := &ScanRequest{BusinessID: "cafe", IdentityKind: "authenticated", IdentityRef: "user-1"}

	_, err := f.svc.Scan(context.Background(), req)
	require.NoError(t, err)
	assert.Empty(t, f.devices.scans, "authenticated scans are not double-written to the device cache")

	f.now = f.now.Add(time.Minute)
	_, err = f.svc.Scan(context.Background(), req)
	assert.ErrorIs(t, err, domain.ErrInCooldown)
}

func TestScan_BonusPeriodApplied(t *testing.T) {
	b := activeBusiness()
	b.BonusRules = []domain.BonusPeriodRule{
		{DayOfWeek: 2, StartTime: "09:00", EndTime: "11:00", BonusType: domain.BonusMultiplier, BonusValue: 3},
	}
	f := newScanFixture(t, b)

	res, err := f.svc.Scan(context.Background(), &ScanRequest{BusinessID: "cafe", IdentityKind: "authenticated", IdentityRef: "u"})
	require.NoError(t, err)
	assert.Equal(t, 3, res.StampsAwarded)
	assert.Equal(t, 3, res.NewActiveBalance)
	assert.True(t, res.RewardAvailable)
}

func TestScan_BonusUsesBusinessTimezone(t *testing.T) {
	b := activeBusiness()
	b.Timezone = "Asia/Shanghai" // UTC 10:00 = 上海 18:00
	b.BonusRules = []domain.BonusPeriodRule{
		{DayOfWeek: 2, StartTime: "17:00", EndTime: "19:00", BonusType: domain.BonusFixed, BonusValue: 1},
	}
	f := newScanFixture(t, b)

	res, err := f.svc.Scan(context.Background(), &ScanRequest{BusinessID: "cafe", IdentityKind: "authenticated", IdentityRef: "u"})
	require.NoError(t, err)
	assert.Equal(t, 2, res.StampsAwarded)
}

func TestScan_DuplicateEventIsNotCreditedTwice(t *testing.T) {
	b := activeBusiness()
	b.CooldownMinutes = 0
	f := newScanFixture(t, b)
	req := &ScanRequest{EventID: "evt-1", BusinessID: "cafe", IdentityKind: "anonymous", IdentityRef: "dev"}

	_, err := f.svc.Scan(context.Background(), req)
	require.NoError(t, err)
	res, err := f.svc.Scan(context.Background(), req)
	require.NoError(t, err)

	assert.True(t, res.Duplicate)
	assert.False(t, res.Credited)
	assert.Equal(t, 1, res.NewActiveBalance)
	assert.Len(t, f.publisher.credited, 1)
}

func TestScan_RejectsUnknownAndInactiveBusiness(t *testing.T) {
	f := newScanFixture(t, &domain.Business{ID: "closed", Status: domain.BusinessInactive})

	_, err := f.svc.Scan(context.Background(), &ScanRequest{BusinessID: "nope", IdentityKind: "anonymous", IdentityRef: "d"})
	assert.ErrorIs(t, err, domain.ErrBusinessNotFound)

	_, err = f.svc.Scan(context.Background(), &ScanRequest{BusinessID: "closed", IdentityKind: "anonymous", IdentityRef: "d"})
	assert.ErrorIs(t, err, domain.ErrBusinessInactive)
	assert.Empty(t, f.store.members)
}

func TestScan_InvalidIdentity(t *testing.T) {
	f := newScanFixture(t, activeBusiness())
	_, err := f.svc.Scan(context.Background(), &ScanRequest{BusinessID: "cafe", IdentityKind: "bot", IdentityRef: "x"})
	assert.ErrorIs(t, err, domain.ErrInvalidIdentity)
}

func TestScan_CreditFailureIsReported(t *testing.T) {
	f := newScanFixture(t, activeBusiness())
	f.store.upsertErr = errors.New("disk full")

	res, err := f.svc.Scan(context.Background(), &ScanRequest{BusinessID: "cafe", IdentityKind: "anonymous", IdentityRef: "d"})
	assert.ErrorContains(t, err, "disk full")
	assert.False(t, res.Credited)
	assert.Empty(t, f.devices.scans, "failed credit must not start a cooldown")
	assert.Empty(t, f.publisher.credited)
}

func TestScan_PublishFailureDoesNotFailScan(t *testing.T) {
	f := newScanFixture(t, activeBusiness())
	f.publisher.err = errors.New("broker down")

	res, err := f.svc.Scan(context.Background(), &ScanRequest{BusinessID: "cafe", IdentityKind: "anonymous", IdentityRef: "d"})
	require.NoError(t, err)
	assert.True(t, res.Credited)
}

func TestHandleScanEvent_BusinessOutcomesAreNotErrors(t *testing.T) {
	f := newScanFixture(t, activeBusiness())
	event := &domain.ScanRequested{EventID: "e1", BusinessID: "cafe", IdentityKind: domain.IdentityAnonymous, IdentityRef: "d"}

	require.NoError(t, f.svc.HandleScanEvent(context.Background(), event))
	event.EventID = "e2"
	assert.NoError(t, f.svc.HandleScanEvent(context.Background(), event), "cooldown is a normal outcome")

	f.store.upsertErr = errors.New("db down")
	f.now = f.now.Add(time.Hour)
	event.EventID = "e3"
	assert.Error(t, f.svc.HandleScanEvent(context.Background(), event))
}

func TestCheckCooldownAndGetMember(t *testing.T) {
	f := newScanFixture(t, activeBusiness())
	user := domain.Authenticated("u1")

	_, err := f.svc.GetMember(context.Background(), "cafe", user)
	assert.ErrorIs(t, err, domain.ErrMemberNotFound)

	_, err = f.svc.Scan(context.Background(), &ScanRequest{BusinessID: "cafe", IdentityKind: "authenticated", IdentityRef: "u1"})
	require.NoError(t, err)

	status, err := f.svc.CheckCooldown(context.Background(), "cafe", user)
	require.NoError(t, err)
	assert.True(t, status.InCooldown)
	assert.Equal(t, 120, status.RemainingSeconds)

	view, err := f.svc.GetMember(context.Background(), "cafe", user)
	require.NoError(t, err)
	assert.Equal(t, 1, view.ActiveStamps)
	assert.False(t, view.IsAnonymous)

	_, err = f.svc.CheckCooldown(context.Background(), "missing", user)
	assert.ErrorIs(t, err, domain.ErrBusinessNotFound)
}
