package application

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stampcard/internal/service/loyalty/domain"
)

func newCreditor(store domain.MemberStore) *StampCreditor {
	c := NewStampCreditor(store, testTracer)
	c.now = clock
	return c
}

func TestCredit_NewAnonymousMember(t *testing.T) {
	store := newMemStore()
	anon := domain.Anonymous("device-1")

	res := newCreditor(store).Credit(context.Background(), CreditRequest{BusinessID: "biz", Identity: anon, Count: 1})
	require.True(t, res.Success)
	assert.NoError(t, res.Err)
	assert.True(t, res.Created)
	assert.Equal(t, 1, res.NewActiveBalance)
	assert.Equal(t, 1, res.LifetimeStamps)

	m, _ := store.GetMember(context.Background(), "biz", anon)
	require.NotNil(t, m)
	assert.True(t, m.IsAnonymous())
	assert.Len(t, m.ReferralCode, 8)
	assert.Equal(t, fixedNow, m.JoinedAt)
}

func TestCredit_ExistingMemberAddsToBothCounters(t *testing.T) {
	store := newMemStore()
	user := domain.Authenticated("u1")
	store.seedMember("biz", user, 4, 10)

	res := newCreditor(store).Credit(context.Background(), CreditRequest{BusinessID: "biz", Identity: user, Count: 2})
	require.True(t, res.Success)
	assert.False(t, res.Created)
	assert.Equal(t, 6, res.NewActiveBalance)
	assert.Equal(t, 12, res.LifetimeStamps)
}

func TestCredit_WriteFailureLeavesBalanceUnchanged(t *testing.T) {
	store := newMemStore()
	user := domain.Authenticated("u1")
	store.seedMember("biz", user, 4, 10)
	store.upsertErr = errors.New("deadlock found")

	res := newCreditor(store).Credit(context.Background(), CreditRequest{BusinessID: "biz", Identity: user, Count: 2})
	assert.False(t, res.Success)
	require.Error(t, res.Err)
	assert.Contains(t, res.Err.Error(), "deadlock found")

	store.upsertErr = nil
	m, _ := store.GetMember(context.Background(), "biz", user)
	assert.Equal(t, 4, m.ActiveStamps)
	assert.Equal(t, 10, m.LifetimeStamps)
}

func TestCredit_LookupFailureIsHardError(t *testing.T) {
	store := newMemStore()
	store.getMemberErr = errors.New("no route to host")

	res := newCreditor(store).Credit(context.Background(), CreditRequest{BusinessID: "biz", Identity: domain.Authenticated("u1"), Count: 1})
	assert.False(t, res.Success)
	assert.ErrorContains(t, res.Err, "no route to host")
	assert.Empty(t, store.events)
}

func TestCredit_RereadFailureIsReported(t *testing.T) {
	store := newMemStore()
	store.getMemberErr = errors.New("replica lag")
	store.failGetAfter = 2

	res := newCreditor(store).Credit(context.Background(), CreditRequest{BusinessID: "biz", Identity: domain.Authenticated("u1"), Count: 1})
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, ErrBalanceUnverified)
}

func TestCredit_SilentWriteFailureIsDetected(t *testing.T) {
	store := newMemStore()
	user := domain.Authenticated("u1")
	store.seedMember("biz", user, 4, 10)
	store.upsertNoop = true

	res := newCreditor(store).Credit(context.Background(), CreditRequest{BusinessID: "biz", Identity: user, Count: 2})
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, domain.ErrSilentWriteFailure)
}

func TestCredit_SilentWriteFailureForNewMember(t *testing.T) {
	store := newMemStore()
	store.upsertNoop = true

	res := newCreditor(store).Credit(context.Background(), CreditRequest{BusinessID: "biz", Identity: domain.Anonymous("d"), Count: 1})
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, domain.ErrSilentWriteFailure)
}

func TestCredit_InvalidInput(t *testing.T) {
	store := newMemStore()
	c := newCreditor(store)

	res := c.Credit(context.Background(), CreditRequest{BusinessID: "biz", Identity: domain.Anonymous("d"), Count: 0})
	assert.ErrorIs(t, res.Err, domain.ErrInvalidStampCount)

	res = c.Credit(context.Background(), CreditRequest{BusinessID: "biz", Identity: domain.Identity{}, Count: 1})
	assert.ErrorIs(t, res.Err, domain.ErrInvalidIdentity)
	assert.Empty(t, store.members)
}

func TestCredit_WithoutKeyIsNotIdempotent(t *testing.T) {
	store := newMemStore()
	user := domain.Authenticated("u1")
	c := newCreditor(store)

	c.Credit(context.Background(), CreditRequest{BusinessID: "biz", Identity: user, Count: 1})
	res := c.Credit(context.Background(), CreditRequest{BusinessID: "biz", Identity: user, Count: 1})
	assert.Equal(t, 2, res.NewActiveBalance)
}

func TestCredit_DuplicateKeyDoesNotChangeBalance(t *testing.T) {
	store := newMemStore()
	user := domain.Authenticated("u1")
	c := newCreditor(store)

	first := c.Credit(context.Background(), CreditRequest{BusinessID: "biz", Identity: user, Count: 3, IdempotencyKey: "scan-1"})
	require.True(t, first.Success)

	second := c.Credit(context.Background(), CreditRequest{BusinessID: "biz", Identity: user, Count: 3, IdempotencyKey: "scan-1"})
	require.True(t, second.Success)
	assert.True(t, second.Duplicate)
	assert.Equal(t, 3, second.NewActiveBalance)
	assert.Equal(t, 3, second.LifetimeStamps)
	assert.Len(t, store.events, 1)
}

func TestNewReferralCode(t *testing.T) {
	a, b := NewReferralCode(), NewReferralCode()
	assert.Len(t, a, 8)
	assert.NotEqual(t, a, b)
	assert.Regexp(t, "^[0-9A-F]{8}$", a)
}
