package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FrankFordB/Restos-sub003/pkg/domain"
	"github.com/FrankFordB/Restos-sub003/pkg/logger"
	"github.com/FrankFordB/Restos-sub003/pkg/mercadopago"
)

type downgradeCall struct {
	TenantID string
	Reason   string
}

type fakeTenants struct {
	expiredActive    []*domain.Tenant
	stalePastDue     []*domain.Tenant
	freeInconsistent []*domain.Tenant
	paidNoExpiry     []*domain.Tenant
	upcoming         []*domain.Tenant

	downgrades []downgradeCall
}

func (f *fakeTenants) Get(ctx context.Context, id string) (*domain.Tenant, error) {
	return nil, domain.NewNotFoundError("tenant")
}

func (f *fakeTenants) UpdateBilling(ctx context.Context, t *domain.Tenant) error { return nil }

func (f *fakeTenants) Downgrade(ctx context.Context, tenantID, reason string, metadata map[string]any) error {
	f.downgrades = append(f.downgrades, downgradeCall{TenantID: tenantID, Reason: reason})
	return nil
}

func (f *fakeTenants) ListExpiredActive(ctx context.Context, now time.Time) ([]*domain.Tenant, error) {
	return f.expiredActive, nil
}

func (f *fakeTenants) ListStalePastDue(ctx context.Context, cutoff time.Time) ([]*domain.Tenant, error) {
	return f.stalePastDue, nil
}

func (f *fakeTenants) ListFreeInconsistent(ctx context.Context) ([]*domain.Tenant, error) {
	return f.freeInconsistent, nil
}

func (f *fakeTenants) ListPaidMissingExpiry(ctx context.Context) ([]*domain.Tenant, error) {
	return f.paidNoExpiry, nil
}

func (f *fakeTenants) ListUpcomingRenewals(ctx context.Context, from, to time.Time) ([]*domain.Tenant, error) {
	return f.upcoming, nil
}

type fakeSubs struct {
	open        map[string]*domain.Subscription
	transitions []domain.Transition
}

func newFakeSubs(subs ...*domain.Subscription) *fakeSubs {
	f := &fakeSubs{open: make(map[string]*domain.Subscription)}
	for _, s := range subs {
		f.open[s.TenantID] = s
	}
	return f
}

func (f *fakeSubs) Create(ctx context.Context, s *domain.Subscription) error { return nil }

func (f *fakeSubs) GetByPreapprovalID(ctx context.Context, id string) (*domain.Subscription, error) {
	return nil, domain.NewNotFoundError("subscription")
}

func (f *fakeSubs) GetByExternalReference(ctx context.Context, ref string) (*domain.Subscription, error) {
	return nil, domain.NewNotFoundError("subscription")
}

func (f *fakeSubs) GetOpenByTenant(ctx context.Context, tenantID string) (*domain.Subscription, error) {
	if s, ok := f.open[tenantID]; ok {
		return s, nil
	}
	return nil, domain.NewNotFoundError("subscription")
}

func (f *fakeSubs) ApplyTransition(ctx context.Context, tr domain.Transition) error {
	f.transitions = append(f.transitions, tr)
	return nil
}

type fakeLogs struct {
	hasEvent bool
	appended []*domain.SubscriptionLog
}

func (f *fakeLogs) Append(ctx context.Context, l *domain.SubscriptionLog) error {
	f.appended = append(f.appended, l)
	return nil
}

func (f *fakeLogs) HasEventSince(ctx context.Context, tenantID, eventType string, since time.Time) (bool, error) {
	return f.hasEvent, nil
}

func (f *fakeLogs) ListByTenant(ctx context.Context, tenantID string, limit int) ([]*domain.SubscriptionLog, error) {
	return f.appended, nil
}

type fakeMP struct {
	payment *mercadopago.Payment
	err     error
	charges []*mercadopago.CardChargeRequest
}

func (f *fakeMP) CreatePreference(ctx context.Context, accessToken, idempotencyKey string, req *mercadopago.PreferenceRequest) (*mercadopago.Preference, error) {
	return nil, nil
}

func (f *fakeMP) CreatePreapproval(ctx context.Context, req *mercadopago.PreapprovalRequest) (*mercadopago.Preapproval, error) {
	return nil, nil
}

func (f *fakeMP) GetPreapproval(ctx context.Context, id string) (*mercadopago.Preapproval, error) {
	return nil, &mercadopago.APIError{StatusCode: 404, Message: "not found"}
}

func (f *fakeMP) CancelPreapproval(ctx context.Context, id string) (*mercadopago.Preapproval, error) {
	return nil, nil
}

func (f *fakeMP) GetPayment(ctx context.Context, id string) (*mercadopago.Payment, error) {
	return nil, &mercadopago.APIError{StatusCode: 404, Message: "not found"}
}

func (f *fakeMP) ChargeStoredCard(ctx context.Context, req *mercadopago.CardChargeRequest) (*mercadopago.Payment, error) {
	f.charges = append(f.charges, req)
	if f.err != nil {
		return nil, f.err
	}
	return f.payment, nil
}

type fakeCache struct {
	locked bool
	keys   map[string]bool
}

func newFakeCache() *fakeCache { return &fakeCache{keys: make(map[string]bool)} }

func (f *fakeCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	f.keys[key] = true
	return nil
}

func (f *fakeCache) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	if f.locked || f.keys[key] {
		return false, nil
	}
	f.keys[key] = true
	return true, nil
}

func (f *fakeCache) Get(ctx context.Context, key string) (string, error) {
	return "", errors.New("not found")
}

func (f *fakeCache) Delete(ctx context.Context, keys ...string) error {
	for _, k := range keys {
		delete(f.keys, k)
	}
	return nil
}

func (f *fakeCache) Exists(ctx context.Context, key string) (bool, error) {
	return f.keys[key], nil
}

func (f *fakeCache) Close() error { return nil }

type fakeNotifier struct {
	reminded []string
	err      error
}

func (f *fakeNotifier) SubscriptionActivated(ctx context.Context, tenant *domain.Tenant, plan domain.Tier) error {
	return nil
}

func (f *fakeNotifier) PaymentFailed(ctx context.Context, tenant *domain.Tenant) error { return nil }

func (f *fakeNotifier) SubscriptionCancelled(ctx context.Context, tenant *domain.Tenant, endDate *time.Time) error {
	return nil
}

func (f *fakeNotifier) RenewalReminder(ctx context.Context, tenant *domain.Tenant, renewsAt time.Time) error {
	if f.err != nil {
		return f.err
	}
	f.reminded = append(f.reminded, tenant.ID)
	return nil
}

// liveStore backs both repositories with shared mutable state, so the
// listings react to applied transitions and consecutive runs see what the
// previous run left behind.
type liveStore struct {
	tenants map[string]*domain.Tenant
	subs    map[string]*domain.Subscription
}

func newLiveStore(tenants []*domain.Tenant, subs ...*domain.Subscription) *liveStore {
	s := &liveStore{
		tenants: make(map[string]*domain.Tenant),
		subs:    make(map[string]*domain.Subscription),
	}
	for _, t := range tenants {
		s.tenants[t.ID] = t
	}
	for _, sub := range subs {
		s.subs[sub.TenantID] = sub
	}
	return s
}

func (s *liveStore) Get(ctx context.Context, id string) (*domain.Tenant, error) {
	if t, ok := s.tenants[id]; ok {
		return t, nil
	}
	return nil, domain.NewNotFoundError("tenant")
}

func (s *liveStore) UpdateBilling(ctx context.Context, t *domain.Tenant) error {
	s.tenants[t.ID] = t
	return nil
}

func (s *liveStore) Downgrade(ctx context.Context, tenantID, reason string, metadata map[string]any) error {
	t, ok := s.tenants[tenantID]
	if !ok {
		return domain.NewNotFoundError("tenant")
	}
	t.Tier = domain.TierFree
	t.SubscriptionStatus = domain.SubscriptionActive
	t.PremiumUntil = nil
	t.AutoRenew = false
	t.ScheduledTier = nil
	t.MenuLimit = domain.FreeTierMenuLimit
	return nil
}

func (s *liveStore) ListExpiredActive(ctx context.Context, now time.Time) ([]*domain.Tenant, error) {
	var out []*domain.Tenant
	for _, t := range s.tenants {
		if t.Tier != domain.TierFree &&
			(t.SubscriptionStatus == domain.SubscriptionActive || t.SubscriptionStatus == domain.SubscriptionAuthorized) &&
			t.PremiumUntil != nil && t.PremiumUntil.Before(now) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *liveStore) ListStalePastDue(ctx context.Context, cutoff time.Time) ([]*domain.Tenant, error) {
	var out []*domain.Tenant
	for _, t := range s.tenants {
		if t.SubscriptionStatus == domain.SubscriptionPastDue &&
			t.PremiumUntil != nil && t.PremiumUntil.Before(cutoff) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *liveStore) ListFreeInconsistent(ctx context.Context) ([]*domain.Tenant, error) {
	var out []*domain.Tenant
	for _, t := range s.tenants {
		if t.Tier == domain.TierFree &&
			(t.PremiumUntil != nil || t.SubscriptionStatus != domain.SubscriptionActive) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *liveStore) ListPaidMissingExpiry(ctx context.Context) ([]*domain.Tenant, error) {
	var out []*domain.Tenant
	for _, t := range s.tenants {
		if t.Tier != domain.TierFree && t.PremiumUntil == nil {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *liveStore) ListUpcomingRenewals(ctx context.Context, from, to time.Time) ([]*domain.Tenant, error) {
	return nil, nil
}

func (s *liveStore) Create(ctx context.Context, sub *domain.Subscription) error {
	s.subs[sub.TenantID] = sub
	return nil
}

func (s *liveStore) GetByPreapprovalID(ctx context.Context, id string) (*domain.Subscription, error) {
	return nil, domain.NewNotFoundError("subscription")
}

func (s *liveStore) GetByExternalReference(ctx context.Context, ref string) (*domain.Subscription, error) {
	return nil, domain.NewNotFoundError("subscription")
}

func (s *liveStore) GetOpenByTenant(ctx context.Context, tenantID string) (*domain.Subscription, error) {
	if sub, ok := s.subs[tenantID]; ok && sub.Status.IsOpen() {
		return sub, nil
	}
	return nil, domain.NewNotFoundError("subscription")
}

func (s *liveStore) ApplyTransition(ctx context.Context, tr domain.Transition) error {
	if sub, ok := s.subs[tr.TenantID]; ok && sub.ID == tr.SubscriptionID {
		sub.Status = tr.Status
		if tr.CancelledAt != nil {
			sub.CancelledAt = tr.CancelledAt
		}
	}
	if tr.Downgrade {
		return s.Downgrade(ctx, tr.TenantID, tr.LogDescription, tr.LogMetadata)
	}
	t, ok := s.tenants[tr.TenantID]
	if !ok {
		return domain.NewNotFoundError("tenant")
	}
	t.SubscriptionStatus = tr.Status
	if tr.TenantStatus != nil {
		t.SubscriptionStatus = *tr.TenantStatus
	}
	if tr.Tier != nil {
		t.Tier = *tr.Tier
		t.MenuLimit = domain.MenuLimitForTier(*tr.Tier)
	}
	if tr.PremiumUntil != nil {
		t.PremiumUntil = tr.PremiumUntil
	}
	if tr.AutoRenew != nil {
		t.AutoRenew = *tr.AutoRenew
	}
	if tr.ScheduledTier != nil {
		t.ScheduledTier = tr.ScheduledTier
	}
	return nil
}

func expiredTenant(id string, autoRenew bool) *domain.Tenant {
	past := time.Now().UTC().AddDate(0, 0, -2)
	return &domain.Tenant{
		ID:                 id,
		Tier:               domain.TierPremium,
		SubscriptionStatus: domain.SubscriptionActive,
		PremiumUntil:       &past,
		AutoRenew:          autoRenew,
	}
}

func withStoredCard(t *domain.Tenant) *domain.Tenant {
	customer := "cus-1"
	card := "card-1"
	t.MPCustomerID = &customer
	t.MPCardID = &card
	return t
}

func newTestSweeper(tenants *fakeTenants, subs *fakeSubs, mp *fakeMP, cache domain.CacheRepository) *Sweeper {
	return NewSweeper(tenants, subs, &fakeLogs{}, mp, cache, logger.Discard(), 3)
}

func TestSweep_ExpiredWithoutAutoRenewDowngrades(t *testing.T) {
	tenants := &fakeTenants{expiredActive: []*domain.Tenant{expiredTenant("t1", false)}}
	subs := newFakeSubs()
	sweeper := newTestSweeper(tenants, subs, &fakeMP{}, nil)

	stats, err := sweeper.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ExpiredDowngraded)
	assert.Equal(t, 0, stats.MovedPastDue)

	require.Len(t, tenants.downgrades, 1)
	assert.Equal(t, "t1", tenants.downgrades[0].TenantID)
	assert.Empty(t, subs.transitions)
}

func TestSweep_EndOfPeriodCancelDowngradedAtExpiry(t *testing.T) {
	// A tenant who cancelled at period end stays active with auto-renew off
	// and the free tier scheduled; once premiumUntil passes, pass 1 must
	// execute the downgrade.
	cancelled := expiredTenant("t1", false)
	free := domain.TierFree
	cancelled.ScheduledTier = &free
	tenants := &fakeTenants{expiredActive: []*domain.Tenant{cancelled}}
	subs := newFakeSubs()
	sweeper := newTestSweeper(tenants, subs, &fakeMP{}, nil)

	stats, err := sweeper.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ExpiredDowngraded)

	require.Len(t, tenants.downgrades, 1)
	assert.Equal(t, "t1", tenants.downgrades[0].TenantID)
}

func TestSweep_ExpiredWithAutoRenewEntersGrace(t *testing.T) {
	tenants := &fakeTenants{expiredActive: []*domain.Tenant{expiredTenant("t1", true)}}
	subs := newFakeSubs(&domain.Subscription{ID: "s1", TenantID: "t1", Status: domain.SubscriptionActive})
	sweeper := newTestSweeper(tenants, subs, &fakeMP{}, nil)

	stats, err := sweeper.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.MovedPastDue)
	assert.Equal(t, 0, stats.ChargeAttempts, "no stored card, no charge attempt")

	require.Len(t, subs.transitions, 1)
	tr := subs.transitions[0]
	assert.Equal(t, domain.SubscriptionPastDue, tr.Status)
	assert.Equal(t, "s1", tr.SubscriptionID)
	assert.False(t, tr.Downgrade, "grace period keeps the paid tier")
}

func TestSweep_StoredCardChargeRecovers(t *testing.T) {
	tenants := &fakeTenants{expiredActive: []*domain.Tenant{withStoredCard(expiredTenant("t1", true))}}
	subs := newFakeSubs(&domain.Subscription{
		ID: "s1", TenantID: "t1", Plan: domain.TierPremium,
		Amount: 14999, Currency: "ARS", Status: domain.SubscriptionActive,
	})
	mp := &fakeMP{payment: &mercadopago.Payment{ID: 42, Status: mercadopago.PaymentApproved}}
	sweeper := newTestSweeper(tenants, subs, mp, nil)

	stats, err := sweeper.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ChargeAttempts)
	assert.Equal(t, 1, stats.ChargeRecovered)
	assert.Equal(t, 0, stats.MovedPastDue)

	require.Len(t, mp.charges, 1)
	assert.Equal(t, "cus-1", mp.charges[0].CustomerID)
	assert.Equal(t, 14999.0, mp.charges[0].Amount)

	require.Len(t, subs.transitions, 1)
	tr := subs.transitions[0]
	assert.Equal(t, domain.SubscriptionActive, tr.Status)
	require.NotNil(t, tr.PremiumUntil)
	wantUntil := time.Now().UTC().AddDate(0, 1, 0)
	assert.WithinDuration(t, wantUntil, *tr.PremiumUntil, time.Minute)
	require.NotNil(t, tr.AutoRenew)
	assert.True(t, *tr.AutoRenew)
}

func TestSweep_DeclinedChargeFallsToPastDue(t *testing.T) {
	tenants := &fakeTenants{expiredActive: []*domain.Tenant{withStoredCard(expiredTenant("t1", true))}}
	subs := newFakeSubs(&domain.Subscription{
		ID: "s1", TenantID: "t1", Plan: domain.TierPremium,
		Amount: 14999, Currency: "ARS", Status: domain.SubscriptionActive,
	})
	mp := &fakeMP{payment: &mercadopago.Payment{ID: 43, Status: mercadopago.PaymentRejected, StatusDetail: "cc_rejected_insufficient_amount"}}
	sweeper := newTestSweeper(tenants, subs, mp, nil)

	stats, err := sweeper.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ChargeAttempts)
	assert.Equal(t, 0, stats.ChargeRecovered)
	assert.Equal(t, 1, stats.MovedPastDue)

	require.Len(t, subs.transitions, 1)
	assert.Equal(t, domain.SubscriptionPastDue, subs.transitions[0].Status)
}

func TestSweep_StalePastDueForcesDowngrade(t *testing.T) {
	stale := expiredTenant("t1", true)
	stale.SubscriptionStatus = domain.SubscriptionPastDue
	tenants := &fakeTenants{stalePastDue: []*domain.Tenant{stale}}
	subs := newFakeSubs(&domain.Subscription{ID: "s1", TenantID: "t1", Status: domain.SubscriptionPending})
	sweeper := newTestSweeper(tenants, subs, &fakeMP{}, nil)

	stats, err := sweeper.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.StaleDowngraded)

	require.Len(t, subs.transitions, 1)
	tr := subs.transitions[0]
	assert.Equal(t, domain.SubscriptionExpired, tr.Status)
	assert.True(t, tr.Downgrade)
	assert.Equal(t, "s1", tr.SubscriptionID)
	require.NotNil(t, tr.CancelledAt)
}

func TestSweep_RepairPasses(t *testing.T) {
	dirtyFree := &domain.Tenant{ID: "t1", Tier: domain.TierFree, SubscriptionStatus: domain.SubscriptionCancelled}
	paidNoExpiry := &domain.Tenant{ID: "t2", Tier: domain.TierPremium, SubscriptionStatus: domain.SubscriptionActive}
	tenants := &fakeTenants{
		freeInconsistent: []*domain.Tenant{dirtyFree},
		paidNoExpiry:     []*domain.Tenant{paidNoExpiry},
	}
	sweeper := newTestSweeper(tenants, newFakeSubs(), &fakeMP{}, nil)

	stats, err := sweeper.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.RepairedFree)
	assert.Equal(t, 1, stats.RepairedPaid)
	require.Len(t, tenants.downgrades, 2)
}

func TestSweep_IdleRunIsAllZeros(t *testing.T) {
	sweeper := newTestSweeper(&fakeTenants{}, newFakeSubs(), &fakeMP{}, nil)

	stats, err := sweeper.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &SweepStats{}, stats)
}

func TestSweep_SecondImmediateRunIsAllZeros(t *testing.T) {
	expired := expiredTenant("t-expired", false)
	grace := expiredTenant("t-grace", true)
	dirtyFree := &domain.Tenant{ID: "t-free-dirty", Tier: domain.TierFree, SubscriptionStatus: domain.SubscriptionCancelled}
	paidNoExpiry := &domain.Tenant{ID: "t-paid-noexp", Tier: domain.TierPremium, SubscriptionStatus: domain.SubscriptionActive}
	store := newLiveStore([]*domain.Tenant{expired, grace, dirtyFree, paidNoExpiry},
		&domain.Subscription{ID: "s-grace", TenantID: "t-grace", Status: domain.SubscriptionActive})
	sweeper := NewSweeper(store, store, &fakeLogs{}, &fakeMP{}, nil, logger.Discard(), 3)

	first, err := sweeper.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &SweepStats{
		ExpiredDowngraded: 1,
		MovedPastDue:      1,
		RepairedFree:      1,
		RepairedPaid:      1,
	}, first)

	second, err := sweeper.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &SweepStats{}, second, "everything reconciled, nothing left to transition")
}

func TestSweep_LockContention(t *testing.T) {
	cache := newFakeCache()
	cache.locked = true
	sweeper := newTestSweeper(&fakeTenants{}, newFakeSubs(), &fakeMP{}, cache)

	_, err := sweeper.Run(context.Background())
	assert.ErrorIs(t, err, ErrSweepRunning)
}

func TestSweep_LockReleasedAfterRun(t *testing.T) {
	cache := newFakeCache()
	sweeper := newTestSweeper(&fakeTenants{}, newFakeSubs(), &fakeMP{}, cache)

	_, err := sweeper.Run(context.Background())
	require.NoError(t, err)

	_, err = sweeper.Run(context.Background())
	assert.NoError(t, err, "second run must reacquire the released lock")
}

func TestReminders_SendsOncePerCycle(t *testing.T) {
	soon := time.Now().UTC().AddDate(0, 0, 2)
	tenants := &fakeTenants{upcoming: []*domain.Tenant{{
		ID: "t1", Tier: domain.TierPremium, PremiumUntil: &soon, AutoRenew: true,
	}}}
	logs := &fakeLogs{}
	notifier := &fakeNotifier{}
	job := NewReminders(tenants, logs, notifier, logger.Discard(), 3)

	stats, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Sent)
	assert.Equal(t, []string{"t1"}, notifier.reminded)

	require.Len(t, logs.appended, 1)
	assert.Equal(t, domain.LogRenewalReminder, logs.appended[0].EventType)
}

func TestReminders_SkipsAlreadyRemindedCycle(t *testing.T) {
	soon := time.Now().UTC().AddDate(0, 0, 2)
	tenants := &fakeTenants{upcoming: []*domain.Tenant{{
		ID: "t1", Tier: domain.TierPremium, PremiumUntil: &soon, AutoRenew: true,
	}}}
	logs := &fakeLogs{hasEvent: true}
	notifier := &fakeNotifier{}
	job := NewReminders(tenants, logs, notifier, logger.Discard(), 3)

	stats, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Sent)
	assert.Equal(t, 1, stats.Skipped)
	assert.Empty(t, notifier.reminded)
}

func TestReminders_NotificationFailureCounted(t *testing.T) {
	soon := time.Now().UTC().AddDate(0, 0, 1)
	tenants := &fakeTenants{upcoming: []*domain.Tenant{{
		ID: "t1", Tier: domain.TierPremium, PremiumUntil: &soon, AutoRenew: true,
	}}}
	logs := &fakeLogs{}
	notifier := &fakeNotifier{err: errors.New("smtp down")}
	job := NewReminders(tenants, logs, notifier, logger.Discard(), 3)

	stats, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Errors)
	assert.Empty(t, logs.appended, "failed sends must not mark the cycle as covered")
}
