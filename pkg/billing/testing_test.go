package billing

import (
	"context"
	"sync"
	"time"

	"github.com/FrankFordB/Restos-sub003/pkg/domain"
	"github.com/FrankFordB/Restos-sub003/pkg/mercadopago"
)

// fakeMP is a scriptable provider client.
type fakeMP struct {
	preapprovals map[string]*mercadopago.Preapproval
	payments     map[string]*mercadopago.Payment
	err          error
}

func newFakeMP() *fakeMP {
	return &fakeMP{
		preapprovals: make(map[string]*mercadopago.Preapproval),
		payments:     make(map[string]*mercadopago.Payment),
	}
}

func (f *fakeMP) CreatePreference(ctx context.Context, accessToken, idempotencyKey string, req *mercadopago.PreferenceRequest) (*mercadopago.Preference, error) {
	return nil, f.err
}

func (f *fakeMP) CreatePreapproval(ctx context.Context, req *mercadopago.PreapprovalRequest) (*mercadopago.Preapproval, error) {
	return nil, f.err
}

func (f *fakeMP) GetPreapproval(ctx context.Context, id string) (*mercadopago.Preapproval, error) {
	if f.err != nil {
		return nil, f.err
	}
	pa, ok := f.preapprovals[id]
	if !ok {
		return nil, &mercadopago.APIError{StatusCode: 404, Message: "preapproval not found"}
	}
	return pa, nil
}

func (f *fakeMP) CancelPreapproval(ctx context.Context, id string) (*mercadopago.Preapproval, error) {
	return f.GetPreapproval(ctx, id)
}

func (f *fakeMP) GetPayment(ctx context.Context, id string) (*mercadopago.Payment, error) {
	if f.err != nil {
		return nil, f.err
	}
	p, ok := f.payments[id]
	if !ok {
		return nil, &mercadopago.APIError{StatusCode: 404, Message: "payment not found"}
	}
	return p, nil
}

func (f *fakeMP) ChargeStoredCard(ctx context.Context, req *mercadopago.CardChargeRequest) (*mercadopago.Payment, error) {
	return nil, f.err
}

// fakeTenants holds tenants in memory.
type fakeTenants struct {
	mu      sync.Mutex
	tenants map[string]*domain.Tenant
}

func newFakeTenants(tenants ...*domain.Tenant) *fakeTenants {
	f := &fakeTenants{tenants: make(map[string]*domain.Tenant)}
	for _, t := range tenants {
		f.tenants[t.ID] = t
	}
	return f
}

func (f *fakeTenants) Get(ctx context.Context, id string) (*domain.Tenant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tenants[id]
	if !ok {
		return nil, domain.NewNotFoundError("tenant")
	}
	copied := *t
	return &copied, nil
}

func (f *fakeTenants) UpdateBilling(ctx context.Context, t *domain.Tenant) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tenants[t.ID] = t
	return nil
}

func (f *fakeTenants) Downgrade(ctx context.Context, tenantID, reason string, metadata map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tenants[tenantID]
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

func (f *fakeTenants) ListExpiredActive(ctx context.Context, now time.Time) ([]*domain.Tenant, error) {
	return nil, nil
}

func (f *fakeTenants) ListStalePastDue(ctx context.Context, cutoff time.Time) ([]*domain.Tenant, error) {
	return nil, nil
}

func (f *fakeTenants) ListFreeInconsistent(ctx context.Context) ([]*domain.Tenant, error) {
	return nil, nil
}

func (f *fakeTenants) ListPaidMissingExpiry(ctx context.Context) ([]*domain.Tenant, error) {
	return nil, nil
}

func (f *fakeTenants) ListUpcomingRenewals(ctx context.Context, from, to time.Time) ([]*domain.Tenant, error) {
	return nil, nil
}

// fakeSubs holds subscriptions and records applied transitions.
type fakeSubs struct {
	mu          sync.Mutex
	byPre       map[string]*domain.Subscription
	byRef       map[string]*domain.Subscription
	transitions []domain.Transition
}

func newFakeSubs(subs ...*domain.Subscription) *fakeSubs {
	f := &fakeSubs{
		byPre: make(map[string]*domain.Subscription),
		byRef: make(map[string]*domain.Subscription),
	}
	for _, s := range subs {
		f.byPre[s.PreapprovalID] = s
		f.byRef[s.ExternalReference] = s
	}
	return f
}

func (f *fakeSubs) Create(ctx context.Context, s *domain.Subscription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byPre[s.PreapprovalID] = s
	f.byRef[s.ExternalReference] = s
	return nil
}

func (f *fakeSubs) GetByPreapprovalID(ctx context.Context, preapprovalID string) (*domain.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.byPre[preapprovalID]
	if !ok {
		return nil, domain.NewNotFoundError("subscription")
	}
	return s, nil
}

func (f *fakeSubs) GetByExternalReference(ctx context.Context, ref string) (*domain.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.byRef[ref]
	if !ok {
		return nil, domain.NewNotFoundError("subscription")
	}
	return s, nil
}

func (f *fakeSubs) GetOpenByTenant(ctx context.Context, tenantID string) (*domain.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.byPre {
		if s.TenantID == tenantID && s.Status.IsOpen() {
			return s, nil
		}
	}
	return nil, domain.NewNotFoundError("subscription")
}

func (f *fakeSubs) ApplyTransition(ctx context.Context, tr domain.Transition) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transitions = append(f.transitions, tr)
	return nil
}

func (f *fakeSubs) lastTransition() *domain.Transition {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.transitions) == 0 {
		return nil
	}
	return &f.transitions[len(f.transitions)-1]
}

// fakeOrders holds orders and records payment updates.
type fakeOrders struct {
	mu      sync.Mutex
	byRef   map[string]*domain.Order
	updates []struct {
		OrderID   string
		Status    domain.PaymentStatus
		PaymentID string
	}
}

func newFakeOrders(orders ...*domain.Order) *fakeOrders {
	f := &fakeOrders{byRef: make(map[string]*domain.Order)}
	for _, o := range orders {
		f.byRef[o.ExternalReference] = o
	}
	return f
}

func (f *fakeOrders) CreateWithItems(ctx context.Context, o *domain.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byRef[o.ExternalReference] = o
	return nil
}

func (f *fakeOrders) Get(ctx context.Context, id string) (*domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, o := range f.byRef {
		if o.ID == id {
			return o, nil
		}
	}
	return nil, domain.NewNotFoundError("order")
}

func (f *fakeOrders) GetByExternalReference(ctx context.Context, ref string) (*domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.byRef[ref]
	if !ok {
		return nil, domain.NewNotFoundError("order")
	}
	return o, nil
}

func (f *fakeOrders) SetPreference(ctx context.Context, orderID, preferenceID string) error {
	return nil
}

func (f *fakeOrders) UpdatePayment(ctx context.Context, orderID string, status domain.PaymentStatus, paymentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, struct {
		OrderID   string
		Status    domain.PaymentStatus
		PaymentID string
	}{orderID, status, paymentID})
	return nil
}

// fakeEvents is an in-memory webhook event repository.
type fakeEvents struct {
	mu     sync.Mutex
	events map[string]*domain.WebhookEvent
}

func newFakeEvents() *fakeEvents {
	return &fakeEvents{events: make(map[string]*domain.WebhookEvent)}
}

func (f *fakeEvents) InsertPending(ctx context.Context, ev *domain.WebhookEvent) (bool, *domain.WebhookEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if prior, ok := f.events[ev.EventKey]; ok {
		return false, prior, nil
	}
	copied := *ev
	f.events[ev.EventKey] = &copied
	return true, nil, nil
}

func (f *fakeEvents) MarkOutcome(ctx context.Context, eventKey string, status domain.WebhookStatus, outcome string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ev, ok := f.events[eventKey]
	if !ok {
		return domain.NewNotFoundError("webhook event")
	}
	ev.Status = status
	ev.Outcome = outcome
	now := time.Now()
	ev.ProcessedAt = &now
	return nil
}

func (f *fakeEvents) ListByResource(ctx context.Context, resourceID string, limit int) ([]*domain.WebhookEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.WebhookEvent
	for _, ev := range f.events {
		if ev.ResourceID == resourceID {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (f *fakeEvents) get(key string) *domain.WebhookEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.events[key]
}

// fakeCache is an in-memory CacheRepository.
type fakeCache struct {
	mu   sync.Mutex
	data map[string]string
}

func newFakeCache() *fakeCache {
	return &fakeCache{data: make(map[string]string)}
}

func (f *fakeCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = "1"
	return nil
}

func (f *fakeCache) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.data[key]; ok {
		return false, nil
	}
	f.data[key] = "1"
	return true, nil
}

func (f *fakeCache) Get(ctx context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.data[key], nil
}

func (f *fakeCache) Delete(ctx context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range keys {
		delete(f.data, k)
	}
	return nil
}

func (f *fakeCache) Exists(ctx context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.data[key]
	return ok, nil
}

func (f *fakeCache) Close() error { return nil }

// fakeNotifier records notification calls.
type fakeNotifier struct {
	mu        sync.Mutex
	activated int
	failed    int
	cancelled int
	reminded  int
}

func (f *fakeNotifier) SubscriptionActivated(ctx context.Context, tenant *domain.Tenant, plan domain.Tier) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.activated++
	return nil
}

func (f *fakeNotifier) PaymentFailed(ctx context.Context, tenant *domain.Tenant) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed++
	return nil
}

func (f *fakeNotifier) SubscriptionCancelled(ctx context.Context, tenant *domain.Tenant, endDate *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled++
	return nil
}

func (f *fakeNotifier) RenewalReminder(ctx context.Context, tenant *domain.Tenant, renewsAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reminded++
	return nil
}
