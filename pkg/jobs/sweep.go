// Package jobs runs the scheduled reconciliation work: the subscription
// sweep and the renewal reminders. Webhooks can be lost or delayed; the
// sweep keeps tenant billing state consistent regardless.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/FrankFordB/Restos-sub003/pkg/domain"
	"github.com/FrankFordB/Restos-sub003/pkg/logger"
	"github.com/FrankFordB/Restos-sub003/pkg/mercadopago"
)

// ErrSweepRunning means another sweep holds the execution lock.
var ErrSweepRunning = errors.New("sweep already running")

const sweepLockKey = "jobs:sweep:lock"
const sweepLockTTL = 5 * time.Minute

// SweepStats counts what each pass did. Re-running immediately produces
// all zeros.
type SweepStats struct {
	ExpiredDowngraded int `json:"expired_downgraded"`
	MovedPastDue      int `json:"moved_past_due"`
	ChargeAttempts    int `json:"charge_attempts"`
	ChargeRecovered   int `json:"charge_recovered"`
	StaleDowngraded   int `json:"stale_downgraded"`
	RepairedFree      int `json:"repaired_free"`
	RepairedPaid      int `json:"repaired_paid"`
	Errors            int `json:"errors"`
}

// Sweeper is the periodic batch reconciler.
type Sweeper struct {
	tenants domain.TenantRepository
	subs    domain.SubscriptionRepository
	logs    domain.SubscriptionLogRepository
	mp      mercadopago.Client
	cache   domain.CacheRepository
	log     logger.Logger

	graceDays int
}

// NewSweeper creates the reconciliation sweeper.
func NewSweeper(tenants domain.TenantRepository, subs domain.SubscriptionRepository, logs domain.SubscriptionLogRepository, mp mercadopago.Client, cache domain.CacheRepository, log logger.Logger, graceDays int) *Sweeper {
	if graceDays <= 0 {
		graceDays = 3
	}
	return &Sweeper{
		tenants:   tenants,
		subs:      subs,
		logs:      logs,
		mp:        mp,
		cache:     cache,
		log:       log,
		graceDays: graceDays,
	}
}

// Run executes the three passes in order. A failing tenant is logged and
// skipped; the batch never aborts. Each tenant's transition is atomic even
// if the batch as a whole is interrupted.
func (s *Sweeper) Run(ctx context.Context) (*SweepStats, error) {
	if s.cache != nil {
		claimed, err := s.cache.SetNX(ctx, sweepLockKey, "1", sweepLockTTL)
		if err != nil {
			s.log.Warn("sweep lock unavailable, proceeding without it", "error", err)
		} else if !claimed {
			return nil, ErrSweepRunning
		} else {
			defer func() {
				if err := s.cache.Delete(context.WithoutCancel(ctx), sweepLockKey); err != nil {
					s.log.Warn("failed to release sweep lock", "error", err)
				}
			}()
		}
	}

	now := time.Now().UTC()
	stats := &SweepStats{}

	s.expireActives(ctx, now, stats)
	s.closeStalePastDue(ctx, now, stats)
	s.repairInconsistent(ctx, stats)

	s.log.Info("subscription sweep finished",
		"expired_downgraded", stats.ExpiredDowngraded,
		"moved_past_due", stats.MovedPastDue,
		"charge_attempts", stats.ChargeAttempts,
		"charge_recovered", stats.ChargeRecovered,
		"stale_downgraded", stats.StaleDowngraded,
		"repaired_free", stats.RepairedFree,
		"repaired_paid", stats.RepairedPaid,
		"errors", stats.Errors,
	)

	return stats, nil
}

// expireActives handles pass 1: paid tenants whose premiumUntil has passed
// while still marked active. Auto-renew tenants get a grace period (with one
// stored-card charge attempt when possible); the rest are downgraded now.
func (s *Sweeper) expireActives(ctx context.Context, now time.Time, stats *SweepStats) {
	tenants, err := s.tenants.ListExpiredActive(ctx, now)
	if err != nil {
		s.log.Error("sweep: failed to list expired actives", "error", err)
		stats.Errors++
		return
	}

	for _, t := range tenants {
		if !t.AutoRenew {
			if err := s.tenants.Downgrade(ctx, t.ID, "subscription expired without auto-renew",
				map[string]any{"pass": "expired", "premium_until": t.PremiumUntil}); err != nil {
				s.log.Error("sweep: downgrade failed", "tenant_id", t.ID, "error", err)
				stats.Errors++
				continue
			}
			stats.ExpiredDowngraded++
			continue
		}

		if t.HasStoredCard() {
			stats.ChargeAttempts++
			if s.retryCharge(ctx, t, now) {
				stats.ChargeRecovered++
				continue
			}
		}

		if err := s.markPastDue(ctx, t, now); err != nil {
			s.log.Error("sweep: past_due transition failed", "tenant_id", t.ID, "error", err)
			stats.Errors++
			continue
		}
		stats.MovedPastDue++
	}
}

// closeStalePastDue handles pass 2: grace period over, downgrade regardless
// of auto-renew, closing the open agreement record as expired.
func (s *Sweeper) closeStalePastDue(ctx context.Context, now time.Time, stats *SweepStats) {
	cutoff := now.AddDate(0, 0, -s.graceDays)
	tenants, err := s.tenants.ListStalePastDue(ctx, cutoff)
	if err != nil {
		s.log.Error("sweep: failed to list stale past_due", "error", err)
		stats.Errors++
		return
	}

	for _, t := range tenants {
		tr := domain.Transition{
			TenantID:       t.ID,
			Status:         domain.SubscriptionExpired,
			Downgrade:      true,
			LogEventType:   domain.LogSweepPastDue,
			LogDescription: fmt.Sprintf("grace period of %d days elapsed, forcing downgrade", s.graceDays),
			LogMetadata:    map[string]any{"premium_until": t.PremiumUntil},
		}
		if sub, err := s.subs.GetOpenByTenant(ctx, t.ID); err == nil && sub != nil {
			tr.SubscriptionID = sub.ID
			cancelled := now
			tr.CancelledAt = &cancelled
		} else if err != nil && !domain.IsNotFound(err) {
			s.log.Error("sweep: failed to load subscription", "tenant_id", t.ID, "error", err)
			stats.Errors++
			continue
		}

		if err := s.subs.ApplyTransition(ctx, tr); err != nil {
			s.log.Error("sweep: stale past_due downgrade failed", "tenant_id", t.ID, "error", err)
			stats.Errors++
			continue
		}
		stats.StaleDowngraded++
	}
}

// repairInconsistent handles pass 3: defensive invariant repair.
// Free tenants must look exactly like free tenants; paid tenants without an
// expiry are unauditable and get downgraded rather than assumed entitled.
func (s *Sweeper) repairInconsistent(ctx context.Context, stats *SweepStats) {
	freeTenants, err := s.tenants.ListFreeInconsistent(ctx)
	if err != nil {
		s.log.Error("sweep: failed to list inconsistent free tenants", "error", err)
		stats.Errors++
	} else {
		for _, t := range freeTenants {
			if err := s.tenants.Downgrade(ctx, t.ID, "repair: free tenant with residual billing state",
				map[string]any{"pass": "repair", "status": t.SubscriptionStatus, "premium_until": t.PremiumUntil}); err != nil {
				s.log.Error("sweep: free repair failed", "tenant_id", t.ID, "error", err)
				stats.Errors++
				continue
			}
			stats.RepairedFree++
		}
	}

	paidTenants, err := s.tenants.ListPaidMissingExpiry(ctx)
	if err != nil {
		s.log.Error("sweep: failed to list paid tenants without expiry", "error", err)
		stats.Errors++
		return
	}
	for _, t := range paidTenants {
		if err := s.tenants.Downgrade(ctx, t.ID, "repair: paid tier without expiry date",
			map[string]any{"pass": "repair", "tier": t.Tier}); err != nil {
			s.log.Error("sweep: paid repair failed", "tenant_id", t.ID, "error", err)
			stats.Errors++
			continue
		}
		stats.RepairedPaid++
	}
}

// retryCharge attempts one off-session charge on the stored card. Success
// buys a new period and returns the tenant to active.
func (s *Sweeper) retryCharge(ctx context.Context, t *domain.Tenant, now time.Time) bool {
	sub, err := s.subs.GetOpenByTenant(ctx, t.ID)
	if err != nil || sub == nil {
		return false
	}

	payment, err := s.mp.ChargeStoredCard(ctx, &mercadopago.CardChargeRequest{
		CustomerID:        *t.MPCustomerID,
		CardID:            *t.MPCardID,
		Amount:            sub.Amount,
		CurrencyID:        sub.Currency,
		Description:       fmt.Sprintf("Restos %s renewal", sub.Plan),
		ExternalReference: fmt.Sprintf("renewal-%s-%d", sub.ID, now.Unix()),
	})
	if err != nil {
		s.log.Warn("sweep: stored-card charge failed", "tenant_id", t.ID, "error", err)
		return false
	}
	if payment.Status != mercadopago.PaymentApproved {
		s.log.Info("sweep: stored-card charge not approved",
			"tenant_id", t.ID, "status", payment.Status, "detail", payment.StatusDetail)
		return false
	}

	until := now.AddDate(0, 1, 0)
	tier := sub.Plan
	autoRenew := true
	tr := domain.Transition{
		SubscriptionID:  sub.ID,
		TenantID:        t.ID,
		Status:          domain.SubscriptionActive,
		NextBillingDate: &until,
		Tier:            &tier,
		PremiumUntil:    &until,
		AutoRenew:       &autoRenew,
		LogEventType:    domain.LogSweepCharge,
		LogDescription:  fmt.Sprintf("stored-card renewal approved (payment %d)", payment.ID),
		LogMetadata:     map[string]any{"payment_id": payment.ID, "amount": sub.Amount},
	}
	if err := s.subs.ApplyTransition(ctx, tr); err != nil {
		s.log.Error("sweep: failed to apply recovered charge", "tenant_id", t.ID, "error", err)
		return false
	}
	return true
}

func (s *Sweeper) markPastDue(ctx context.Context, t *domain.Tenant, now time.Time) error {
	tr := domain.Transition{
		TenantID:       t.ID,
		Status:         domain.SubscriptionPastDue,
		LogEventType:   domain.LogSweepExpired,
		LogDescription: "premium expired with auto-renew, entering grace period",
		LogMetadata:    map[string]any{"premium_until": t.PremiumUntil, "grace_days": s.graceDays},
	}
	if sub, err := s.subs.GetOpenByTenant(ctx, t.ID); err == nil && sub != nil {
		tr.SubscriptionID = sub.ID
	} else if err != nil && !domain.IsNotFound(err) {
		return err
	}
	return s.subs.ApplyTransition(ctx, tr)
}
