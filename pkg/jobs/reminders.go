package jobs

import (
	"context"
	"time"

	"github.com/FrankFordB/Restos-sub003/pkg/domain"
	"github.com/FrankFordB/Restos-sub003/pkg/logger"
	"github.com/google/uuid"
)

// ReminderStats counts one reminder run.
type ReminderStats struct {
	Sent    int `json:"sent"`
	Skipped int `json:"skipped"`
	Errors  int `json:"errors"`
}

// Reminders finds tenants whose renewal falls inside the reminder window
// and emits one notification per renewal cycle.
type Reminders struct {
	tenants domain.TenantRepository
	logs    domain.SubscriptionLogRepository
	notify  domain.Notifier
	log     logger.Logger

	windowDays int
}

// NewReminders creates the renewal-reminder job.
func NewReminders(tenants domain.TenantRepository, logs domain.SubscriptionLogRepository, notify domain.Notifier, log logger.Logger, windowDays int) *Reminders {
	if windowDays <= 0 {
		windowDays = 3
	}
	return &Reminders{
		tenants:    tenants,
		logs:       logs,
		notify:     notify,
		log:        log,
		windowDays: windowDays,
	}
}

// Run emits reminders for renewals due within the window. The subscription
// log is the dedup record: one reminder per tenant per cycle.
func (r *Reminders) Run(ctx context.Context) (*ReminderStats, error) {
	now := time.Now().UTC()
	stats := &ReminderStats{}

	tenants, err := r.tenants.ListUpcomingRenewals(ctx, now, now.AddDate(0, 0, r.windowDays))
	if err != nil {
		return nil, err
	}

	for _, t := range tenants {
		if t.PremiumUntil == nil {
			continue
		}

		// One reminder per cycle: anything logged since the period started
		// (renewal date minus one month) means this cycle is covered.
		cycleStart := t.PremiumUntil.AddDate(0, -1, 0)
		already, err := r.logs.HasEventSince(ctx, t.ID, domain.LogRenewalReminder, cycleStart)
		if err != nil {
			r.log.Error("reminders: dedup lookup failed", "tenant_id", t.ID, "error", err)
			stats.Errors++
			continue
		}
		if already {
			stats.Skipped++
			continue
		}

		if err := r.notify.RenewalReminder(ctx, t, *t.PremiumUntil); err != nil {
			r.log.Error("reminders: notification failed", "tenant_id", t.ID, "error", err)
			stats.Errors++
			continue
		}

		if err := r.logs.Append(ctx, &domain.SubscriptionLog{
			ID:          uuid.NewString(),
			TenantID:    t.ID,
			EventType:   domain.LogRenewalReminder,
			Description: "renewal reminder emitted",
			Metadata:    map[string]any{"renews_at": t.PremiumUntil, "tier": t.Tier},
		}); err != nil {
			r.log.Error("reminders: failed to append log", "tenant_id", t.ID, "error", err)
			stats.Errors++
			continue
		}
		stats.Sent++
	}

	r.log.Info("renewal reminders finished", "sent", stats.Sent, "skipped", stats.Skipped, "errors", stats.Errors)
	return stats, nil
}
