// Package notify emits billing notifications to tenant operators. Without a
// SendGrid key the service runs log-only: every message is recorded in the
// structured log instead of dispatched.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/FrankFordB/Restos-sub003/pkg/domain"
	"github.com/FrankFordB/Restos-sub003/pkg/logger"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

// Service implements domain.Notifier.
type Service struct {
	fromEmail   string
	fromName    string
	baseURL     string
	sendGridKey string
	log         logger.Logger
}

// NewService creates the notification service. An empty SendGrid key puts
// the service in log-only mode.
func NewService(fromEmail, fromName, baseURL, sendGridAPIKey string, log logger.Logger) *Service {
	if sendGridAPIKey == "" {
		log.Info("notification service in log-only mode")
	}
	return &Service{
		fromEmail:   fromEmail,
		fromName:    fromName,
		baseURL:     baseURL,
		sendGridKey: sendGridAPIKey,
		log:         log,
	}
}

// SubscriptionActivated notifies that the plan is live.
func (s *Service) SubscriptionActivated(ctx context.Context, tenant *domain.Tenant, plan domain.Tier) error {
	subject, html, plain := buildActivatedMessage(tenant.Name, string(plan), s.baseURL)
	return s.deliver(ctx, tenant, "subscription_activated", subject, html, plain)
}

// PaymentFailed notifies that a recurring charge was rejected.
func (s *Service) PaymentFailed(ctx context.Context, tenant *domain.Tenant) error {
	subject, html, plain := buildPaymentFailedMessage(tenant.Name, s.baseURL)
	return s.deliver(ctx, tenant, "payment_failed", subject, html, plain)
}

// SubscriptionCancelled notifies that the agreement ended.
func (s *Service) SubscriptionCancelled(ctx context.Context, tenant *domain.Tenant, endDate *time.Time) error {
	subject, html, plain := buildCancelledMessage(tenant.Name, endDate, s.baseURL)
	return s.deliver(ctx, tenant, "subscription_cancelled", subject, html, plain)
}

// RenewalReminder notifies about an upcoming automatic renewal.
func (s *Service) RenewalReminder(ctx context.Context, tenant *domain.Tenant, renewsAt time.Time) error {
	subject, html, plain := buildReminderMessage(tenant.Name, renewsAt, s.baseURL)
	return s.deliver(ctx, tenant, "renewal_reminder", subject, html, plain)
}

func (s *Service) deliver(_ context.Context, tenant *domain.Tenant, kind, subject, html, plain string) error {
	if s.sendGridKey == "" || tenant.ContactEmail == "" {
		s.log.Info("billing notification",
			"kind", kind, "tenant_id", tenant.ID, "subject", subject)
		return nil
	}

	from := mail.NewEmail(s.fromName, s.fromEmail)
	to := mail.NewEmail(tenant.Name, tenant.ContactEmail)
	message := mail.NewSingleEmail(from, subject, to, plain, html)

	client := sendgrid.NewSendClient(s.sendGridKey)
	response, err := client.Send(message)
	if err != nil {
		return fmt.Errorf("failed to send %s notification: %w", kind, err)
	}
	if response.StatusCode >= 400 {
		return fmt.Errorf("sendgrid returned error status: %d", response.StatusCode)
	}

	s.log.Info("billing notification sent", "kind", kind, "tenant_id", tenant.ID)
	return nil
}
