package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/FrankFordB/Restos-sub003/pkg/domain"
	"github.com/FrankFordB/Restos-sub003/pkg/logger"
	"github.com/google/uuid"
)

const dedupTTL = 48 * time.Hour

// EventRouter is the downstream the gateway dispatches classified events to.
type EventRouter interface {
	ProcessSubscriptionEvent(ctx context.Context, ev SubscriptionEvent) (Outcome, error)
	ProcessPaymentEvent(ctx context.Context, ev PaymentEvent) (Outcome, error)
}

// Inbound carries one received notification plus its transport metadata.
type Inbound struct {
	Body      []byte
	RequestID string
	Signature string
	SourceIP  string
}

// ReceiptStatus summarizes what the gateway did with a delivery.
type ReceiptStatus string

const (
	ReceiptProcessed   ReceiptStatus = "processed"
	ReceiptIgnored     ReceiptStatus = "ignored"
	ReceiptDuplicate   ReceiptStatus = "duplicate"
	ReceiptNoResource  ReceiptStatus = "no_resource"
	ReceiptUnreadable  ReceiptStatus = "unreadable"
	ReceiptUnverified  ReceiptStatus = "unverified"
)

// Receipt is the gateway's answer for one delivery. A non-nil error from
// Receive means a transient failure: the handler answers 5xx so the
// provider redelivers.
type Receipt struct {
	Status ReceiptStatus
	Detail string
}

// Gateway ingests provider notifications: dedup, optional signature
// verification, audit-first persistence, dispatch, outcome marking.
// The transport is at-least-once; the gateway guarantees at-most-once
// side effects per event key.
type Gateway struct {
	events domain.WebhookEventRepository
	cache  domain.CacheRepository
	router EventRouter
	log    logger.Logger

	secret string
	strict bool
}

// NewGateway creates a webhook ingestion gateway. The secret enables
// signature verification; strict makes a mismatch drop the event instead
// of merely logging it.
func NewGateway(events domain.WebhookEventRepository, cache domain.CacheRepository, router EventRouter, log logger.Logger, secret string, strict bool) *Gateway {
	return &Gateway{
		events: events,
		cache:  cache,
		router: router,
		log:    log,
		secret: secret,
		strict: strict,
	}
}

// Receive handles one webhook delivery end to end.
func (g *Gateway) Receive(ctx context.Context, in Inbound) (Receipt, error) {
	n, err := ParseNotification(in.Body)
	if err != nil {
		// Malformed bodies can never become processable; ack so the
		// provider stops retrying.
		g.log.Warn("unreadable webhook body", "request_id", in.RequestID, "error", err)
		return Receipt{Status: ReceiptUnreadable, Detail: "unreadable body"}, nil
	}

	if n.ResourceID == "" {
		g.log.Warn("webhook without resource id", "topic", n.Topic, "request_id", in.RequestID)
		return Receipt{Status: ReceiptNoResource, Detail: "missing data.id"}, nil
	}

	key := eventKey(n, in.RequestID)

	// Fast path: a processed marker in redis short-circuits before any row
	// lookup. Postgres remains the authoritative dedup below.
	if g.cache != nil {
		if seen, err := g.cache.Exists(ctx, dedupKey(key)); err == nil && seen {
			return Receipt{Status: ReceiptDuplicate, Detail: "already processed"}, nil
		}
	}

	sigValid := g.verifySignature(n, in)

	ev := &domain.WebhookEvent{
		ID:             uuid.NewString(),
		EventKey:       key,
		Topic:          n.Topic,
		Action:         n.Action,
		ResourceID:     n.ResourceID,
		Payload:        string(in.Body),
		SourceIP:       in.SourceIP,
		SignatureValid: sigValid,
		Status:         domain.WebhookPending,
	}

	inserted, prior, err := g.events.InsertPending(ctx, ev)
	if err != nil {
		return Receipt{}, fmt.Errorf("failed to persist webhook event: %w", err)
	}
	if !inserted {
		if prior.Status == domain.WebhookProcessed {
			g.markSeen(ctx, key)
			return Receipt{Status: ReceiptDuplicate, Detail: "already processed"}, nil
		}
		// A pending or errored prior row means an earlier attempt crashed
		// or failed transiently; this redelivery resumes it.
		g.log.Info("reprocessing webhook event", "event_key", key, "prior_status", string(prior.Status))
	}

	if g.strict && sigValid != nil && !*sigValid {
		// Fail-closed mode: record and ack, never act.
		_ = g.events.MarkOutcome(ctx, key, domain.WebhookIgnored, "signature verification failed")
		return Receipt{Status: ReceiptUnverified, Detail: "signature verification failed"}, nil
	}

	outcome, procErr := g.dispatch(ctx, n)
	if procErr != nil {
		_ = g.events.MarkOutcome(ctx, key, domain.WebhookError, procErr.Error())
		return Receipt{}, procErr
	}

	if err := g.events.MarkOutcome(ctx, key, outcome.Status, outcome.Detail); err != nil {
		// The side effects landed; losing the outcome mark must not force a
		// redelivery that would be deduped anyway.
		g.log.Error("failed to mark webhook outcome", "event_key", key, "error", err)
	}
	g.markSeen(ctx, key)

	if outcome.Status == domain.WebhookIgnored {
		return Receipt{Status: ReceiptIgnored, Detail: outcome.Detail}, nil
	}
	return Receipt{Status: ReceiptProcessed, Detail: outcome.Detail}, nil
}

func (g *Gateway) dispatch(ctx context.Context, n *Notification) (Outcome, error) {
	switch ev := Classify(n).(type) {
	case SubscriptionEvent:
		return g.router.ProcessSubscriptionEvent(ctx, ev)
	case PaymentEvent:
		return g.router.ProcessPaymentEvent(ctx, ev)
	case UnknownEvent:
		g.log.Debug("unhandled webhook topic", "topic", ev.Topic, "resource_id", ev.ResourceID)
		return ignored(fmt.Sprintf("unhandled topic %q", ev.Topic)), nil
	default:
		return ignored("unclassifiable event"), nil
	}
}

// verifySignature returns nil when verification was not attempted (no
// secret configured or no signature header sent).
func (g *Gateway) verifySignature(n *Notification, in Inbound) *bool {
	if g.secret == "" || in.Signature == "" {
		return nil
	}
	valid := VerifySignature(g.secret, in.Signature, n.ResourceID, in.RequestID)
	if !valid {
		g.log.Warn("webhook signature verification failed",
			"resource_id", n.ResourceID, "request_id", in.RequestID, "source_ip", in.SourceIP)
	}
	return &valid
}

func (g *Gateway) markSeen(ctx context.Context, key string) {
	if g.cache == nil {
		return
	}
	if err := g.cache.Set(ctx, dedupKey(key), "1", dedupTTL); err != nil {
		g.log.Debug("failed to set dedup marker", "event_key", key, "error", err)
	}
}

// eventKey derives the stable dedup key for a delivery: the provider event
// id when present, else the transport request id, else a synthesized key
// that can never collide (and therefore never dedups).
func eventKey(n *Notification, requestID string) string {
	if n.EventID != "" {
		return "evt:" + n.EventID
	}
	if requestID != "" {
		return "req:" + requestID
	}
	return "syn:" + uuid.NewString()
}

func dedupKey(key string) string {
	return "webhook:dedup:" + key
}
