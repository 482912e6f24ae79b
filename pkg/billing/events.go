package billing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/FrankFordB/Restos-sub003/pkg/domain"
	"github.com/FrankFordB/Restos-sub003/pkg/mercadopago"
)

// Notification is the raw provider webhook body. Mercado Pago sends ids as
// either strings or numbers depending on the topic, so fields are normalized
// during decoding.
type Notification struct {
	EventID    string
	Topic      string
	Action     string
	ResourceID string
}

type rawNotification struct {
	ID     json.RawMessage `json:"id"`
	Type   string          `json:"type"`
	Topic  string          `json:"topic"`
	Action string          `json:"action"`
	Data   struct {
		ID json.RawMessage `json:"id"`
	} `json:"data"`
	// Legacy topic-style notifications carry the resource id at top level.
	Resource string `json:"resource"`
}

// ParseNotification decodes a webhook body into a normalized Notification.
func ParseNotification(body []byte) (*Notification, error) {
	var raw rawNotification
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode notification: %w", err)
	}

	topic := raw.Type
	if topic == "" {
		topic = raw.Topic
	}

	resourceID := flexString(raw.Data.ID)
	if resourceID == "" && raw.Resource != "" {
		// Legacy format: "resource" is a URL or a bare id; keep the last segment.
		parts := strings.Split(strings.TrimRight(raw.Resource, "/"), "/")
		resourceID = parts[len(parts)-1]
	}

	return &Notification{
		EventID:    flexString(raw.ID),
		Topic:      topic,
		Action:     raw.Action,
		ResourceID: resourceID,
	}, nil
}

func flexString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

// Event is the classified form of a notification.
type Event interface {
	isEvent()
}

// SubscriptionEvent references a preapproval (recurring agreement).
type SubscriptionEvent struct {
	ResourceID string
	Action     string
}

// PaymentEvent references a single charge.
type PaymentEvent struct {
	ResourceID string
	Action     string
}

// UnknownEvent is any topic this system does not handle.
type UnknownEvent struct {
	Topic      string
	ResourceID string
}

func (SubscriptionEvent) isEvent() {}
func (PaymentEvent) isEvent()      {}
func (UnknownEvent) isEvent()      {}

// Classify maps a notification's declared topic to a tagged event variant.
func Classify(n *Notification) Event {
	switch n.Topic {
	case "subscription_preapproval", "preapproval":
		return SubscriptionEvent{ResourceID: n.ResourceID, Action: n.Action}
	case "payment", "subscription_authorized_payment":
		return PaymentEvent{ResourceID: n.ResourceID, Action: n.Action}
	default:
		return UnknownEvent{Topic: n.Topic, ResourceID: n.ResourceID}
	}
}

// MapPreapprovalStatus maps a provider agreement status to the internal
// subscription status. The second return is false for statuses this system
// does not act on.
func MapPreapprovalStatus(providerStatus string) (domain.SubscriptionStatus, bool) {
	switch providerStatus {
	case mercadopago.PreapprovalAuthorized:
		return domain.SubscriptionActive, true
	case mercadopago.PreapprovalPending:
		return domain.SubscriptionPending, true
	case mercadopago.PreapprovalPaused:
		return domain.SubscriptionPastDue, true
	case mercadopago.PreapprovalCancelled:
		return domain.SubscriptionCancelled, true
	case mercadopago.PreapprovalExpired:
		return domain.SubscriptionExpired, true
	default:
		return "", false
	}
}

// MapPaymentStatus maps a subscription payment's status to the internal
// subscription status. A single rejected payment means past_due, never a
// downgrade; only explicit cancellation/expiry events (or the sweep's grace
// window) terminate the agreement.
func MapPaymentStatus(providerStatus string) (domain.SubscriptionStatus, bool) {
	switch providerStatus {
	case mercadopago.PaymentApproved:
		return domain.SubscriptionActive, true
	case mercadopago.PaymentRejected, mercadopago.PaymentCancelled,
		mercadopago.PaymentRefunded, mercadopago.PaymentChargedBack:
		return domain.SubscriptionPastDue, true
	default:
		// pending / in_process resolve later; nothing to apply yet.
		return "", false
	}
}

// MapOrderPaymentStatus maps a storefront payment status onto the order's
// payment state.
func MapOrderPaymentStatus(providerStatus string) (domain.PaymentStatus, bool) {
	switch providerStatus {
	case mercadopago.PaymentApproved:
		return domain.PaymentApproved, true
	case mercadopago.PaymentRejected:
		return domain.PaymentRejected, true
	case mercadopago.PaymentCancelled:
		return domain.PaymentCancelled, true
	case mercadopago.PaymentRefunded, mercadopago.PaymentChargedBack:
		return domain.PaymentRefunded, true
	case mercadopago.PaymentPending, mercadopago.PaymentInProcess:
		return domain.PaymentPending, true
	default:
		return "", false
	}
}

// SignatureManifest builds the canonical string the provider signs:
// "id:<resourceId>;request-id:<requestId>;ts:<timestamp>;". Alphanumeric
// resource ids are lowercased per the provider's signing rules.
func SignatureManifest(resourceID, requestID, ts string) string {
	return fmt.Sprintf("id:%s;request-id:%s;ts:%s;", strings.ToLower(resourceID), requestID, ts)
}

// VerifySignature checks an "ts=<unix>,v1=<hex-hmac>" signature header
// against the HMAC-SHA256 of the manifest. Returns false for malformed
// headers as well as mismatches.
func VerifySignature(secret, signatureHeader, resourceID, requestID string) bool {
	var ts, v1 string
	for _, part := range strings.Split(signatureHeader, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch strings.TrimSpace(key) {
		case "ts":
			ts = strings.TrimSpace(value)
		case "v1":
			v1 = strings.TrimSpace(value)
		}
	}
	if ts == "" || v1 == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(SignatureManifest(resourceID, requestID, ts)))
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(v1))
}
