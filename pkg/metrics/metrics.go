package metrics

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Billing metrics
	WebhooksReceived    *prometheus.CounterVec
	SubscriptionChanges *prometheus.CounterVec
	SweepTransitions    *prometheus.CounterVec
	CheckoutsInitiated  prometheus.Counter
	CheckoutsRejected   prometheus.Counter
	SubscriptionsSold   *prometheus.CounterVec

	// Provider metrics
	ProviderRequestDuration *prometheus.HistogramVec
}

// New creates a new Metrics instance with all metrics registered
func New() *Metrics {
	return &Metrics{
		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
		WebhooksReceived: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_webhooks_received_total",
				Help: "Webhook deliveries by topic and outcome",
			},
			[]string{"topic", "outcome"},
		),
		SubscriptionChanges: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_subscription_transitions_total",
				Help: "Subscription status transitions by target status",
			},
			[]string{"status"},
		),
		SweepTransitions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_sweep_transitions_total",
				Help: "Sweep-driven tenant transitions by pass",
			},
			[]string{"pass"},
		),
		CheckoutsInitiated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "storefront_checkouts_initiated_total",
			Help: "Total number of checkout preferences requested",
		}),
		CheckoutsRejected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "storefront_checkouts_rejected_total",
			Help: "Total number of checkouts the provider rejected",
		}),
		SubscriptionsSold: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "subscriptions_sold_total",
				Help: "Total number of subscriptions created",
			},
			[]string{"plan"},
		),
		ProviderRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mercadopago_request_duration_seconds",
				Help:    "Payment provider request latency in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"operation", "status"},
		),
	}
}

// Middleware creates an Echo middleware for Prometheus metrics
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()
			path := c.Path() // route pattern, not the raw URL

			err := next(c)

			status := c.Response().Status
			duration := time.Since(start).Seconds()

			m.HTTPRequestsTotal.WithLabelValues(req.Method, path, strconv.Itoa(status)).Inc()
			m.HTTPRequestDuration.WithLabelValues(req.Method, path, strconv.Itoa(status)).Observe(duration)

			return err
		}
	}
}

// RecordWebhook counts one delivery outcome.
func (m *Metrics) RecordWebhook(topic, outcome string) {
	m.WebhooksReceived.WithLabelValues(topic, outcome).Inc()
}

// RecordSubscriptionChange counts one applied transition.
func (m *Metrics) RecordSubscriptionChange(status string) {
	m.SubscriptionChanges.WithLabelValues(status).Inc()
}

// RecordSweepTransition counts one sweep-driven change.
func (m *Metrics) RecordSweepTransition(pass string) {
	m.SweepTransitions.WithLabelValues(pass).Inc()
}

// RecordCheckout counts one initiated checkout.
func (m *Metrics) RecordCheckout() {
	m.CheckoutsInitiated.Inc()
}

// RecordCheckoutRejected counts one provider-rejected checkout.
func (m *Metrics) RecordCheckoutRejected() {
	m.CheckoutsRejected.Inc()
}

// RecordSubscriptionSold counts one created subscription.
func (m *Metrics) RecordSubscriptionSold(plan string) {
	m.SubscriptionsSold.WithLabelValues(plan).Inc()
}

// RecordProviderRequest records one provider call.
func (m *Metrics) RecordProviderRequest(operation, status string, duration time.Duration) {
	m.ProviderRequestDuration.WithLabelValues(operation, status).Observe(duration.Seconds())
}
