package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CheckoutSessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticketpay_checkout_sessions_total",
			Help: "Checkout session initiations by result",
		},
		[]string{"result"},
	)

	WebhookEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticketpay_webhook_events_total",
			Help: "Webhook deliveries by outcome",
		},
		[]string{"outcome"},
	)

	BookingsCompletedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ticketpay_bookings_completed_total",
			Help: "Bookings finalized successfully",
		},
	)

	FinalizationFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticketpay_finalization_failures_total",
			Help: "Per-line-item finalization failures by reason",
		},
		[]string{"reason"},
	)

	OversellRejectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ticketpay_oversell_rejections_total",
			Help: "Finalizations rejected by the stock floor guard",
		},
	)

	AuditWriteFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ticketpay_audit_write_failures_total",
			Help: "Transaction audit rows that could not be written; alert on any increase",
		},
	)

	FinalizeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ticketpay_finalize_seconds",
			Help:    "Duration of per-line-item finalization",
			Buckets: prometheus.DefBuckets,
		},
	)
)
