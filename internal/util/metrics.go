package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BookingsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bookings_created_total",
		Help: "Total number of bookings created",
	})

	BookingsCreateReplayedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bookings_create_replayed_total",
		Help: "Total number of create calls answered from an existing idempotency key",
	})

	BookingsConfirmedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bookings_confirmed_total",
		Help: "Total number of bookings confirmed by payment capture",
	})

	BookingsPaymentFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bookings_payment_failed_total",
		Help: "Total number of bookings whose payment failed",
	})

	BookingsCancelledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bookings_cancelled_total",
		Help: "Total number of bookings cancelled",
	}, []string{"by"})

	BookingsCompletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bookings_completed_total",
		Help: "Total number of bookings completed",
	})

	RefundsIssuedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "refunds_issued_total",
		Help: "Total number of refunds issued through the payment gateway",
	})

	WebhookEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_webhook_events_total",
		Help: "Inbound payment webhook deliveries by outcome",
	}, []string{"outcome"})

	OtpIssuedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "booking_otp_issued_total",
		Help: "One-time codes issued by type",
	}, []string{"type"})

	OtpVerifyFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "booking_otp_verify_failed_total",
		Help: "Failed OTP verifications by type",
	}, []string{"type"})

	GatewayRequestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "payment_gateway_request_latency_seconds",
		Help:    "Latency of payment gateway calls",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	QuoteLookupLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "quote_lookup_latency_seconds",
		Help:    "Latency of quote resolver lookups",
		Buckets: prometheus.DefBuckets,
	})

	NotificationPublishFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "notification_publish_failed_total",
		Help: "Best-effort notification publishes that failed",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
