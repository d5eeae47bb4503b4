package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parking_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "code", "method"},
	)

	ReservationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parking_reservations_total",
			Help: "Reservation attempts by outcome",
		},
		[]string{"outcome"},
	)

	CancellationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parking_cancellations_total",
			Help: "Cancellation attempts by outcome",
		},
		[]string{"outcome"},
	)

	ExpiredBookingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parking_expired_bookings_total",
			Help: "Pending bookings abandoned, by reason",
		},
		[]string{"reason"},
	)

	LockWaitSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "parking_lock_wait_seconds",
			Help:    "Time spent waiting for a slot/date lock",
			Buckets: prometheus.DefBuckets,
		},
	)

	CatalogRefreshFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "parking_catalog_refresh_failures_total",
			Help: "Slot catalog refreshes that fell back to the previous snapshot",
		},
	)

	CacheSyncFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parking_cache_sync_failures_total",
			Help: "Booking cache writes that failed, by operation",
		},
		[]string{"op"},
	)

	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parking_events_total",
			Help: "Booking lifecycle events by type and result",
		},
		[]string{"type", "result"},
	)
)
