package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hackgods/office-parking-reservations/internal/booking"
	"github.com/hackgods/office-parking-reservations/internal/observability"
)

type RouterConfig struct {
	Service *booking.Service
	Checks  map[string]HealthCheck
	Logger  observability.Logger
	Env     string
	Version string
}

func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = observability.NewNopLogger()
	}
	validate := NewRequestValidator()

	r := chi.NewRouter()

	// Apply middleware
	r.Use(middleware.Recoverer)
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(MetricsMiddleware)
	r.Use(TracingMiddleware)

	// Health endpoints
	health := NewHealthHandler(cfg.Checks, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	// Booking API contract
	r.Get("/parking/slots", listSlotsHandler(cfg.Service))
	r.Post("/bookings", createBookingHandler(cfg.Service, validate))
	r.Post("/bookings/cancel", cancelBookingHandler(cfg.Service, validate))
	r.Get("/bookings", listBookingsHandler(cfg.Service))

	r.Get("/availability", availabilityHandler(cfg.Service))
	r.Get("/presets", presetsHandler())
	r.Post("/bookings/random", randomBookingHandler(cfg.Service, validate))
	r.Get("/bookings/{id}", getBookingHandler(cfg.Service))
	r.Delete("/bookings/{id}", deleteBookingHandler(cfg.Service))
	r.Get("/users/{email}/bookings", myBookingsHandler(cfg.Service))
	r.Post("/users/{email}/bookings/reconcile", reconcileHandler(cfg.Service))
	r.Post("/zones/{zone}/refresh", refreshZoneHandler(cfg.Service))

	return r
}
