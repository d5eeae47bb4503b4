package api

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"

	"github.com/hackgods/office-parking-reservations/internal/booking"
	redisclient "github.com/hackgods/office-parking-reservations/internal/redis"
	"github.com/hackgods/office-parking-reservations/internal/remote"
)

const cacheHeader = "X-Booking-Cache"

func listSlotsHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		date, ok := dateParam(w, r, svc)
		if !ok {
			return
		}

		slots, err := svc.Slots(r.Context(), r.URL.Query().Get("zone"), date)
		if err != nil && slots == nil {
			handleServiceError(w, r, err)
			return
		}
		if err != nil {
			w.Header().Set("X-Catalog-Stale", "true")
		}

		resp := make([]remote.SlotDTO, 0, len(slots))
		for _, s := range slots {
			resp = append(resp, remote.SlotDTO{SlotNumber: s.ID, IsOccupied: s.Occupied})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func availabilityHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		date, ok := dateParam(w, r, svc)
		if !ok {
			return
		}

		q := r.URL.Query()
		rng, err := rangeParam(date, q.Get("start"), q.Get("end"), q.Get("preset"), svc.Location())
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_range", err.Error())
			return
		}

		av, err := svc.Availability(r.Context(), q.Get("zone"), date, rng)
		if av == nil {
			handleServiceError(w, r, err)
			return
		}
		// A stale snapshot is still served; the body says so
		writeJSON(w, http.StatusOK, av)
	}
}

func createBookingHandler(svc *booking.Service, v *RequestValidator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req remote.CreateBookingRequest
		if !decode(w, r, v, &req) {
			return
		}

		loc := svc.Location()
		start := req.BookingStartDateTime.In(loc)
		b, err := svc.Reserve(r.Context(), booking.ReserveRequest{
			SlotID:    req.ParkingSlotNumber,
			Date:      booking.DateOf(start),
			Range:     booking.TimeRange{Start: start, End: req.BookingEndDateTime.In(loc)},
			UserEmail: req.UserEmail,
			Username:  req.Username,
			Comment:   req.Comment,
		})
		writeBooking(w, r, http.StatusCreated, b, err)
	}
}

func randomBookingHandler(svc *booking.Service, v *RequestValidator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req remote.RandomBookingRequest
		if !decode(w, r, v, &req) {
			return
		}

		loc := svc.Location()
		var rng booking.TimeRange
		if !req.BookingStartDateTime.IsZero() || !req.BookingEndDateTime.IsZero() {
			rng = booking.TimeRange{Start: req.BookingStartDateTime.In(loc), End: req.BookingEndDateTime.In(loc)}
		}

		b, err := svc.ReserveAny(r.Context(), booking.AnyRequest{
			Zone:      req.Zone,
			Date:      booking.Date(req.Date),
			Range:     rng,
			UserEmail: req.UserEmail,
			Username:  req.Username,
			Comment:   req.Comment,
		})
		writeBooking(w, r, http.StatusCreated, b, err)
	}
}

func cancelBookingHandler(svc *booking.Service, v *RequestValidator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req remote.CancelBookingRequest
		if !decode(w, r, v, &req) {
			return
		}

		b, err := svc.Cancel(r.Context(), req.BookingID)
		writeBooking(w, r, http.StatusOK, b, err)
	}
}

func deleteBookingHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, err := svc.Cancel(r.Context(), chi.URLParam(r, "id"))
		writeBooking(w, r, http.StatusOK, b, err)
	}
}

func getBookingHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, err := svc.Get(r.Context(), chi.URLParam(r, "id"))
		writeBooking(w, r, http.StatusOK, b, err)
	}
}

func listBookingsHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		email := r.URL.Query().Get("userEmail")
		if email == "" {
			writeError(w, http.StatusBadRequest, "invalid_request", "userEmail is required")
			return
		}

		list, err := svc.UserBookings(r.Context(), email)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toDTOs(list))
	}
}

func myBookingsHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		email, ok := emailParam(w, r)
		if !ok {
			return
		}

		list, err := svc.MyBookings(r.Context(), email)
		if err != nil && !errors.Is(err, booking.ErrCacheStale) {
			handleServiceError(w, r, err)
			return
		}
		if err != nil {
			w.Header().Set(cacheHeader, "stale")
		}
		writeJSON(w, http.StatusOK, toDTOs(list))
	}
}

func reconcileHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		email, ok := emailParam(w, r)
		if !ok {
			return
		}

		list, err := svc.Reconcile(r.Context(), email)
		if err != nil && !errors.Is(err, booking.ErrCacheStale) {
			handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, ReconcileResponse{
			UserEmail:  email,
			Bookings:   toDTOs(list),
			CacheStale: err != nil,
		})
	}
}

func refreshZoneHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		date, ok := dateParam(w, r, svc)
		if !ok {
			return
		}

		if err := svc.Refresh(r.Context(), chi.URLParam(r, "zone"), date); err != nil {
			handleServiceError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func presetsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, booking.PresetRanges)
	}
}

func writeBooking(w http.ResponseWriter, r *http.Request, status int, b *booking.Booking, err error) {
	if b == nil {
		handleServiceError(w, r, err)
		return
	}
	if err != nil {
		// Booking went through; only the user's cached list is behind
		loggerFrom(r.Context()).WithError(err).WithField("booking_id", b.ID).Warn("booking cache stale")
		w.Header().Set(cacheHeader, "stale")
	}
	writeJSON(w, status, remote.ToBookingDTO(*b))
}

func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var conflict *booking.ConflictError

	switch {
	case errors.As(err, &conflict):
		resp := remote.ErrorResponse{Error: "slot_conflict", Message: conflict.Error()}
		if conflict.Conflicting.Valid() {
			resp.Conflicting = &remote.RangeDTO{Start: conflict.Conflicting.Start, End: conflict.Conflicting.End}
		}
		writeJSON(w, http.StatusConflict, resp)
	case errors.Is(err, booking.ErrInvalidRange), errors.Is(err, booking.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, booking.ErrSlotNotFound):
		writeError(w, http.StatusNotFound, "slot_not_found", err.Error())
	case errors.Is(err, booking.ErrBookingNotFound):
		writeError(w, http.StatusNotFound, "booking_not_found", err.Error())
	case errors.Is(err, booking.ErrNoSlotAvailable):
		writeError(w, http.StatusNotFound, "no_slot_available", err.Error())
	case errors.Is(err, booking.ErrNotCancellable):
		writeError(w, http.StatusConflict, "not_cancellable", err.Error())
	case errors.Is(err, booking.ErrSlotOccupied):
		writeError(w, http.StatusConflict, "slot_occupied", err.Error())
	case errors.Is(err, booking.ErrSlotBusy), errors.Is(err, redisclient.ErrLockNotAcquired):
		writeError(w, http.StatusConflict, "slot_being_booked", "slot is currently being booked, please retry shortly")
	case errors.Is(err, booking.ErrCatalogUnavailable):
		writeError(w, http.StatusServiceUnavailable, "catalog_unavailable", err.Error())
	case errors.Is(err, booking.ErrReservation):
		writeError(w, http.StatusBadGateway, "reservation_failed", err.Error())
	case errors.Is(err, booking.ErrCancellation):
		writeError(w, http.StatusBadGateway, "cancellation_failed", err.Error())
	case errors.Is(err, booking.ErrInvalidTransition):
		loggerFrom(r.Context()).WithError(err).Error("invalid booking transition")
		writeError(w, http.StatusInternalServerError, "invalid_transition", err.Error())
	default:
		loggerFrom(r.Context()).WithError(err).Error("request failed")
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func decode(w http.ResponseWriter, r *http.Request, v *RequestValidator, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return false
	}
	if err := v.Validate(dst); err != nil {
		var verrs ValidationErrors
		if errors.As(err, &verrs) {
			writeJSON(w, http.StatusBadRequest, ValidationErrorResponse{
				Error:   "validation_failed",
				Message: verrs.Error(),
				Fields:  verrs,
			})
			return false
		}
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return false
	}
	return true
}

func dateParam(w http.ResponseWriter, r *http.Request, svc *booking.Service) (booking.Date, bool) {
	raw := r.URL.Query().Get("date")
	if raw == "" {
		return booking.DateOf(time.Now().In(svc.Location())), true
	}
	date, err := booking.ParseDate(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date", err.Error())
		return "", false
	}
	return date, true
}

func emailParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	email, err := url.PathUnescape(chi.URLParam(r, "email"))
	if err != nil || !strings.Contains(email, "@") {
		writeError(w, http.StatusBadRequest, "invalid_email", "a user email is required")
		return "", false
	}
	return email, true
}

// rangeParam accepts RFC 3339 instants, HH:MM clock times on date, or a preset
// label such as "09:00 - 17:00". Nothing given means the default day window.
func rangeParam(date booking.Date, start, end, preset string, loc *time.Location) (*booking.TimeRange, error) {
	if preset != "" {
		rng, err := booking.ParsePreset(date, preset, loc)
		if err != nil {
			return nil, err
		}
		return &rng, nil
	}
	if start == "" && end == "" {
		return nil, nil
	}
	if start == "" || end == "" {
		return nil, errors.Wrap(booking.ErrInvalidRange, "both start and end are required")
	}

	s, sErr := time.Parse(time.RFC3339, start)
	e, eErr := time.Parse(time.RFC3339, end)
	if sErr == nil && eErr == nil {
		rng, err := booking.NewTimeRange(s.In(loc), e.In(loc))
		if err != nil {
			return nil, err
		}
		return &rng, nil
	}

	rng, err := booking.ClockRange(date, start, end, loc)
	if err != nil {
		return nil, err
	}
	return &rng, nil
}

func toDTOs(list []booking.Booking) []remote.BookingDTO {
	out := make([]remote.BookingDTO, 0, len(list))
	for _, b := range list {
		out = append(out, remote.ToBookingDTO(b))
	}
	return out
}
