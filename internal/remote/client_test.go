package remote_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/office-parking-reservations/internal/booking"
	"github.com/hackgods/office-parking-reservations/internal/remote"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func mustRange(t *testing.T, date booking.Date, from, to string) booking.TimeRange {
	t.Helper()
	r, err := booking.ClockRange(date, from, to, time.UTC)
	require.NoError(t, err)
	return r
}

func TestClient_FetchSlots(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/parking/slots", r.URL.Path)
		assert.Equal(t, "iSprout", r.URL.Query().Get("zone"))
		assert.Equal(t, "2025-11-20", r.URL.Query().Get("date"))
		writeJSON(w, http.StatusOK, []remote.SlotDTO{
			{SlotNumber: "P01", IsOccupied: false},
			{SlotNumber: "P02", IsOccupied: true},
		})
	}))
	defer srv.Close()

	c := remote.NewClient(srv.URL)
	slots, err := c.FetchSlots(context.Background(), "iSprout", "2025-11-20")
	require.NoError(t, err)
	require.Len(t, slots, 2)
	assert.Equal(t, booking.Slot{ID: "P01", Zone: "iSprout"}, slots[0])
	assert.True(t, slots[1].Occupied)
}

func TestClient_SubmitBookingConflict(t *testing.T) {
	date := booking.Date("2025-11-20")
	blocker := mustRange(t, date, "08:00", "12:00")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req remote.CreateBookingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "P02", req.ParkingSlotNumber)
		writeJSON(w, http.StatusConflict, remote.ErrorResponse{
			Error:       "slot_conflict",
			Conflicting: &remote.RangeDTO{Start: blocker.Start, End: blocker.End},
		})
	}))
	defer srv.Close()

	c := remote.NewClient(srv.URL)
	_, err := c.SubmitBooking(context.Background(), booking.Booking{
		SlotID:    "P02",
		Date:      date,
		UserEmail: "a@example.com",
		Range:     mustRange(t, date, "10:00", "14:00"),
	})

	var conflict *booking.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.True(t, conflict.Conflicting.Start.Equal(blocker.Start))
	assert.True(t, conflict.Conflicting.End.Equal(blocker.End))
	assert.ErrorIs(t, err, booking.ErrSlotConflict)
}

func TestClient_SubmitBookingRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, remote.ErrorResponse{Error: "invalid_request", Message: "slot closed"})
	}))
	defer srv.Close()

	c := remote.NewClient(srv.URL)
	_, err := c.SubmitBooking(context.Background(), booking.Booking{SlotID: "P01", Date: "2025-11-20"})

	var resErr *booking.ReservationError
	require.ErrorAs(t, err, &resErr)
	assert.Equal(t, "slot closed", resErr.Message)
	assert.Equal(t, http.StatusBadRequest, resErr.StatusCode)
}

func TestClient_SubmitCancellationUsesRemoteID(t *testing.T) {
	var got remote.CancelBookingRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/bookings/cancel", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := remote.NewClient(srv.URL)
	err := c.SubmitCancellation(context.Background(), booking.Booking{ID: "local-1", RemoteID: "remote-9"})
	require.NoError(t, err)
	assert.Equal(t, "remote-9", got.BookingID)
}

func TestClient_SubmitCancellationFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusConflict, remote.ErrorResponse{Error: "not_cancellable", Message: "already cancelled"})
	}))
	defer srv.Close()

	c := remote.NewClient(srv.URL)
	err := c.SubmitCancellation(context.Background(), booking.Booking{ID: "b-1"})

	var cerr *booking.CancellationError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "already cancelled", cerr.Message)
	assert.ErrorIs(t, err, booking.ErrCancellation)
}

func TestClient_ConfirmedForUserFiltersStates(t *testing.T) {
	start := time.Date(2025, 11, 20, 9, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "dev@example.com", r.URL.Query().Get("userEmail"))
		writeJSON(w, http.StatusOK, []remote.BookingDTO{
			{BookingID: "b1", UserEmail: "dev@example.com", ParkingSlotNumber: "P01", BookingStartDateTime: start, BookingEndDateTime: start.Add(time.Hour)},
			{BookingID: "b2", UserEmail: "dev@example.com", ParkingSlotNumber: "P02", BookingStartDateTime: start, BookingEndDateTime: start.Add(time.Hour), Status: "cancelled"},
		})
	}))
	defer srv.Close()

	c := remote.NewClient(srv.URL)
	list, err := c.ConfirmedForUser(context.Background(), "dev@example.com")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "b1", list[0].ID)
	assert.Equal(t, booking.Date("2025-11-20"), list[0].Date)
	assert.Equal(t, booking.StateConfirmed, list[0].State)
}

func TestClient_BreakerOpensOnServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := remote.NewClient(srv.URL)
	for i := 0; i < 5; i++ {
		_, err := c.FetchSlots(context.Background(), "iSprout", "2025-11-20")
		require.Error(t, err)
	}

	_, err := c.FetchSlots(context.Background(), "iSprout", "2025-11-20")
	assert.ErrorIs(t, err, remote.ErrUnavailable)
	assert.Equal(t, int32(5), hits.Load())
}

func TestClient_ConflictsDoNotTripBreaker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusConflict, remote.ErrorResponse{Error: "slot_conflict"})
	}))
	defer srv.Close()

	c := remote.NewClient(srv.URL)
	for i := 0; i < 8; i++ {
		_, err := c.SubmitBooking(context.Background(), booking.Booking{SlotID: "P01", Date: "2025-11-20"})
		require.ErrorIs(t, err, booking.ErrSlotConflict)
	}
}

func TestLedger_UpstreamConflictExpiresPending(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusConflict, remote.ErrorResponse{Error: "slot_conflict"})
	}))
	defer srv.Close()

	store := booking.NewMemoryStore(booking.Slot{ID: "P04", Zone: booking.DefaultZone})
	ledger := booking.NewLedger(store, nil, remote.NewClient(srv.URL), nil, nil, time.Second)

	date := booking.Date("2025-11-20")
	_, err := ledger.TryReserve(context.Background(), booking.ReserveRequest{
		SlotID:    "P04",
		Date:      date,
		Range:     mustRange(t, date, "09:00", "17:00"),
		UserEmail: "a@example.com",
	})
	require.ErrorIs(t, err, booking.ErrSlotConflict)

	all, err := store.ListByUser(context.Background(), "a@example.com", "")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, booking.StateExpired, all[0].State)
}
