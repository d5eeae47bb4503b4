package booking

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

var (
	ErrCatalogUnavailable = errors.New("slot catalog unavailable")
	ErrSlotConflict       = errors.New("slot already booked for an overlapping range")
	ErrSlotOccupied       = errors.New("slot is not available")
	ErrSlotBusy           = errors.New("slot is currently being booked")
	ErrInvalidTransition  = errors.New("invalid booking state transition")
	ErrNotCancellable     = errors.New("booking is not cancellable")
	ErrCancellation       = errors.New("cancellation failed")
	ErrReservation        = errors.New("reservation failed")
	ErrInvalidRange       = errors.New("invalid time range")
	ErrInvalidRequest     = errors.New("invalid reservation request")
	ErrSlotNotFound       = errors.New("slot not found")
	ErrBookingNotFound    = errors.New("booking not found")
	ErrCacheStale         = errors.New("local booking cache could not be updated")
	ErrNoSlotAvailable    = errors.New("no slot available for the requested range")
	ErrKeyNotFound        = errors.New("key not found")
)

// ConflictError names the confirmed range that blocked a reservation.
type ConflictError struct {
	SlotID      string
	Date        Date
	Conflicting TimeRange
	BookingID   string
}

func (e *ConflictError) Error() string {
	if e.Conflicting.Valid() {
		return fmt.Sprintf("slot %s on %s conflicts with confirmed booking %s", e.SlotID, e.Date, e.Conflicting)
	}
	return fmt.Sprintf("slot %s on %s conflicts with a confirmed booking", e.SlotID, e.Date)
}

func (e *ConflictError) Is(target error) bool { return target == ErrSlotConflict }

// ReservationError is a generic submission failure. The user may retry.
type ReservationError struct {
	Message    string
	StatusCode int
	Err        error
}

func (e *ReservationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("reservation failed: %s: %v", e.Message, e.Err)
	}
	return "reservation failed: " + e.Message
}

func (e *ReservationError) Unwrap() error        { return e.Err }
func (e *ReservationError) Is(target error) bool { return target == ErrReservation }

// CancellationError reports a rejected or failed cancel submission.
type CancellationError struct {
	BookingID  string
	Message    string
	StatusCode int
	Err        error
}

func (e *CancellationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("cancel booking %s: %s: %v", e.BookingID, e.Message, e.Err)
	}
	return fmt.Sprintf("cancel booking %s: %s", e.BookingID, e.Message)
}

func (e *CancellationError) Unwrap() error        { return e.Err }
func (e *CancellationError) Is(target error) bool { return target == ErrCancellation }

type NotCancellableError struct {
	BookingID string
	State     BookingState
}

func (e *NotCancellableError) Error() string {
	if e.State == "" {
		return fmt.Sprintf("booking %s is not cancellable: unknown booking", e.BookingID)
	}
	return fmt.Sprintf("booking %s is not cancellable from state %s", e.BookingID, e.State)
}

func (e *NotCancellableError) Is(target error) bool { return target == ErrNotCancellable }

type TransitionError struct {
	From  BookingState
	Event Event
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid booking state transition: %s on %s", e.Event, e.From)
}

func (e *TransitionError) Is(target error) bool { return target == ErrInvalidTransition }

// CatalogUnavailableError is returned alongside the last known snapshot.
type CatalogUnavailableError struct {
	Zone  string
	Date  Date
	Stale bool
	Err   error
}

func (e *CatalogUnavailableError) Error() string {
	return fmt.Sprintf("slot catalog unavailable for %s on %s: %v", e.Zone, e.Date, e.Err)
}

func (e *CatalogUnavailableError) Unwrap() error        { return e.Err }
func (e *CatalogUnavailableError) Is(target error) bool { return target == ErrCatalogUnavailable }

// CacheSyncError means the ledger operation succeeded but the user's
// cached booking list could not be updated. Reconcile repairs it.
type CacheSyncError struct {
	UserEmail string
	Err       error
}

func (e *CacheSyncError) Error() string {
	return fmt.Sprintf("booking cache for %s is stale: %v", e.UserEmail, e.Err)
}

func (e *CacheSyncError) Unwrap() error        { return e.Err }
func (e *CacheSyncError) Is(target error) bool { return target == ErrCacheStale }
