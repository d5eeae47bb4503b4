package booking

import (
	"context"
	"time"
)

// Store contains all persistence the ledger needs.
type Store interface {
	GetSlot(ctx context.Context, id string) (*Slot, error)
	ListSlots(ctx context.Context, zone string) ([]Slot, error)

	// For conflict checks
	ConfirmedForSlot(ctx context.Context, slotID string, date Date) ([]Booking, error)
	GetBooking(ctx context.Context, id string) (*Booking, error)
	ListByUser(ctx context.Context, email string, state BookingState) ([]Booking, error)

	// Creation and updates. UpdateBookingState only succeeds while the booking is
	// still in from; an empty remoteID keeps the stored one.
	InsertBooking(ctx context.Context, b Booking) error
	UpdateBookingState(ctx context.Context, id string, from, to BookingState, remoteID string, at time.Time) (*Booking, error)

	// Expiry worker
	FindStalePending(ctx context.Context, createdBefore time.Time) ([]Booking, error)

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error
}

// Locker serializes critical sections per key.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// Gateway submits bookings and cancellations to whoever is authoritative for them.
type Gateway interface {
	SubmitBooking(ctx context.Context, b Booking) (remoteID string, err error)
	SubmitCancellation(ctx context.Context, b Booking) error
}

// SlotSource fetches the current slot list of a zone.
type SlotSource interface {
	FetchSlots(ctx context.Context, zone string, date Date) ([]Slot, error)
}

// BookingSource lists a user's confirmed bookings for reconciliation.
type BookingSource interface {
	ConfirmedForUser(ctx context.Context, email string) ([]Booking, error)
}

// KVStore is a persisted key-value store with whole-value replace semantics.
// Get returns ErrKeyNotFound for a missing key.
type KVStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
}

// EventSink receives booking lifecycle events.
type EventSink interface {
	RecordEvent(ctx context.Context, ev EventLog) error
}

// LocalGateway is used when the ledger itself is the authority: the booking
// is accepted as-is and keeps its own ID.
type LocalGateway struct{}

func (LocalGateway) SubmitBooking(_ context.Context, b Booking) (string, error) {
	return b.ID, nil
}

func (LocalGateway) SubmitCancellation(context.Context, Booking) error {
	return nil
}

// StoreEvents records events in the store's event log.
type StoreEvents struct {
	Store Store
}

func (s StoreEvents) RecordEvent(ctx context.Context, ev EventLog) error {
	return s.Store.InsertEvent(ctx, ev)
}

// FanOut delivers an event to every sink and reports the first failure.
type FanOut []EventSink

func (f FanOut) RecordEvent(ctx context.Context, ev EventLog) error {
	var first error
	for _, sink := range f {
		if err := sink.RecordEvent(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}
