package booking

import (
	"fmt"
	"time"
)

// DefaultZone is the only car park the service manages.
const DefaultZone = "iSprout"

type BookingState string

const (
	StatePending   BookingState = "pending"
	StateConfirmed BookingState = "confirmed"
	StateCancelled BookingState = "cancelled"
	StateExpired   BookingState = "expired"
)

// Slot is a single physical parking space. Occupied is the coarse,
// date-independent flag reported by the authoritative source.
type Slot struct {
	ID       string `json:"id"`
	Zone     string `json:"zone"`
	Occupied bool   `json:"occupied"`
}

// DefaultSlots returns the car park's ten spaces P01..P10.
func DefaultSlots(zone string) []Slot {
	slots := make([]Slot, 0, 10)
	for i := 1; i <= 10; i++ {
		slots = append(slots, Slot{ID: fmt.Sprintf("P%02d", i), Zone: zone})
	}
	return slots
}

type Booking struct {
	ID        string       `json:"bookingId"`
	RemoteID  string       `json:"remoteId,omitempty"`
	Username  string       `json:"username,omitempty"`
	UserEmail string       `json:"userEmail"`
	SlotID    string       `json:"slotId"`
	Zone      string       `json:"zone"`
	Date      Date         `json:"date"`
	Range     TimeRange    `json:"range"`
	State     BookingState `json:"state"`
	Comment   string       `json:"comment,omitempty"`
	CreatedAt time.Time    `json:"createdAt"`
	UpdatedAt time.Time    `json:"updatedAt"`
}

// ReserveRequest carries everything TryReserve needs to place a booking.
type ReserveRequest struct {
	SlotID    string
	Date      Date
	Range     TimeRange
	UserEmail string
	Username  string
	Comment   string
}

const (
	EventBookingCreated   = "BOOKING_CREATED"
	EventBookingConfirmed = "BOOKING_CONFIRMED"
	EventBookingCancelled = "BOOKING_CANCELLED"
	EventBookingExpired   = "BOOKING_EXPIRED"
)

type EventLog struct {
	ID        int64
	EventType string
	BookingID string
	Payload   []byte
	CreatedAt time.Time
}
