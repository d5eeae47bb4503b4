package remote

import (
	"time"

	"github.com/hackgods/office-parking-reservations/internal/booking"
)

// Wire types of the booking API. The api-server serves the same contract.

type SlotDTO struct {
	SlotNumber string `json:"slotNumber"`
	IsOccupied bool   `json:"isOccupied"`
}

type CreateBookingRequest struct {
	Username             string    `json:"username" validate:"max=100"`
	UserEmail            string    `json:"userEmail" validate:"required,email"`
	ParkingSlotNumber    string    `json:"parkingSlotNumber" validate:"required,max=32"`
	BookingStartDateTime time.Time `json:"bookingStartDateTime" validate:"required"`
	BookingEndDateTime   time.Time `json:"bookingEndDateTime" validate:"required,gtfield=BookingStartDateTime"`
	Comment              string    `json:"comment" validate:"max=500"`
}

type RandomBookingRequest struct {
	Zone                 string    `json:"zone,omitempty"`
	Date                 string    `json:"date" validate:"required,datetime=2006-01-02"`
	Username             string    `json:"username" validate:"max=100"`
	UserEmail            string    `json:"userEmail" validate:"required,email"`
	BookingStartDateTime time.Time `json:"bookingStartDateTime,omitempty"`
	BookingEndDateTime   time.Time `json:"bookingEndDateTime,omitempty"`
	Comment              string    `json:"comment" validate:"max=500"`
}

type CancelBookingRequest struct {
	BookingID string `json:"bookingId" validate:"required"`
}

type BookingDTO struct {
	BookingID            string    `json:"bookingId"`
	Username             string    `json:"username,omitempty"`
	UserEmail            string    `json:"userEmail"`
	ParkingSlotNumber    string    `json:"parkingSlotNumber"`
	Zone                 string    `json:"zone,omitempty"`
	Date                 string    `json:"date,omitempty"`
	BookingStartDateTime time.Time `json:"bookingStartDateTime"`
	BookingEndDateTime   time.Time `json:"bookingEndDateTime"`
	Status               string    `json:"status,omitempty"`
	Comment              string    `json:"comment,omitempty"`
}

type RangeDTO struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type ErrorResponse struct {
	Error       string    `json:"error"`
	Message     string    `json:"message,omitempty"`
	Conflicting *RangeDTO `json:"conflicting,omitempty"`
}

func ToBookingDTO(b booking.Booking) BookingDTO {
	return BookingDTO{
		BookingID:            b.ID,
		Username:             b.Username,
		UserEmail:            b.UserEmail,
		ParkingSlotNumber:    b.SlotID,
		Zone:                 b.Zone,
		Date:                 b.Date.String(),
		BookingStartDateTime: b.Range.Start,
		BookingEndDateTime:   b.Range.End,
		Status:               string(b.State),
		Comment:              b.Comment,
	}
}

// FromBookingDTO converts a wire booking. A missing date is derived from the
// start time in loc and a missing status means confirmed.
func FromBookingDTO(d BookingDTO, loc *time.Location) booking.Booking {
	date := booking.Date(d.Date)
	if date == "" {
		date = booking.DateOf(d.BookingStartDateTime.In(loc))
	}
	state := booking.BookingState(d.Status)
	if state == "" {
		state = booking.StateConfirmed
	}
	return booking.Booking{
		ID:        d.BookingID,
		RemoteID:  d.BookingID,
		Username:  d.Username,
		UserEmail: d.UserEmail,
		SlotID:    d.ParkingSlotNumber,
		Zone:      d.Zone,
		Date:      date,
		Range:     booking.TimeRange{Start: d.BookingStartDateTime.In(loc), End: d.BookingEndDateTime.In(loc)},
		State:     state,
		Comment:   d.Comment,
	}
}
