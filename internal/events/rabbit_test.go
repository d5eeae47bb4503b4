package events_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hackgods/office-parking-reservations/internal/booking"
	"github.com/hackgods/office-parking-reservations/internal/events"
)

func TestRoutingKey(t *testing.T) {
	assert.Equal(t, "booking.confirmed", events.RoutingKey(booking.EventBookingConfirmed))
	assert.Equal(t, "booking.expired", events.RoutingKey(booking.EventBookingExpired))
}
