package booking

import "time"

// Event drives a booking from one state to the next.
type Event string

const (
	EventConfirm Event = "confirm"
	EventTimeout Event = "timeout"
	EventCancel  Event = "cancel"
)

var transitions = map[BookingState]map[Event]BookingState{
	StatePending: {
		EventConfirm: StateConfirmed,
		EventTimeout: StateExpired,
	},
	StateConfirmed: {
		EventCancel: StateCancelled,
	},
}

// Next returns the state reached by applying ev to from.
func Next(from BookingState, ev Event) (BookingState, error) {
	to, ok := transitions[from][ev]
	if !ok {
		return "", &TransitionError{From: from, Event: ev}
	}
	return to, nil
}

// Terminal reports whether no event can leave the state.
func (s BookingState) Terminal() bool {
	return len(transitions[s]) == 0
}

// Apply moves b to the next state and stamps UpdatedAt. b is left untouched on error.
func (b *Booking) Apply(ev Event, now time.Time) error {
	to, err := Next(b.State, ev)
	if err != nil {
		return err
	}
	b.State = to
	b.UpdatedAt = now
	return nil
}
