package booking

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
)

// MemoryStore keeps the ledger in process memory. It enforces the same
// no-overlap rule on confirm as the Postgres exclusion constraint.
type MemoryStore struct {
	mu       sync.RWMutex
	slots    map[string]Slot
	bookings map[string]Booking
	events   []EventLog
	nextID   int64
}

func NewMemoryStore(slots ...Slot) *MemoryStore {
	s := &MemoryStore{
		slots:    make(map[string]Slot),
		bookings: make(map[string]Booking),
	}
	for _, slot := range slots {
		s.slots[slot.ID] = slot
	}
	return s
}

// PutSlot adds or replaces a slot.
func (s *MemoryStore) PutSlot(slot Slot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slots[slot.ID] = slot
}

func (s *MemoryStore) GetSlot(_ context.Context, id string) (*Slot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	slot, ok := s.slots[id]
	if !ok {
		return nil, ErrSlotNotFound
	}
	return &slot, nil
}

func (s *MemoryStore) ListSlots(_ context.Context, zone string) ([]Slot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Slot
	for _, slot := range s.slots {
		if slot.Zone == zone {
			out = append(out, slot)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) ConfirmedForSlot(_ context.Context, slotID string, date Date) ([]Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Booking
	for _, b := range s.bookings {
		if b.SlotID == slotID && b.Date == date && b.State == StateConfirmed {
			out = append(out, b)
		}
	}
	sortByStart(out)
	return out, nil
}

func (s *MemoryStore) GetBooking(_ context.Context, id string) (*Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bookings[id]
	if !ok {
		return nil, ErrBookingNotFound
	}
	return &b, nil
}

func (s *MemoryStore) ListByUser(_ context.Context, email string, state BookingState) ([]Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Booking
	for _, b := range s.bookings {
		if b.UserEmail == email && (state == "" || b.State == state) {
			out = append(out, b)
		}
	}
	sortByStart(out)
	return out, nil
}

func (s *MemoryStore) InsertBooking(_ context.Context, b Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bookings[b.ID]; ok {
		return errors.Newf("booking %s already exists", b.ID)
	}
	if _, ok := s.slots[b.SlotID]; !ok {
		return ErrSlotNotFound
	}
	s.bookings[b.ID] = b
	return nil
}

func (s *MemoryStore) UpdateBookingState(_ context.Context, id string, from, to BookingState, remoteID string, at time.Time) (*Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bookings[id]
	if !ok || b.State != from {
		return nil, ErrBookingNotFound
	}

	if to == StateConfirmed {
		for _, other := range s.bookings {
			if other.ID != b.ID && other.SlotID == b.SlotID && other.State == StateConfirmed && other.Range.Overlaps(b.Range) {
				return nil, &ConflictError{SlotID: b.SlotID, Date: b.Date, Conflicting: other.Range, BookingID: other.ID}
			}
		}
	}

	b.State = to
	b.UpdatedAt = at
	if remoteID != "" {
		b.RemoteID = remoteID
	}
	s.bookings[id] = b
	return &b, nil
}

func (s *MemoryStore) FindStalePending(_ context.Context, createdBefore time.Time) ([]Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Booking
	for _, b := range s.bookings {
		if b.State == StatePending && b.CreatedAt.Before(createdBefore) {
			out = append(out, b)
		}
	}
	sortByStart(out)
	return out, nil
}

func (s *MemoryStore) InsertEvent(_ context.Context, ev EventLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	ev.ID = s.nextID
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	s.events = append(s.events, ev)
	return nil
}

// Events returns a copy of the recorded event log.
func (s *MemoryStore) Events() []EventLog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]EventLog, len(s.events))
	copy(out, s.events)
	return out
}

func sortByStart(bs []Booking) {
	sort.Slice(bs, func(i, j int) bool {
		if bs[i].Range.Start.Equal(bs[j].Range.Start) {
			return bs[i].ID < bs[j].ID
		}
		return bs[i].Range.Start.Before(bs[j].Range.Start)
	})
}
