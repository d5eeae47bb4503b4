package booking

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

func at(t *testing.T, date Date, clock string) time.Time {
	t.Helper()
	midnight, err := date.Midnight(time.UTC)
	require.NoError(t, err)
	c, err := time.Parse("15:04", clock)
	require.NoError(t, err)
	return midnight.Add(time.Duration(c.Hour())*time.Hour + time.Duration(c.Minute())*time.Minute)
}

func rangeOf(t *testing.T, date Date, from, to string) TimeRange {
	t.Helper()
	r, err := ClockRange(date, from, to, time.UTC)
	require.NoError(t, err)
	return r
}

func request(t *testing.T, slot string, date Date, from, to, email string) ReserveRequest {
	t.Helper()
	return ReserveRequest{
		SlotID:    slot,
		Date:      date,
		Range:     rangeOf(t, date, from, to),
		UserEmail: email,
		Username:  "dev",
	}
}

func newTestLedger(gateway Gateway, slots ...string) (*Ledger, *MemoryStore) {
	store := NewMemoryStore()
	for _, id := range slots {
		store.PutSlot(Slot{ID: id, Zone: DefaultZone})
	}
	return NewLedger(store, nil, gateway, nil, nil, time.Second), store
}

// stubGateway lets a test control what the authority answers.
type stubGateway struct {
	mu        sync.Mutex
	hang      bool
	reject    error
	onSubmit  func(Booking)
	submitted []Booking
	cancelled []Booking
}

func (g *stubGateway) SubmitBooking(ctx context.Context, b Booking) (string, error) {
	g.mu.Lock()
	hang, reject, onSubmit := g.hang, g.reject, g.onSubmit
	g.submitted = append(g.submitted, b)
	g.mu.Unlock()

	if onSubmit != nil {
		onSubmit(b)
	}
	if hang {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if reject != nil {
		return "", reject
	}
	return "remote-" + b.ID, nil
}

func (g *stubGateway) SubmitCancellation(_ context.Context, b Booking) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancelled = append(g.cancelled, b)
	return nil
}

func (g *stubGateway) set(fn func(g *stubGateway)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	fn(g)
}

// busyLocker reports the listed keys as held by someone else.
type busyLocker struct {
	busy map[string]bool
	next Locker
}

func (l *busyLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	if l.busy[key] {
		return errors.Newf("lock %s held elsewhere", key)
	}
	return l.next.WithLock(ctx, key, fn)
}
