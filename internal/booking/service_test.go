package booking

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type serviceFixture struct {
	svc    *Service
	ledger *Ledger
	store  *MemoryStore
	kv     *brokenKV
}

func newServiceFixture(t *testing.T, source SlotSource, slots ...string) serviceFixture {
	t.Helper()
	if len(slots) == 0 {
		slots = []string{"P01", "P02", "P03"}
	}
	ledger, store := newTestLedger(nil, slots...)
	if source == nil {
		source = ledger
	}
	kv := newBrokenKV()
	svc := NewService(ledger, NewCatalog(source, nil), NewCacheSync(kv, ledger, nil), ServiceConfig{Location: time.UTC}, nil)
	// Deterministic candidate order
	svc.shuffle = func(int, func(i, j int)) {}
	return serviceFixture{svc: svc, ledger: ledger, store: store, kv: kv}
}

func TestService_ReserveUpdatesCache(t *testing.T) {
	f := newServiceFixture(t, nil)
	ctx := context.Background()

	b, err := f.svc.Reserve(ctx, request(t, "P01", day, "09:00", "17:00", "a@example.com"))
	require.NoError(t, err)

	mine, err := f.svc.MyBookings(ctx, "a@example.com")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, b.ID, mine[0].ID)

	_, err = f.svc.Cancel(ctx, b.ID)
	require.NoError(t, err)

	mine, err = f.svc.MyBookings(ctx, "a@example.com")
	require.NoError(t, err)
	assert.Empty(t, mine)
}

func TestService_CacheFailureKeepsBooking(t *testing.T) {
	f := newServiceFixture(t, nil)
	ctx := context.Background()
	f.kv.putErr = errors.New("disk full")

	b, err := f.svc.Reserve(ctx, request(t, "P01", day, "09:00", "17:00", "a@example.com"))
	require.NotNil(t, b)
	assert.ErrorIs(t, err, ErrCacheStale)

	var syncErr *CacheSyncError
	require.True(t, errors.As(err, &syncErr))
	assert.Equal(t, "a@example.com", syncErr.UserEmail)

	stored, err := f.store.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, StateConfirmed, stored.State)

	// Once the store recovers, reconciling repairs the cache
	f.kv.putErr = nil
	list, err := f.svc.Reconcile(ctx, "a@example.com")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestService_MyBookingsReconcilesWhenCacheEmpty(t *testing.T) {
	f := newServiceFixture(t, nil)
	ctx := context.Background()

	// Booked behind the cache's back
	b, err := f.ledger.TryReserve(ctx, request(t, "P02", day, "09:00", "17:00", "a@example.com"))
	require.NoError(t, err)

	mine, err := f.svc.MyBookings(ctx, "a@example.com")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, b.ID, mine[0].ID)

	_, found, err := f.svc.cache.Bookings(ctx, "a@example.com")
	require.NoError(t, err)
	assert.True(t, found)
}

func TestService_MyBookingsFallsBackWhenCacheUnreadable(t *testing.T) {
	f := newServiceFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.Reserve(ctx, request(t, "P02", day, "09:00", "17:00", "a@example.com"))
	require.NoError(t, err)

	f.kv.getErr = errors.New("io error")
	mine, err := f.svc.MyBookings(ctx, "a@example.com")
	require.NoError(t, err)
	assert.Len(t, mine, 1)
}

func TestService_AvailabilityIsRangeScoped(t *testing.T) {
	f := newServiceFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.Reserve(ctx, request(t, "P01", day, "09:00", "12:00", "a@example.com"))
	require.NoError(t, err)

	afternoon := rangeOf(t, day, "13:00", "17:00")
	av, err := f.svc.Availability(ctx, "", day, &afternoon)
	require.NoError(t, err)
	assert.Equal(t, DefaultZone, av.Zone)
	require.Len(t, av.Slots, 3)
	assert.True(t, av.Slots[0].Available)
	assert.Equal(t, []TimeRange{rangeOf(t, day, "09:00", "12:00")}, av.Slots[0].Booked)

	av, err = f.svc.Availability(ctx, "", day, nil)
	require.NoError(t, err)
	assert.Equal(t, rangeOf(t, day, "08:00", "18:00"), av.Range)
	assert.False(t, av.Slots[0].Available)
	assert.True(t, av.Slots[1].Available)
}

func TestService_AvailabilityRespectsOccupiedFlag(t *testing.T) {
	src := &flakySource{slots: []Slot{{ID: "P01", Zone: DefaultZone, Occupied: true}, {ID: "P02", Zone: DefaultZone}}}
	f := newServiceFixture(t, src, "P01", "P02")

	av, err := f.svc.Availability(context.Background(), "", day, nil)
	require.NoError(t, err)
	assert.False(t, av.Slots[0].Available)
	assert.True(t, av.Slots[1].Available)
}

func TestService_AvailabilityServesStaleSnapshot(t *testing.T) {
	src := &flakySource{slots: []Slot{{ID: "P01", Zone: DefaultZone}}}
	f := newServiceFixture(t, src, "P01")
	ctx := context.Background()

	_, err := f.svc.Availability(ctx, "", day, nil)
	require.NoError(t, err)

	src.fail(errors.New("connection refused"))
	av, err := f.svc.Availability(ctx, "", day, nil)
	assert.ErrorIs(t, err, ErrCatalogUnavailable)
	require.NotNil(t, av)
	assert.True(t, av.Stale)
	assert.Len(t, av.Slots, 1)

	f.svc.catalog.Invalidate(DefaultZone, day)
	av, err = f.svc.Availability(ctx, "", day, nil)
	assert.ErrorIs(t, err, ErrCatalogUnavailable)
	assert.Nil(t, av)
}

func TestService_AvailabilityRejectsRangeOffDate(t *testing.T) {
	f := newServiceFixture(t, nil)
	other := rangeOf(t, "2024-07-16", "09:00", "10:00")

	_, err := f.svc.Availability(context.Background(), "", day, &other)
	assert.ErrorIs(t, err, ErrInvalidRange)
}

func TestService_ReserveAnyFillsEverySlotThenFails(t *testing.T) {
	f := newServiceFixture(t, nil)
	ctx := context.Background()
	req := AnyRequest{Date: day, Range: rangeOf(t, day, "09:00", "17:00"), UserEmail: "a@example.com"}

	seen := map[string]bool{}
	for i := 0; i < 3; i++ {
		b, err := f.svc.ReserveAny(ctx, req)
		require.NoError(t, err)
		seen[b.SlotID] = true
	}
	assert.Len(t, seen, 3)

	_, err := f.svc.ReserveAny(ctx, req)
	assert.ErrorIs(t, err, ErrNoSlotAvailable)
}

func TestService_ReserveAnyDefaultsToDayWindow(t *testing.T) {
	f := newServiceFixture(t, nil)

	b, err := f.svc.ReserveAny(context.Background(), AnyRequest{Date: day, UserEmail: "a@example.com"})
	require.NoError(t, err)
	assert.Equal(t, rangeOf(t, day, "08:00", "18:00"), b.Range)
}

func TestService_ReserveAnySkipsSlotTakenMeanwhile(t *testing.T) {
	f := newServiceFixture(t, nil)
	ctx := context.Background()
	rng := rangeOf(t, day, "09:00", "17:00")

	// Someone books P01 between the availability read and our attempt
	f.svc.shuffle = func(int, func(i, j int)) {
		_, err := f.ledger.TryReserve(ctx, ReserveRequest{SlotID: "P01", Date: day, Range: rng, UserEmail: "rival@example.com"})
		require.NoError(t, err)
	}

	b, err := f.svc.ReserveAny(ctx, AnyRequest{Date: day, Range: rng, UserEmail: "a@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "P02", b.SlotID)
}

func TestService_ReserveAnySkipsBusyAndBlockedSlots(t *testing.T) {
	store := NewMemoryStore(
		Slot{ID: "P01", Zone: DefaultZone},
		Slot{ID: "P02", Zone: DefaultZone},
		Slot{ID: "P03", Zone: DefaultZone},
	)
	locker := &busyLocker{busy: map[string]bool{LockKey("P01", day): true}, next: NewKeyedMutex()}
	ledger := NewLedger(store, locker, nil, nil, nil, time.Second)
	svc := NewService(ledger, NewCatalog(ledger, nil), NewCacheSync(NewMemoryKV(), ledger, nil), ServiceConfig{Location: time.UTC}, nil)
	ctx := context.Background()

	// P02 is blocked after the availability read
	svc.shuffle = func(int, func(i, j int)) {
		store.PutSlot(Slot{ID: "P02", Zone: DefaultZone, Occupied: true})
	}

	b, err := svc.ReserveAny(ctx, AnyRequest{Date: day, Range: rangeOf(t, day, "09:00", "17:00"), UserEmail: "a@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "P03", b.SlotID)
}

func TestService_FailedRefreshKeepsSnapshot(t *testing.T) {
	src := &flakySource{slots: []Slot{{ID: "P01", Zone: DefaultZone}, {ID: "P02", Zone: DefaultZone}}}
	f := newServiceFixture(t, src, "P01", "P02")
	ctx := context.Background()

	_, err := f.svc.Availability(ctx, "", day, nil)
	require.NoError(t, err)

	src.fail(errors.New("source down"))
	err = f.svc.Refresh(ctx, "", day)
	assert.ErrorIs(t, err, ErrCatalogUnavailable)

	av, err := f.svc.Availability(ctx, "", day, nil)
	assert.ErrorIs(t, err, ErrCatalogUnavailable)
	require.NotNil(t, av)
	assert.True(t, av.Stale)
	assert.Len(t, av.Slots, 2)
}

func TestService_UserBookingsReadsLedger(t *testing.T) {
	f := newServiceFixture(t, nil)
	ctx := context.Background()

	b, err := f.ledger.TryReserve(ctx, request(t, "P03", day, "09:00", "10:00", "a@example.com"))
	require.NoError(t, err)
	_, err = f.ledger.TryReserve(ctx, request(t, "P03", day, "10:00", "11:00", "b@example.com"))
	require.NoError(t, err)

	list, err := f.svc.UserBookings(ctx, "a@example.com")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, b.ID, list[0].ID)
}
