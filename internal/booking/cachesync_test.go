package booking

import (
	"context"
	"fmt"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticSource struct {
	bookings map[string][]Booking
	calls    int
}

func (s *staticSource) ConfirmedForUser(_ context.Context, email string) ([]Booking, error) {
	s.calls++
	return s.bookings[email], nil
}

type brokenKV struct {
	MemoryKV
	putErr error
	getErr error
}

func (b *brokenKV) Get(ctx context.Context, key string) ([]byte, error) {
	if b.getErr != nil {
		return nil, b.getErr
	}
	return b.MemoryKV.Get(ctx, key)
}

func (b *brokenKV) Put(ctx context.Context, key string, value []byte) error {
	if b.putErr != nil {
		return b.putErr
	}
	return b.MemoryKV.Put(ctx, key, value)
}

func newBrokenKV() *brokenKV {
	return &brokenKV{MemoryKV: MemoryKV{data: make(map[string][]byte)}}
}

func cachedBooking(id, email string) Booking {
	return Booking{ID: id, UserEmail: email, SlotID: "P01", Date: day, State: StateConfirmed}
}

func TestCacheSync_RecordCreatedIsIdempotent(t *testing.T) {
	c := NewCacheSync(NewMemoryKV(), &staticSource{}, nil)
	ctx := context.Background()
	b := cachedBooking("b1", "a@example.com")

	require.NoError(t, c.RecordCreated(ctx, b))
	require.NoError(t, c.RecordCreated(ctx, b))

	list, found, err := c.Bookings(ctx, "a@example.com")
	require.NoError(t, err)
	require.True(t, found)
	assert.Len(t, list, 1)
}

func TestCacheSync_RecordCancelled(t *testing.T) {
	c := NewCacheSync(NewMemoryKV(), &staticSource{}, nil)
	ctx := context.Background()

	require.NoError(t, c.RecordCancelled(ctx, "a@example.com", "nothing-cached"))

	require.NoError(t, c.RecordCreated(ctx, cachedBooking("b1", "a@example.com")))
	require.NoError(t, c.RecordCreated(ctx, cachedBooking("b2", "a@example.com")))
	require.NoError(t, c.RecordCancelled(ctx, "a@example.com", "b1"))
	require.NoError(t, c.RecordCancelled(ctx, "a@example.com", "b1"))

	list, _, err := c.Bookings(ctx, "a@example.com")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "b2", list[0].ID)
}

func TestCacheSync_UsersAreSeparate(t *testing.T) {
	c := NewCacheSync(NewMemoryKV(), &staticSource{}, nil)
	ctx := context.Background()

	require.NoError(t, c.RecordCreated(ctx, cachedBooking("b1", "a@example.com")))

	_, found, err := c.Bookings(ctx, "b@example.com")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestCacheSync_ReleasesUserLocks(t *testing.T) {
	src := &staticSource{bookings: map[string][]Booking{}}
	c := NewCacheSync(NewMemoryKV(), src, nil)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		email := fmt.Sprintf("u%d@example.com", i)
		require.NoError(t, c.RecordCreated(ctx, cachedBooking(fmt.Sprintf("b%d", i), email)))
		require.NoError(t, c.RecordCancelled(ctx, email, fmt.Sprintf("b%d", i)))
		_, err := c.Reconcile(ctx, email)
		require.NoError(t, err)
	}
	assert.Zero(t, c.users.Len())
}

func TestCacheSync_CorruptEntryIsRebuilt(t *testing.T) {
	kv := NewMemoryKV()
	src := &staticSource{bookings: map[string][]Booking{
		"a@example.com": {cachedBooking("b9", "a@example.com")},
	}}
	c := NewCacheSync(kv, src, nil)
	ctx := context.Background()

	require.NoError(t, kv.Put(ctx, CacheKey("a@example.com"), []byte("{not json")))

	_, found, err := c.Bookings(ctx, "a@example.com")
	require.NoError(t, err)
	assert.False(t, found)

	list, err := c.Reconcile(ctx, "a@example.com")
	require.NoError(t, err)
	require.Len(t, list, 1)

	cached, found, err := c.Bookings(ctx, "a@example.com")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "b9", cached[0].ID)
}

func TestCacheSync_ReconcileReplacesCache(t *testing.T) {
	src := &staticSource{bookings: map[string][]Booking{}}
	c := NewCacheSync(NewMemoryKV(), src, nil)
	ctx := context.Background()

	require.NoError(t, c.RecordCreated(ctx, cachedBooking("gone", "a@example.com")))

	list, err := c.Reconcile(ctx, "a@example.com")
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Equal(t, 1, src.calls)

	cached, found, err := c.Bookings(ctx, "a@example.com")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Empty(t, cached)
}

func TestCacheSync_WriteFailureStillReturnsReconciledList(t *testing.T) {
	kv := newBrokenKV()
	kv.putErr = errors.New("disk full")
	src := &staticSource{bookings: map[string][]Booking{
		"a@example.com": {cachedBooking("b1", "a@example.com")},
	}}
	c := NewCacheSync(kv, src, nil)

	list, err := c.Reconcile(context.Background(), "a@example.com")
	require.Error(t, err)
	assert.Len(t, list, 1)
}

func TestCacheSync_ReadFailureIsReported(t *testing.T) {
	kv := newBrokenKV()
	kv.getErr = errors.New("io error")
	c := NewCacheSync(kv, &staticSource{}, nil)

	err := c.RecordCreated(context.Background(), cachedBooking("b1", "a@example.com"))
	assert.ErrorContains(t, err, "io error")
}
