package booking

import (
	"context"
	"sync"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakySource serves slots until it is told to fail.
type flakySource struct {
	mu    sync.Mutex
	slots []Slot
	err   error
	calls int
}

func (f *flakySource) FetchSlots(context.Context, string, Date) ([]Slot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return copySlots(f.slots), nil
}

func (f *flakySource) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func TestCatalog_RefreshStoresSnapshot(t *testing.T) {
	src := &flakySource{slots: DefaultSlots(DefaultZone)}
	c := NewCatalog(src, nil)
	ctx := context.Background()

	_, ok := c.ListSlots(DefaultZone, day)
	assert.False(t, ok)

	slots, err := c.Refresh(ctx, DefaultZone, day)
	require.NoError(t, err)
	assert.Len(t, slots, 10)

	cached, ok := c.ListSlots(DefaultZone, day)
	require.True(t, ok)
	assert.Equal(t, slots, cached)

	_, ok = c.ListSlots(DefaultZone, "2024-07-16")
	assert.False(t, ok, "snapshots are per date")
}

func TestCatalog_SourceDownKeepsStaleSnapshot(t *testing.T) {
	src := &flakySource{slots: []Slot{{ID: "P01", Zone: DefaultZone}, {ID: "P02", Zone: DefaultZone, Occupied: true}}}
	c := NewCatalog(src, nil)
	ctx := context.Background()

	_, err := c.Refresh(ctx, DefaultZone, day)
	require.NoError(t, err)

	src.fail(errors.New("connection refused"))
	slots, err := c.Refresh(ctx, DefaultZone, day)

	var unavailable *CatalogUnavailableError
	require.True(t, errors.As(err, &unavailable))
	assert.True(t, unavailable.Stale)
	assert.ErrorIs(t, err, ErrCatalogUnavailable)
	require.Len(t, slots, 2)
	assert.True(t, slots[1].Occupied)
}

func TestCatalog_SourceDownWithoutSnapshot(t *testing.T) {
	src := &flakySource{err: errors.New("connection refused")}
	c := NewCatalog(src, nil)

	slots, err := c.Refresh(context.Background(), DefaultZone, day)
	assert.Nil(t, slots)

	var unavailable *CatalogUnavailableError
	require.True(t, errors.As(err, &unavailable))
	assert.False(t, unavailable.Stale)
}

func TestCatalog_Invalidate(t *testing.T) {
	src := &flakySource{slots: DefaultSlots(DefaultZone)}
	c := NewCatalog(src, nil)

	_, err := c.Refresh(context.Background(), DefaultZone, day)
	require.NoError(t, err)

	c.Invalidate(DefaultZone, day)
	_, ok := c.ListSlots(DefaultZone, day)
	assert.False(t, ok)
}

func TestCatalog_SnapshotIsACopy(t *testing.T) {
	src := &flakySource{slots: DefaultSlots(DefaultZone)}
	c := NewCatalog(src, nil)

	slots, err := c.Refresh(context.Background(), DefaultZone, day)
	require.NoError(t, err)
	slots[0].Occupied = true

	cached, _ := c.ListSlots(DefaultZone, day)
	assert.False(t, cached[0].Occupied)
}
