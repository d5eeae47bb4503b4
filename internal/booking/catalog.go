package booking

import (
	"context"
	"sync"
	"time"

	"github.com/hackgods/office-parking-reservations/internal/observability"
)

type catalogKey struct {
	zone string
	date Date
}

// Snapshot is the slot list of a zone as last fetched for a date.
type Snapshot struct {
	Zone      string
	Date      Date
	Slots     []Slot
	FetchedAt time.Time
}

// Catalog caches slot occupancy per zone and date. Refresh is caller driven.
type Catalog struct {
	source SlotSource
	logger observability.Logger

	mu        sync.RWMutex
	snapshots map[catalogKey]Snapshot
}

func NewCatalog(source SlotSource, logger observability.Logger) *Catalog {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Catalog{
		source:    source,
		logger:    logger,
		snapshots: make(map[catalogKey]Snapshot),
	}
}

// ListSlots returns the last known snapshot without contacting the source.
func (c *Catalog) ListSlots(zone string, date Date) ([]Slot, bool) {
	snap, ok := c.Snapshot(zone, date)
	if !ok {
		return nil, false
	}
	return snap.Slots, true
}

func (c *Catalog) Snapshot(zone string, date Date) (Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap, ok := c.snapshots[catalogKey{zone, date}]
	if !ok {
		return Snapshot{}, false
	}
	snap.Slots = copySlots(snap.Slots)
	return snap, true
}

// Refresh replaces the snapshot from the source. When the source fails the
// previous snapshot is kept and returned with a *CatalogUnavailableError.
func (c *Catalog) Refresh(ctx context.Context, zone string, date Date) ([]Slot, error) {
	slots, err := c.source.FetchSlots(ctx, zone, date)
	if err != nil {
		observability.CatalogRefreshFailures.Inc()
		prev, ok := c.ListSlots(zone, date)
		c.logger.WithError(err).
			WithField("zone", zone).
			WithField("date", date).
			WithField("stale", ok).
			Warn("slot catalog refresh failed")
		return prev, &CatalogUnavailableError{Zone: zone, Date: date, Stale: ok, Err: err}
	}

	snap := Snapshot{Zone: zone, Date: date, Slots: copySlots(slots), FetchedAt: time.Now()}

	c.mu.Lock()
	c.snapshots[catalogKey{zone, date}] = snap
	c.mu.Unlock()

	return copySlots(slots), nil
}

// Invalidate drops the snapshot so nothing is offered as available until the next refresh.
func (c *Catalog) Invalidate(zone string, date Date) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.snapshots, catalogKey{zone, date})
}

func copySlots(in []Slot) []Slot {
	if in == nil {
		return nil
	}
	out := make([]Slot, len(in))
	copy(out, in)
	return out
}
