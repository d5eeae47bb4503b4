package booking

import (
	"context"
	"encoding/json"

	"github.com/cockroachdb/errors"

	"github.com/hackgods/office-parking-reservations/internal/observability"
)

// CacheKey is the KV key holding a user's cached bookings.
func CacheKey(email string) string {
	return "bookings_" + email
}

// CacheSync keeps the advisory per-user booking cache in line with the ledger.
// The cache is never authoritative; Reconcile rebuilds it from the source.
type CacheSync struct {
	kv     KVStore
	source BookingSource
	logger observability.Logger
	users  *KeyedMutex
}

func NewCacheSync(kv KVStore, source BookingSource, logger observability.Logger) *CacheSync {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &CacheSync{
		kv:     kv,
		source: source,
		logger: logger,
		users:  NewKeyedMutex(),
	}
}

// RecordCreated appends the booking to its user's list. Repeats are ignored.
func (c *CacheSync) RecordCreated(ctx context.Context, b Booking) error {
	return c.users.WithLock(ctx, b.UserEmail, func(ctx context.Context) error {
		list, _, err := c.read(ctx, b.UserEmail)
		if err != nil {
			return err
		}
		for _, existing := range list {
			if existing.ID == b.ID {
				return nil
			}
		}
		return c.write(ctx, b.UserEmail, append(list, b))
	})
}

// RecordCancelled removes the booking. An absent entry is not an error.
func (c *CacheSync) RecordCancelled(ctx context.Context, email, bookingID string) error {
	return c.users.WithLock(ctx, email, func(ctx context.Context) error {
		list, found, err := c.read(ctx, email)
		if err != nil {
			return err
		}
		if !found {
			return nil
		}

		kept := list[:0]
		removed := false
		for _, b := range list {
			if b.ID == bookingID {
				removed = true
				continue
			}
			kept = append(kept, b)
		}
		if !removed {
			return nil
		}
		return c.write(ctx, email, kept)
	})
}

// Reconcile replaces the user's cache with the source's confirmed bookings.
// It only reads from the source.
func (c *CacheSync) Reconcile(ctx context.Context, email string) ([]Booking, error) {
	bookings, err := c.source.ConfirmedForUser(ctx, email)
	if err != nil {
		return nil, errors.Wrapf(err, "list confirmed bookings for %s", email)
	}
	if bookings == nil {
		bookings = []Booking{}
	}

	err = c.users.WithLock(ctx, email, func(ctx context.Context) error {
		return c.write(ctx, email, bookings)
	})
	return bookings, err
}

// Bookings reads the cached list; found is false when nothing was ever cached.
func (c *CacheSync) Bookings(ctx context.Context, email string) ([]Booking, bool, error) {
	return c.read(ctx, email)
}

func (c *CacheSync) read(ctx context.Context, email string) ([]Booking, bool, error) {
	raw, err := c.kv.Get(ctx, CacheKey(email))
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return nil, false, nil
		}
		return nil, false, errors.Wrapf(err, "read booking cache for %s", email)
	}

	var list []Booking
	if err := json.Unmarshal(raw, &list); err != nil {
		// A corrupt entry is treated as missing; Reconcile rewrites it.
		c.logger.WithError(err).WithField("user_email", email).Warn("discarding unreadable booking cache")
		return nil, false, nil
	}
	return list, true, nil
}

func (c *CacheSync) write(ctx context.Context, email string, list []Booking) error {
	raw, err := json.Marshal(list)
	if err != nil {
		return errors.Wrap(err, "encode booking cache")
	}
	if err := c.kv.Put(ctx, CacheKey(email), raw); err != nil {
		return errors.Wrapf(err, "write booking cache for %s", email)
	}
	return nil
}
