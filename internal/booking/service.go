package booking

import (
	"context"
	"math/rand"
	"sort"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/hackgods/office-parking-reservations/internal/observability"
)

// PresetRanges are the time ranges offered by the booking picker.
var PresetRanges = []string{"08:00 - 18:00", "09:00 - 17:00", "10:00 - 16:00"}

type ServiceConfig struct {
	Zone     string
	DayStart string // "08:00"
	DayEnd   string // "18:00"
	Location *time.Location
}

// SlotAvailability scopes a slot to the requested range on a date.
type SlotAvailability struct {
	Slot
	Available bool        `json:"available"`
	Booked    []TimeRange `json:"booked,omitempty"`
}

type Availability struct {
	Zone  string             `json:"zone"`
	Date  Date               `json:"date"`
	Range TimeRange          `json:"range"`
	Slots []SlotAvailability `json:"slots"`
	Stale bool               `json:"stale"`
}

// AnyRequest asks for whichever slot is free for the range.
type AnyRequest struct {
	Zone      string
	Date      Date
	Range     TimeRange
	UserEmail string
	Username  string
	Comment   string
}

// Service exposes the booking operations used by the API and clients.
type Service struct {
	ledger  *Ledger
	catalog *Catalog
	cache   *CacheSync
	cfg     ServiceConfig
	logger  observability.Logger
	shuffle func(n int, swap func(i, j int))
}

func NewService(ledger *Ledger, catalog *Catalog, cache *CacheSync, cfg ServiceConfig, logger observability.Logger) *Service {
	if cfg.Zone == "" {
		cfg.Zone = DefaultZone
	}
	if cfg.DayStart == "" {
		cfg.DayStart = "08:00"
	}
	if cfg.DayEnd == "" {
		cfg.DayEnd = "18:00"
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Service{
		ledger:  ledger,
		catalog: catalog,
		cache:   cache,
		cfg:     cfg,
		logger:  logger,
		shuffle: rand.Shuffle,
	}
}

func (s *Service) Zone() string             { return s.cfg.Zone }
func (s *Service) Location() *time.Location { return s.cfg.Location }

// DayRange is the default booking window on date.
func (s *Service) DayRange(date Date) (TimeRange, error) {
	return ClockRange(date, s.cfg.DayStart, s.cfg.DayEnd, s.cfg.Location)
}

// Availability refreshes the zone's slots and scopes each one to rng (the day
// window when nil). When the source is down the last snapshot is returned with
// Stale set, together with the ErrCatalogUnavailable error.
func (s *Service) Availability(ctx context.Context, zone string, date Date, rng *TimeRange) (*Availability, error) {
	if zone == "" {
		zone = s.cfg.Zone
	}
	window, err := s.window(date, rng)
	if err != nil {
		return nil, err
	}

	slots, catErr := s.catalog.Refresh(ctx, zone, date)
	if catErr != nil {
		var unavailable *CatalogUnavailableError
		if !errors.As(catErr, &unavailable) || !unavailable.Stale {
			return nil, catErr
		}
	}

	out := &Availability{
		Zone:  zone,
		Date:  date,
		Range: window,
		Slots: make([]SlotAvailability, 0, len(slots)),
		Stale: catErr != nil,
	}
	for _, slot := range slots {
		booked, err := s.ledger.ConfirmedOn(ctx, slot.ID, date)
		if err != nil {
			return nil, errors.Wrapf(err, "load bookings for slot %s", slot.ID)
		}
		sa := SlotAvailability{Slot: slot, Available: !slot.Occupied}
		for _, b := range booked {
			sa.Booked = append(sa.Booked, b.Range)
			if b.Range.Overlaps(window) {
				sa.Available = false
			}
		}
		out.Slots = append(out.Slots, sa)
	}
	sort.Slice(out.Slots, func(i, j int) bool { return out.Slots[i].ID < out.Slots[j].ID })

	return out, catErr
}

// Reserve books a specific slot. If the booking succeeds but the cache write
// fails, the booking is returned together with a *CacheSyncError.
func (s *Service) Reserve(ctx context.Context, req ReserveRequest) (*Booking, error) {
	b, err := s.ledger.TryReserve(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := s.cache.RecordCreated(ctx, *b); err != nil {
		observability.CacheSyncFailures.WithLabelValues("created").Inc()
		s.logger.WithError(err).WithField("booking_id", b.ID).Warn("booking cache not updated")
		return b, &CacheSyncError{UserEmail: b.UserEmail, Err: err}
	}
	return b, nil
}

// ReserveAny books a random free slot for the range.
func (s *Service) ReserveAny(ctx context.Context, req AnyRequest) (*Booking, error) {
	rng := req.Range
	if rng == (TimeRange{}) {
		day, err := s.DayRange(req.Date)
		if err != nil {
			return nil, err
		}
		rng = day
	}

	av, err := s.Availability(ctx, req.Zone, req.Date, &rng)
	if av == nil {
		return nil, err
	}

	var candidates []string
	for _, slot := range av.Slots {
		if slot.Available {
			candidates = append(candidates, slot.ID)
		}
	}
	s.shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})

	for _, slotID := range candidates {
		b, err := s.Reserve(ctx, ReserveRequest{
			SlotID:    slotID,
			Date:      req.Date,
			Range:     rng,
			UserEmail: req.UserEmail,
			Username:  req.Username,
			Comment:   req.Comment,
		})
		if errors.Is(err, ErrSlotConflict) || errors.Is(err, ErrSlotBusy) || errors.Is(err, ErrSlotOccupied) {
			// Taken, being taken or blocked since the snapshot was read
			continue
		}
		return b, err
	}

	return nil, errors.Wrapf(ErrNoSlotAvailable, "%s on %s %s", av.Zone, req.Date, rng)
}

// Cancel releases the booking and drops it from the user's cache.
func (s *Service) Cancel(ctx context.Context, bookingID string) (*Booking, error) {
	b, err := s.ledger.Cancel(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if err := s.cache.RecordCancelled(ctx, b.UserEmail, b.ID); err != nil {
		observability.CacheSyncFailures.WithLabelValues("cancelled").Inc()
		s.logger.WithError(err).WithField("booking_id", b.ID).Warn("booking cache not updated")
		return b, &CacheSyncError{UserEmail: b.UserEmail, Err: err}
	}
	return b, nil
}

func (s *Service) Get(ctx context.Context, bookingID string) (*Booking, error) {
	return s.ledger.Get(ctx, bookingID)
}

// UserBookings lists the user's confirmed bookings straight from the ledger.
func (s *Service) UserBookings(ctx context.Context, email string) ([]Booking, error) {
	return s.ledger.ConfirmedForUser(ctx, email)
}

// Slots refreshes and returns the zone's slots with their coarse occupied flag.
// On source failure the previous snapshot comes back with the error.
func (s *Service) Slots(ctx context.Context, zone string, date Date) ([]Slot, error) {
	if zone == "" {
		zone = s.cfg.Zone
	}
	return s.catalog.Refresh(ctx, zone, date)
}

// MyBookings serves the user's cached bookings, reconciling when nothing is cached
// or the cache cannot be read.
func (s *Service) MyBookings(ctx context.Context, email string) ([]Booking, error) {
	list, found, err := s.cache.Bookings(ctx, email)
	if err != nil {
		s.logger.WithError(err).WithField("user_email", email).Warn("booking cache unreadable, reconciling")
	}
	if err != nil || !found {
		return s.Reconcile(ctx, email)
	}

	confirmed := make([]Booking, 0, len(list))
	for _, b := range list {
		if b.State == StateConfirmed {
			confirmed = append(confirmed, b)
		}
	}
	sortByStart(confirmed)
	return confirmed, nil
}

// Reconcile rebuilds the user's cache from the ledger.
func (s *Service) Reconcile(ctx context.Context, email string) ([]Booking, error) {
	list, err := s.cache.Reconcile(ctx, email)
	if err != nil {
		if list == nil {
			return nil, err
		}
		observability.CacheSyncFailures.WithLabelValues("reconcile").Inc()
		return list, &CacheSyncError{UserEmail: email, Err: err}
	}
	return list, nil
}

// Refresh fetches the zone's slots for date again. A failed fetch keeps the
// previous snapshot.
func (s *Service) Refresh(ctx context.Context, zone string, date Date) error {
	if zone == "" {
		zone = s.cfg.Zone
	}
	_, err := s.catalog.Refresh(ctx, zone, date)
	return err
}

func (s *Service) window(date Date, rng *TimeRange) (TimeRange, error) {
	if rng == nil {
		return s.DayRange(date)
	}
	if !rng.Valid() {
		return TimeRange{}, errors.Wrap(ErrInvalidRange, "start is not before end")
	}
	if !rng.On(date) {
		return TimeRange{}, errors.Wrapf(ErrInvalidRange, "range %s does not lie on %s", *rng, date)
	}
	return *rng, nil
}
