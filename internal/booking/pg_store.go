package booking

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ExclusionViolationCode is raised by the bookings_no_overlap constraint.
const ExclusionViolationCode = "23P01"

type PgStore struct {
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

const bookingColumns = `id, COALESCE(remote_id, ''), username, user_email, slot_id, zone,
	booking_date::text, start_time, end_time, state, comment, created_at, updated_at`

// Helpers

func scanSlot(row pgx.Row) (*Slot, error) {
	var s Slot
	err := row.Scan(&s.ID, &s.Zone, &s.Occupied)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, err
	}
	return &s, nil
}

func scanBooking(row pgx.Row) (*Booking, error) {
	var (
		b    Booking
		date string
	)
	err := row.Scan(
		&b.ID,
		&b.RemoteID,
		&b.Username,
		&b.UserEmail,
		&b.SlotID,
		&b.Zone,
		&date,
		&b.Range.Start,
		&b.Range.End,
		&b.State,
		&b.Comment,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBookingNotFound
		}
		return nil, err
	}
	b.Date = Date(date)
	return &b, nil
}

func collectBookings(rows pgx.Rows) ([]Booking, error) {
	defer rows.Close()

	var result []Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func dateParam(d Date) (time.Time, error) {
	return d.Midnight(time.UTC)
}

// Interface methods

func (s *PgStore) GetSlot(ctx context.Context, id string) (*Slot, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, zone, occupied
		FROM parking_slots
		WHERE id = $1
	`, id)
	return scanSlot(row)
}

func (s *PgStore) ListSlots(ctx context.Context, zone string) ([]Slot, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, zone, occupied
		FROM parking_slots
		WHERE zone = $1
		ORDER BY id
	`, zone)
	if err != nil {
		return nil, errors.Wrap(err, "list slots")
	}
	defer rows.Close()

	var result []Slot
	for rows.Next() {
		slot, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *slot)
	}
	return result, rows.Err()
}

// UpsertSlot creates the slot or updates its zone and occupied flag.
func (s *PgStore) UpsertSlot(ctx context.Context, slot Slot) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO parking_slots (id, zone, occupied)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE
		SET zone = EXCLUDED.zone,
		    occupied = EXCLUDED.occupied,
		    updated_at = now()
	`, slot.ID, slot.Zone, slot.Occupied)
	if err != nil {
		return errors.Wrapf(err, "upsert slot %s", slot.ID)
	}
	return nil
}

func (s *PgStore) ConfirmedForSlot(ctx context.Context, slotID string, date Date) ([]Booking, error) {
	day, err := dateParam(date)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE slot_id = $1 AND booking_date = $2 AND state = 'confirmed'
		ORDER BY start_time, id
	`, slotID, day)
	if err != nil {
		return nil, errors.Wrap(err, "list confirmed bookings")
	}
	return collectBookings(rows)
}

func (s *PgStore) GetBooking(ctx context.Context, id string) (*Booking, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE id = $1
	`, id)
	return scanBooking(row)
}

func (s *PgStore) ListByUser(ctx context.Context, email string, state BookingState) ([]Booking, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE user_email = $1
		  AND ($2 = '' OR state = $2)
		ORDER BY start_time, id
	`, email, string(state))
	if err != nil {
		return nil, errors.Wrap(err, "list user bookings")
	}
	return collectBookings(rows)
}

func (s *PgStore) InsertBooking(ctx context.Context, b Booking) error {
	day, err := dateParam(b.Date)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO bookings (id, remote_id, username, user_email, slot_id, zone, booking_date,
		                      start_time, end_time, state, comment, created_at, updated_at)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, b.ID, b.RemoteID, b.Username, b.UserEmail, b.SlotID, b.Zone, day,
		b.Range.Start, b.Range.End, string(b.State), b.Comment, b.CreatedAt, b.UpdatedAt)
	if err != nil {
		return s.mapErr(ctx, err, b)
	}
	return nil
}

func (s *PgStore) UpdateBookingState(ctx context.Context, id string, from, to BookingState, remoteID string, at time.Time) (*Booking, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE bookings
		SET state = $2,
		    remote_id = COALESCE(NULLIF($4, ''), remote_id),
		    updated_at = $5
		WHERE id = $1
		  AND state = $3
		RETURNING `+bookingColumns,
		id, string(to), string(from), remoteID, at)

	b, err := scanBooking(row)
	if err != nil {
		if errors.Is(err, ErrBookingNotFound) {
			return nil, err
		}
		current, getErr := s.GetBooking(ctx, id)
		if getErr != nil {
			return nil, errors.Wrapf(err, "update booking %s", id)
		}
		return nil, s.mapErr(ctx, err, *current)
	}
	return b, nil
}

func (s *PgStore) FindStalePending(ctx context.Context, createdBefore time.Time) ([]Booking, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE state = 'pending'
		  AND created_at < $1
		ORDER BY created_at
	`, createdBefore)
	if err != nil {
		return nil, errors.Wrap(err, "find stale pending bookings")
	}
	return collectBookings(rows)
}

func (s *PgStore) InsertEvent(ctx context.Context, ev EventLog) error {
	var bookingID *string
	if ev.BookingID != "" {
		bookingID = &ev.BookingID
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, booking_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, bookingID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return errors.Wrap(err, "insert event log")
	}
	return nil
}

// OverlappingConfirmed counts pairs of confirmed bookings on the same slot
// whose ranges intersect. Zero whenever the exclusion constraint is in place.
func (s *PgStore) OverlappingConfirmed(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT count(*)
		FROM bookings a
		JOIN bookings b
		  ON a.slot_id = b.slot_id
		 AND a.id < b.id
		 AND tstzrange(a.start_time, a.end_time, '[)') && tstzrange(b.start_time, b.end_time, '[)')
		WHERE a.state = 'confirmed' AND b.state = 'confirmed'
	`).Scan(&n)
	if err != nil {
		return 0, errors.Wrap(err, "audit overlapping bookings")
	}
	return n, nil
}

// mapErr turns an exclusion violation into a *ConflictError naming the blocker.
func (s *PgStore) mapErr(ctx context.Context, err error, b Booking) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != ExclusionViolationCode {
		return err
	}

	conflict := &ConflictError{SlotID: b.SlotID, Date: b.Date}
	confirmed, listErr := s.ConfirmedForSlot(ctx, b.SlotID, b.Date)
	if listErr != nil {
		return conflict
	}
	for _, c := range confirmed {
		if c.ID != b.ID && c.Range.Overlaps(b.Range) {
			conflict.Conflicting = c.Range
			conflict.BookingID = c.ID
			break
		}
	}
	return conflict
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
