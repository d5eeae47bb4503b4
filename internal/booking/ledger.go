package booking

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hackgods/office-parking-reservations/internal/observability"
)

const detachedTimeout = 5 * time.Second

// Ledger is the authoritative record of bookings. For any slot the set of
// confirmed bookings is pairwise non-overlapping.
type Ledger struct {
	store          Store
	locker         Locker
	gateway        Gateway
	events         EventSink
	logger         observability.Logger
	confirmTimeout time.Duration

	now   func() time.Time
	newID func() string
}

// NewLedger wires a ledger. A nil gateway makes the ledger its own authority,
// a nil event sink writes events to the store, a nil locker serializes in process.
func NewLedger(store Store, locker Locker, gateway Gateway, events EventSink, logger observability.Logger, confirmTimeout time.Duration) *Ledger {
	if locker == nil {
		locker = NewKeyedMutex()
	}
	if gateway == nil {
		gateway = LocalGateway{}
	}
	if events == nil {
		events = StoreEvents{Store: store}
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Ledger{
		store:          store,
		locker:         locker,
		gateway:        gateway,
		events:         events,
		logger:         logger,
		confirmTimeout: confirmTimeout,
		now:            time.Now,
		newID:          uuid.NewString,
	}
}

// LockKey is the serialization key for reservations of a slot on a date.
func LockKey(slotID string, date Date) string {
	return fmt.Sprintf("slot:%s:%s", slotID, date)
}

// TryReserve books the slot for the range, or fails with a *ConflictError naming
// the confirmed range in the way. It never falls back to another slot.
func (l *Ledger) TryReserve(ctx context.Context, req ReserveRequest) (*Booking, error) {
	ctx, span := observability.Tracer().Start(ctx, "ledger.TryReserve", trace.WithAttributes(
		attribute.String("slot_id", req.SlotID),
		attribute.String("date", req.Date.String()),
	))
	defer span.End()

	b, err := l.tryReserve(ctx, req)
	observability.ReservationsTotal.WithLabelValues(outcome(err)).Inc()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return b, err
}

func (l *Ledger) tryReserve(ctx context.Context, req ReserveRequest) (*Booking, error) {
	if !req.Range.Valid() {
		return nil, errors.Wrapf(ErrInvalidRange, "start %s is not before end %s",
			req.Range.Start.Format(time.RFC3339), req.Range.End.Format(time.RFC3339))
	}
	if !req.Range.On(req.Date) {
		return nil, errors.Wrapf(ErrInvalidRange, "range %s does not lie on %s", req.Range, req.Date)
	}
	if req.UserEmail == "" {
		return nil, errors.Wrap(ErrInvalidRequest, "user email is required")
	}

	slot, err := l.store.GetSlot(ctx, req.SlotID)
	if err != nil {
		if errors.Is(err, ErrSlotNotFound) {
			return nil, errors.Wrapf(err, "slot %s", req.SlotID)
		}
		return nil, errors.Wrap(err, "load slot")
	}
	if slot.Occupied {
		return nil, errors.Wrapf(ErrSlotOccupied, "parking spot %s", slot.ID)
	}

	var (
		reserved *Booking
		entered  bool
	)
	waitStart := time.Now()

	err = l.locker.WithLock(ctx, LockKey(slot.ID, req.Date), func(lockCtx context.Context) error {
		entered = true
		observability.LockWaitSeconds.Observe(time.Since(waitStart).Seconds())

		// Inside the critical section re-read the confirmed bookings for this slot and date
		confirmed, err := l.store.ConfirmedForSlot(lockCtx, slot.ID, req.Date)
		if err != nil {
			return errors.Wrap(err, "load confirmed bookings")
		}
		for _, c := range confirmed {
			if c.Range.Overlaps(req.Range) {
				return &ConflictError{SlotID: slot.ID, Date: req.Date, Conflicting: c.Range, BookingID: c.ID}
			}
		}

		now := l.now()
		pending := Booking{
			ID:        l.newID(),
			Username:  req.Username,
			UserEmail: req.UserEmail,
			SlotID:    slot.ID,
			Zone:      slot.Zone,
			Date:      req.Date,
			Range:     req.Range,
			State:     StatePending,
			Comment:   req.Comment,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := l.store.InsertBooking(lockCtx, pending); err != nil {
			return errors.Wrap(err, "create pending booking")
		}
		l.emit(lockCtx, pending.ID, EventBookingCreated, map[string]any{
			"slot_id":    pending.SlotID,
			"date":       pending.Date,
			"start":      pending.Range.Start,
			"end":        pending.Range.End,
			"user_email": pending.UserEmail,
		})

		b, err := l.confirm(lockCtx, pending)
		if err != nil {
			return err
		}
		reserved = b
		return nil
	})

	if err != nil {
		if !entered {
			if ctx.Err() == nil {
				err = errors.Mark(err, ErrSlotBusy)
			}
			return nil, &ReservationError{Message: "slot is currently being booked, please retry", Err: err}
		}
		return nil, err
	}

	l.logger.WithField("booking_id", reserved.ID).
		WithField("slot_id", reserved.SlotID).
		WithField("date", reserved.Date).
		Infof("booking confirmed for %s", reserved.Range)
	return reserved, nil
}

// confirm submits the pending booking and moves it to confirmed. Any failure
// abandons the booking so a later retry for the slot is never blocked by it.
func (l *Ledger) confirm(ctx context.Context, pending Booking) (*Booking, error) {
	submitCtx, cancel := context.WithTimeout(ctx, l.confirmTimeout)
	remoteID, err := l.gateway.SubmitBooking(submitCtx, pending)
	cancel()

	if err != nil {
		timedOut := errors.Is(err, context.DeadlineExceeded)
		reason := "gateway_error"
		if timedOut {
			reason = "confirm_timeout"
		}
		l.abandon(ctx, pending, reason)

		var conflict *ConflictError
		var resErr *ReservationError
		switch {
		case errors.As(err, &conflict), errors.As(err, &resErr):
			return nil, err
		case timedOut:
			return nil, &ReservationError{Message: "confirmation timed out", Err: err}
		default:
			return nil, &ReservationError{Message: "submit booking", Err: err}
		}
	}

	to, err := Next(pending.State, EventConfirm)
	if err != nil {
		l.logger.WithError(err).WithField("booking_id", pending.ID).Error("confirm rejected by lifecycle")
		l.abandon(ctx, pending, "invalid_transition")
		return nil, err
	}

	updated, err := l.store.UpdateBookingState(ctx, pending.ID, pending.State, to, remoteID, l.now())
	if err != nil {
		l.abandon(ctx, pending, "store_rejected")
		l.compensate(ctx, pending, remoteID)
		if errors.Is(err, ErrSlotConflict) {
			return nil, err
		}
		return nil, &ReservationError{Message: "confirm booking", Err: err}
	}

	l.emit(ctx, updated.ID, EventBookingConfirmed, map[string]any{"remote_id": updated.RemoteID})
	return updated, nil
}

func (l *Ledger) abandon(ctx context.Context, pending Booking, reason string) {
	ctx, cancel := detached(ctx)
	defer cancel()

	log := l.logger.WithField("booking_id", pending.ID).WithField("reason", reason)

	to, err := Next(pending.State, EventTimeout)
	if err != nil {
		log.WithError(err).Error("cannot expire booking")
		return
	}
	if _, err := l.store.UpdateBookingState(ctx, pending.ID, pending.State, to, "", l.now()); err != nil {
		// The expiry worker picks the booking up later.
		log.WithError(err).Error("failed to expire abandoned booking")
		return
	}

	observability.ExpiredBookingsTotal.WithLabelValues(reason).Inc()
	l.emit(ctx, pending.ID, EventBookingExpired, map[string]any{"reason": reason})
	log.Warn("pending booking expired")
}

// compensate withdraws a booking the gateway accepted but the store refused.
func (l *Ledger) compensate(ctx context.Context, b Booking, remoteID string) {
	ctx, cancel := detached(ctx)
	defer cancel()

	b.RemoteID = remoteID
	if err := l.gateway.SubmitCancellation(ctx, b); err != nil {
		l.logger.WithError(err).WithField("booking_id", b.ID).Error("failed to withdraw rejected booking from gateway")
	}
}

// Cancel releases a confirmed booking. The interval is free as soon as it returns.
func (l *Ledger) Cancel(ctx context.Context, id string) (*Booking, error) {
	ctx, span := observability.Tracer().Start(ctx, "ledger.Cancel", trace.WithAttributes(
		attribute.String("booking_id", id),
	))
	defer span.End()

	b, err := l.cancel(ctx, id)
	observability.CancellationsTotal.WithLabelValues(outcome(err)).Inc()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return b, err
}

func (l *Ledger) cancel(ctx context.Context, id string) (*Booking, error) {
	b, err := l.store.GetBooking(ctx, id)
	if err != nil {
		if errors.Is(err, ErrBookingNotFound) {
			return nil, &NotCancellableError{BookingID: id}
		}
		return nil, errors.Wrap(err, "load booking")
	}

	var (
		cancelled *Booking
		entered   bool
	)

	err = l.locker.WithLock(ctx, LockKey(b.SlotID, b.Date), func(lockCtx context.Context) error {
		entered = true

		current, err := l.store.GetBooking(lockCtx, id)
		if err != nil {
			return errors.Wrap(err, "reload booking")
		}
		to, err := Next(current.State, EventCancel)
		if err != nil {
			return &NotCancellableError{BookingID: id, State: current.State}
		}

		submitCtx, cancel := context.WithTimeout(lockCtx, l.confirmTimeout)
		err = l.gateway.SubmitCancellation(submitCtx, *current)
		cancel()
		if err != nil {
			var cerr *CancellationError
			if errors.As(err, &cerr) {
				return err
			}
			return &CancellationError{BookingID: id, Message: "submit cancellation", Err: err}
		}

		writeCtx, cancelWrite := detached(lockCtx)
		defer cancelWrite()
		updated, err := l.store.UpdateBookingState(writeCtx, id, current.State, to, "", l.now())
		if err != nil {
			return &CancellationError{BookingID: id, Message: "record cancellation", Err: err}
		}
		cancelled = updated
		l.emit(writeCtx, id, EventBookingCancelled, map[string]any{"slot_id": updated.SlotID, "date": updated.Date})
		return nil
	})

	if err != nil {
		if !entered {
			return nil, &CancellationError{BookingID: id, Message: "slot is currently being booked, please retry", Err: err}
		}
		return nil, err
	}
	return cancelled, nil
}

// ExpireStalePending abandons pending bookings created before the cut-off.
// It is intended to be called by the worker periodically.
func (l *Ledger) ExpireStalePending(ctx context.Context, createdBefore time.Time) (int, error) {
	stale, err := l.store.FindStalePending(ctx, createdBefore)
	if err != nil {
		return 0, errors.Wrap(err, "find stale pending bookings")
	}

	expired := 0
	for _, b := range stale {
		_, err := l.store.UpdateBookingState(ctx, b.ID, StatePending, StateExpired, "", l.now())
		if err != nil {
			if !errors.Is(err, ErrBookingNotFound) {
				l.logger.WithError(err).WithField("booking_id", b.ID).Error("failed to expire booking")
			}
			continue
		}
		expired++
		observability.ExpiredBookingsTotal.WithLabelValues("worker").Inc()
		l.emit(ctx, b.ID, EventBookingExpired, map[string]any{"reason": "worker"})
	}
	return expired, nil
}

func (l *Ledger) Get(ctx context.Context, id string) (*Booking, error) {
	return l.store.GetBooking(ctx, id)
}

// ConfirmedOn returns the confirmed bookings of a slot on a date. Read only.
func (l *Ledger) ConfirmedOn(ctx context.Context, slotID string, date Date) ([]Booking, error) {
	return l.store.ConfirmedForSlot(ctx, slotID, date)
}

func (l *Ledger) ConfirmedForUser(ctx context.Context, email string) ([]Booking, error) {
	return l.store.ListByUser(ctx, email, StateConfirmed)
}

// FetchSlots lets the ledger act as the catalog's source.
func (l *Ledger) FetchSlots(ctx context.Context, zone string, _ Date) ([]Slot, error) {
	return l.store.ListSlots(ctx, zone)
}

func (l *Ledger) emit(ctx context.Context, bookingID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		l.logger.WithError(err).Errorf("failed to marshal event payload for %s", eventType)
		data = nil
	}

	ev := EventLog{
		EventType: eventType,
		BookingID: bookingID,
		Payload:   data,
		CreatedAt: l.now(),
	}

	if err := l.events.RecordEvent(ctx, ev); err != nil {
		observability.EventsPublished.WithLabelValues(eventType, "error").Inc()
		l.logger.WithError(err).WithField("booking_id", bookingID).Errorf("failed to record event %s", eventType)
		return
	}
	observability.EventsPublished.WithLabelValues(eventType, "ok").Inc()
}

func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), detachedTimeout)
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrSlotConflict):
		return "conflict"
	case errors.Is(err, ErrNotCancellable):
		return "not_cancellable"
	case errors.Is(err, ErrInvalidRange), errors.Is(err, ErrInvalidRequest), errors.Is(err, ErrSlotNotFound):
		return "invalid"
	case errors.Is(err, ErrReservation), errors.Is(err, ErrCancellation):
		return "gateway_error"
	default:
		return "error"
	}
}
