package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/sony/gobreaker/v2"

	"github.com/hackgods/office-parking-reservations/internal/booking"
	"github.com/hackgods/office-parking-reservations/internal/observability"
)

// ErrUnavailable is returned while the breaker is open.
var ErrUnavailable = errors.New("booking api unavailable")

// StatusError is a non-2xx answer from the booking API.
type StatusError struct {
	StatusCode int
	Body       ErrorResponse
}

func (e *StatusError) Error() string {
	msg := e.Body.Message
	if msg == "" {
		msg = e.Body.Error
	}
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	return "booking api: " + msg
}

type reply struct {
	status int
	body   []byte
}

// Client talks to an upstream booking API. It serves as the ledger's Gateway,
// the catalog's SlotSource and the cache's BookingSource.
type Client struct {
	baseURL string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[reply]
	loc     *time.Location
	logger  observability.Logger
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func WithLocation(loc *time.Location) Option {
	return func(c *Client) { c.loc = loc }
}

func WithLogger(l observability.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 15 * time.Second},
		loc:     time.UTC,
		logger:  observability.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.breaker = gobreaker.NewCircuitBreaker[reply](gobreaker.Settings{
		Name:        "booking-api",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// Client errors are answers, not outages
		IsSuccessful: func(err error) bool {
			var se *StatusError
			if errors.As(err, &se) {
				return se.StatusCode < 500
			}
			return err == nil
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.WithField("breaker", name).
				WithField("from", from.String()).
				WithField("to", to.String()).
				Warn("circuit breaker state changed")
		},
	})
	return c
}

// FetchSlots lists the zone's slots with their occupied flag.
func (c *Client) FetchSlots(ctx context.Context, zone string, date booking.Date) ([]booking.Slot, error) {
	q := url.Values{}
	q.Set("zone", zone)
	q.Set("date", date.String())

	var dtos []SlotDTO
	if err := c.do(ctx, http.MethodGet, "/parking/slots?"+q.Encode(), nil, &dtos); err != nil {
		return nil, errors.Wrap(err, "fetch slots")
	}

	slots := make([]booking.Slot, 0, len(dtos))
	for _, d := range dtos {
		slots = append(slots, booking.Slot{ID: d.SlotNumber, Zone: zone, Occupied: d.IsOccupied})
	}
	return slots, nil
}

// CreateBooking posts a booking and returns it as the API recorded it.
func (c *Client) CreateBooking(ctx context.Context, req booking.ReserveRequest) (*booking.Booking, error) {
	body := CreateBookingRequest{
		Username:             req.Username,
		UserEmail:            req.UserEmail,
		ParkingSlotNumber:    req.SlotID,
		BookingStartDateTime: req.Range.Start,
		BookingEndDateTime:   req.Range.End,
		Comment:              req.Comment,
	}

	var dto BookingDTO
	if err := c.do(ctx, http.MethodPost, "/bookings", body, &dto); err != nil {
		return nil, c.reservationErr(err, req.SlotID, req.Date)
	}
	b := FromBookingDTO(dto, c.loc)
	return &b, nil
}

// ReserveRandom asks the API for any free slot in the range.
func (c *Client) ReserveRandom(ctx context.Context, req booking.AnyRequest) (*booking.Booking, error) {
	body := RandomBookingRequest{
		Zone:                 req.Zone,
		Date:                 req.Date.String(),
		Username:             req.Username,
		UserEmail:            req.UserEmail,
		BookingStartDateTime: req.Range.Start,
		BookingEndDateTime:   req.Range.End,
		Comment:              req.Comment,
	}

	var dto BookingDTO
	if err := c.do(ctx, http.MethodPost, "/bookings/random", body, &dto); err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.StatusCode == http.StatusNotFound && se.Body.Error == "no_slot_available" {
			return nil, errors.Wrap(booking.ErrNoSlotAvailable, se.Body.Message)
		}
		return nil, c.reservationErr(err, "", req.Date)
	}
	b := FromBookingDTO(dto, c.loc)
	return &b, nil
}

// SubmitBooking implements booking.Gateway.
func (c *Client) SubmitBooking(ctx context.Context, b booking.Booking) (string, error) {
	created, err := c.CreateBooking(ctx, booking.ReserveRequest{
		SlotID:    b.SlotID,
		Date:      b.Date,
		Range:     b.Range,
		UserEmail: b.UserEmail,
		Username:  b.Username,
		Comment:   b.Comment,
	})
	if err != nil {
		return "", err
	}
	return created.ID, nil
}

// SubmitCancellation implements booking.Gateway. The remote ID is used when known.
func (c *Client) SubmitCancellation(ctx context.Context, b booking.Booking) error {
	id := b.RemoteID
	if id == "" {
		id = b.ID
	}

	err := c.do(ctx, http.MethodPost, "/bookings/cancel", CancelBookingRequest{BookingID: id}, nil)
	if err == nil {
		return nil
	}

	var se *StatusError
	if errors.As(err, &se) {
		msg := se.Body.Message
		if msg == "" {
			msg = se.Body.Error
		}
		return &booking.CancellationError{BookingID: id, Message: msg, StatusCode: se.StatusCode, Err: err}
	}
	return err
}

// ConfirmedForUser implements booking.BookingSource.
func (c *Client) ConfirmedForUser(ctx context.Context, email string) ([]booking.Booking, error) {
	q := url.Values{}
	q.Set("userEmail", email)

	var dtos []BookingDTO
	if err := c.do(ctx, http.MethodGet, "/bookings?"+q.Encode(), nil, &dtos); err != nil {
		return nil, errors.Wrapf(err, "list bookings for %s", email)
	}

	out := make([]booking.Booking, 0, len(dtos))
	for _, d := range dtos {
		b := FromBookingDTO(d, c.loc)
		if b.State == booking.StateConfirmed {
			out = append(out, b)
		}
	}
	return out, nil
}

// Availability reads the API's range-scoped availability for a date.
func (c *Client) Availability(ctx context.Context, zone string, date booking.Date, rng *booking.TimeRange) (*booking.Availability, error) {
	q := url.Values{}
	if zone != "" {
		q.Set("zone", zone)
	}
	q.Set("date", date.String())
	if rng != nil {
		q.Set("start", rng.Start.Format(time.RFC3339))
		q.Set("end", rng.End.Format(time.RFC3339))
	}

	var av booking.Availability
	if err := c.do(ctx, http.MethodGet, "/availability?"+q.Encode(), nil, &av); err != nil {
		return nil, errors.Wrap(err, "availability")
	}
	return &av, nil
}

func (c *Client) reservationErr(err error, slotID string, date booking.Date) error {
	var se *StatusError
	if !errors.As(err, &se) {
		return err
	}
	switch se.Body.Error {
	case "slot_occupied":
		return errors.Wrapf(booking.ErrSlotOccupied, "parking spot %s", slotID)
	case "slot_being_booked":
		return &booking.ReservationError{Message: se.Body.Message, StatusCode: se.StatusCode, Err: errors.Mark(err, booking.ErrSlotBusy)}
	}
	if se.StatusCode == http.StatusConflict {
		conflict := &booking.ConflictError{SlotID: slotID, Date: date}
		if se.Body.Conflicting != nil {
			conflict.Conflicting = booking.TimeRange{
				Start: se.Body.Conflicting.Start.In(c.loc),
				End:   se.Body.Conflicting.End.In(c.loc),
			}
		}
		return conflict
	}
	msg := se.Body.Message
	if msg == "" {
		msg = se.Body.Error
	}
	return &booking.ReservationError{Message: msg, StatusCode: se.StatusCode, Err: err}
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var payload []byte
	if in != nil {
		var err error
		payload, err = json.Marshal(in)
		if err != nil {
			return errors.Wrap(err, "encode request")
		}
	}

	res, err := c.breaker.Execute(func() (reply, error) {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return reply{}, err
		}
		req.Header.Set("Accept", "application/json")
		if in != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return reply{}, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return reply{}, errors.Wrap(err, "read response")
		}
		r := reply{status: resp.StatusCode, body: body}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			se := &StatusError{StatusCode: resp.StatusCode}
			_ = json.Unmarshal(body, &se.Body)
			return r, se
		}
		return r, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return errors.Wrap(ErrUnavailable, err.Error())
		}
		return err
	}

	if out == nil || len(res.body) == 0 {
		return nil
	}
	if err := json.Unmarshal(res.body, out); err != nil {
		return errors.Wrap(err, "decode response")
	}
	return nil
}
