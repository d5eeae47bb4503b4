package booking

import (
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

const dateLayout = "2006-01-02"

// Date is a calendar date in YYYY-MM-DD form.
type Date string

func ParseDate(s string) (Date, error) {
	if _, err := time.Parse(dateLayout, s); err != nil {
		return "", errors.Wrapf(ErrInvalidRange, "invalid date %q", s)
	}
	return Date(s), nil
}

// DateOf returns the calendar date of t in t's own location.
func DateOf(t time.Time) Date {
	return Date(t.Format(dateLayout))
}

// Midnight returns the start of the date in loc.
func (d Date) Midnight(loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(dateLayout, string(d), loc)
	if err != nil {
		return time.Time{}, errors.Wrapf(ErrInvalidRange, "invalid date %q", string(d))
	}
	return t, nil
}

func (d Date) String() string { return string(d) }

// TimeRange is a half-open interval [Start, End).
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func NewTimeRange(start, end time.Time) (TimeRange, error) {
	if !start.Before(end) {
		return TimeRange{}, errors.Wrapf(ErrInvalidRange, "start %s is not before end %s",
			start.Format(time.RFC3339), end.Format(time.RFC3339))
	}
	return TimeRange{Start: start, End: end}, nil
}

// ClockRange builds a range on date from "HH:MM" clock times in loc.
func ClockRange(date Date, from, to string, loc *time.Location) (TimeRange, error) {
	midnight, err := date.Midnight(loc)
	if err != nil {
		return TimeRange{}, err
	}
	start, err := clockOffset(midnight, from)
	if err != nil {
		return TimeRange{}, err
	}
	end, err := clockOffset(midnight, to)
	if err != nil {
		return TimeRange{}, err
	}
	return NewTimeRange(start, end)
}

// ParsePreset parses a picker label such as "08:00 - 18:00".
func ParsePreset(date Date, preset string, loc *time.Location) (TimeRange, error) {
	parts := strings.Split(preset, "-")
	if len(parts) != 2 {
		return TimeRange{}, errors.Wrapf(ErrInvalidRange, "invalid range %q", preset)
	}
	return ClockRange(date, strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]), loc)
}

func clockOffset(midnight time.Time, clock string) (time.Time, error) {
	if clock == "24:00" {
		return midnight.AddDate(0, 0, 1), nil
	}
	c, err := time.Parse("15:04", clock)
	if err != nil {
		return time.Time{}, errors.Wrapf(ErrInvalidRange, "invalid clock time %q", clock)
	}
	return midnight.Add(time.Duration(c.Hour())*time.Hour + time.Duration(c.Minute())*time.Minute), nil
}

func (r TimeRange) Valid() bool {
	return r.Start.Before(r.End)
}

// Overlaps reports whether the two ranges share any instant.
func (r TimeRange) Overlaps(o TimeRange) bool {
	start := r.Start
	if o.Start.After(start) {
		start = o.Start
	}
	end := r.End
	if o.End.Before(end) {
		end = o.End
	}
	return start.Before(end)
}

// On reports whether r starts on date and ends no later than the next midnight.
func (r TimeRange) On(date Date) bool {
	if DateOf(r.Start) != date {
		return false
	}
	midnight, err := date.Midnight(r.Start.Location())
	if err != nil {
		return false
	}
	return !r.End.After(midnight.AddDate(0, 0, 1))
}

func (r TimeRange) Duration() time.Duration {
	return r.End.Sub(r.Start)
}

func (r TimeRange) String() string {
	return fmt.Sprintf("%s-%s", r.Start.Format("15:04"), r.End.Format("15:04"))
}

// In returns the range with both ends expressed in loc.
func (r TimeRange) In(loc *time.Location) TimeRange {
	return TimeRange{Start: r.Start.In(loc), End: r.End.In(loc)}
}
