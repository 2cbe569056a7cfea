// Package clock owns date resolution for the relay: which calendar day an
// event belongs to, what "today" is, and which textual dates are accepted.
// Every component resolves dates through a single Clock so clients never
// compute "today" themselves.
package clock

import (
	"fmt"
	"strings"
	"time"

	// Embedded zone database so reference zones load on minimal hosts.
	_ "time/tzdata"

	"github.com/tphakala/birdnet-relay/internal/errors"
)

const (
	// DateLayout is the only accepted textual date format.
	DateLayout = "2006-01-02"

	// Latest selects the current date in the reference zone.
	Latest = "latest"

	// clockOnlySkew is how far ahead of arrival a clock-only timestamp may be
	// before it is attributed to the previous day.
	clockOnlySkew = time.Minute
)

// timestampLayouts are tried in order for producer timestamps carrying a date.
// Layouts without an offset are read in the reference zone.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

const clockOnlyLayout = "15:04:05"

// Clock resolves dates in a fixed reference time zone.
type Clock struct {
	loc *time.Location
	now func() time.Time
}

// New returns a Clock for the named IANA zone. "" and "Local" use the host zone.
func New(timezone string) (*Clock, error) {
	loc, err := LoadLocation(timezone)
	if err != nil {
		return nil, err
	}
	return &Clock{loc: loc, now: time.Now}, nil
}

// NewWithNow returns a Clock with an injected time source, used by tests to cross midnight.
func NewWithNow(loc *time.Location, now func() time.Time) *Clock {
	if loc == nil {
		loc = time.Local
	}
	if now == nil {
		now = time.Now
	}
	return &Clock{loc: loc, now: now}
}

// LoadLocation resolves a zone name, treating "" and "Local" as the host zone.
func LoadLocation(timezone string) (*time.Location, error) {
	switch timezone {
	case "", "Local":
		return time.Local, nil
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, errors.New(fmt.Errorf("invalid reference timezone %q: %w", timezone, err)).
			Component("clock").
			Category(errors.CategoryConfiguration).
			Context("timezone", timezone).
			Build()
	}
	return loc, nil
}

// Location returns the reference zone.
func (c *Clock) Location() *time.Location {
	return c.loc
}

// Now returns the current instant in the reference zone.
func (c *Clock) Now() time.Time {
	return c.now().In(c.loc)
}

// Today returns the current observation date.
func (c *Clock) Today() string {
	return c.DateOf(c.now())
}

// DateOf returns the observation date of t in the reference zone.
func (c *Clock) DateOf(t time.Time) string {
	return t.In(c.loc).Format(DateLayout)
}

// ParseDate validates a YYYY-MM-DD date and returns it in canonical form.
// Any other layout, including DD-MM-YYYY, is an InvalidArgument.
func (c *Clock) ParseDate(s string) (string, error) {
	if len(s) != len(DateLayout) {
		return "", invalidDate(s)
	}
	t, err := time.ParseInLocation(DateLayout, s, c.loc)
	if err != nil {
		return "", invalidDate(s)
	}
	return t.Format(DateLayout), nil
}

// Resolve maps a date selector to an observation date: "" and "latest" become
// today, anything else must be a canonical date.
func (c *Clock) Resolve(selector string) (string, error) {
	selector = strings.TrimSpace(selector)
	if selector == "" || strings.EqualFold(selector, Latest) {
		return c.Today(), nil
	}
	return c.ParseDate(selector)
}

// NormalizeSelector returns Latest for "" or "latest", or the canonical date.
// Subscribers store the normalized form so "latest" keeps following midnight.
func (c *Clock) NormalizeSelector(selector string) (string, error) {
	selector = strings.TrimSpace(selector)
	if selector == "" || strings.EqualFold(selector, Latest) {
		return Latest, nil
	}
	return c.ParseDate(selector)
}

// ParseTimestamp parses a producer timestamp. Full timestamps without an
// offset are read in the reference zone. A clock-only value (HH:MM:SS) is
// bound to the date of arrival, or to the previous day when it lies more than
// a minute ahead of arrival.
func (c *Clock) ParseTimestamp(s string, arrival time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.ValidationError("timestamp is empty")
	}

	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, c.loc); err == nil {
			return t, nil
		}
	}

	if t, err := time.ParseInLocation(clockOnlyLayout, s, c.loc); err == nil {
		a := arrival.In(c.loc)
		bound := time.Date(a.Year(), a.Month(), a.Day(), t.Hour(), t.Minute(), t.Second(), 0, c.loc)
		if bound.Sub(a) > clockOnlySkew {
			bound = bound.AddDate(0, 0, -1)
		}
		return bound, nil
	}

	return time.Time{}, errors.New(fmt.Errorf("unparseable timestamp %q", s)).
		Component("clock").
		Category(errors.CategoryValidation).
		Context("value", s).
		Build()
}

func invalidDate(s string) error {
	return errors.New(fmt.Errorf("invalid date %q: expected YYYY-MM-DD or %q", s, Latest)).
		Component("clock").
		Category(errors.CategoryInvalidArgument).
		Context("value", s).
		Build()
}
