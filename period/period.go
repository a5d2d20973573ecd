// Package period implements a calendar month value type used as the natural key of the
// monthly series.
package period

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidPeriod   = errors.New("invalid period")
	ErrUnsupportedScan = errors.New("unsupported scan source for period")
)

const layout = "2006-01"

// Period is a calendar month. The zero value is not a valid period.
type Period struct {
	year  int
	month time.Month
}

// New returns the period for the given year and month. Months outside 1..12 are normalized
// the same way time.Date normalizes them.
func New(year int, month time.Month) Period {
	return FromTime(time.Date(year, month, 1, 0, 0, 0, 0, time.UTC))
}

// FromTime truncates t to the calendar month it falls in, using t's location.
func FromTime(t time.Time) Period {
	return Period{year: t.Year(), month: t.Month()}
}

// Parse accepts YYYY-MM, YYYY-MM-DD, or an RFC3339 timestamp.
func Parse(s string) (Period, error) {
	for _, l := range []string{layout, time.DateOnly, time.RFC3339} {
		if t, err := time.Parse(l, s); err == nil {
			return FromTime(t), nil
		}
	}
	return Period{}, fmt.Errorf("%q, %w", s, ErrInvalidPeriod)
}

// MustParse is Parse that panics on error. Intended for tests and constants.
func MustParse(s string) Period {
	p, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return p
}

func (p Period) Year() int { return p.year }
func (p Period) Month() time.Month { return p.month }
func (p Period) IsZero() bool { return p.year == 0 && p.month == 0 }
func (p Period) Next() Period { return p.AddMonths(1) }
func (p Period) Prev() Period { return p.AddMonths(-1) }
func (p Period) Before(o Period) bool { return p.index() < o.index() }
func (p Period) After(o Period) bool { return p.index() > o.index() }
func (p Period) Equal(o Period) bool { return p.index() == o.index() }

// Compare returns -1, 0 or +1 depending on whether p is before, equal to or after o.
func (p Period) Compare(o Period) int {
	switch {
	case p.Before(o):
		return -1
	case p.After(o):
		return 1
	}
	return 0
}

// AddMonths returns the period n months after p. n may be negative.
func (p Period) AddMonths(n int) Period {
	idx := p.index() + n
	return Period{year: idx / 12, month: time.Month(idx%12 + 1)}
}

// MonthsUntil returns the number of months from p to o, negative when o is before p.
func (p Period) MonthsUntil(o Period) int {
	return o.index() - p.index()
}

// Time returns the first instant of the month in UTC.
func (p Period) Time() time.Time {
	return time.Date(p.year, p.month, 1, 0, 0, 0, 0, time.UTC)
}

// String formats the period as YYYY-MM.
func (p Period) String() string {
	if p.IsZero() {
		return ""
	}
	return fmt.Sprintf("%04d-%02d", p.year, int(p.month))
}

// Compact formats the period as YYYYMM, used in storage paths.
func (p Period) Compact() string {
	return fmt.Sprintf("%04d%02d", p.year, int(p.month))
}

func (p Period) index() int {
	return p.year*12 + int(p.month) - 1
}

func (p Period) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Period) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*p = Period{}
		return nil
	}
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Value stores the period as a DATE on the first of the month.
func (p Period) Value() (driver.Value, error) {
	return p.Time(), nil
}

// Scan reads a DATE, TIMESTAMP, or text column.
func (p *Period) Scan(src any) error {
	switch v := src.(type) {
	case time.Time:
		*p = FromTime(v)
		return nil
	case string:
		return p.UnmarshalText([]byte(v))
	case []byte:
		return p.UnmarshalText(v)
	default:
		return fmt.Errorf("%T, %w", src, ErrUnsupportedScan)
	}
}

// Max returns the latest period of ps and false when ps is empty.
func Max(ps ...Period) (Period, bool) {
	if len(ps) == 0 {
		return Period{}, false
	}
	m := ps[0]
	for _, p := range ps[1:] {
		if p.After(m) {
			m = p
		}
	}
	return m, true
}
