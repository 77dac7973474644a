package domain

import (
	"fmt"
	"time"
)

// DateLayout is the wire format for calendar dates.
const DateLayout = "2006-01-02"

const monthLayout = "2006-01"

// YearMonth is a calendar month, keyed as "YYYY-MM".
type YearMonth struct {
	Year  int
	Month time.Month
}

// ParseYearMonth parses a "YYYY-MM" key.
func ParseYearMonth(s string) (YearMonth, error) {
	t, err := time.Parse(monthLayout, s)
	if err != nil {
		return YearMonth{}, fmt.Errorf("%w: %q", ErrInvalidMonth, s)
	}
	return YearMonth{Year: t.Year(), Month: t.Month()}, nil
}

// MonthOf returns the month containing t.
func MonthOf(t time.Time) YearMonth {
	return YearMonth{Year: t.Year(), Month: t.Month()}
}

// String returns the "YYYY-MM" key.
func (m YearMonth) String() string {
	return fmt.Sprintf("%04d-%02d", m.Year, int(m.Month))
}

// Start is the first instant of the month (UTC).
func (m YearMonth) Start() time.Time {
	return time.Date(m.Year, m.Month, 1, 0, 0, 0, 0, time.UTC)
}

// End is the first instant of the following month; months are half-open [Start, End).
func (m YearMonth) End() time.Time {
	return m.Start().AddDate(0, 1, 0)
}

// Contains reports whether t falls in [Start, End).
func (m YearMonth) Contains(t time.Time) bool {
	return !t.Before(m.Start()) && t.Before(m.End())
}

// AddMonths shifts the month by n (negative n goes back).
func (m YearMonth) AddMonths(n int) YearMonth {
	return MonthOf(m.Start().AddDate(0, n, 0))
}

// Before reports whether m is earlier than other.
func (m YearMonth) Before(other YearMonth) bool {
	return m.Start().Before(other.Start())
}

// DateOf truncates t to its calendar date in UTC.
func DateOf(t time.Time) time.Time {
	y, mo, d := t.Date()
	return time.Date(y, mo, d, 0, 0, 0, 0, time.UTC)
}
