package service

import (
	"time"

	"github.com/mtlprog/pointledger/internal/domain"
)

// Clock returns the current time. Services read "today" through it so that
// tests can pin the reference date.
type Clock func() time.Time

// SystemClock is the wall clock in UTC.
func SystemClock() time.Time {
	return time.Now().UTC()
}

// FixedClock returns a Clock that always reports t.
func FixedClock(t time.Time) Clock {
	return func() time.Time { return t }
}

// today is the calendar date of the clock's current time.
func (c Clock) today() time.Time {
	return domain.DateOf(c())
}
