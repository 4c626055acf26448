package services

import (
	"regexp"
	"time"

	apperrors "github.com/zatekoja/onesystem-clinic/pkg/errors"
)

// DayLayout is the calendar-day format used for dates throughout the store
const DayLayout = "2006-01-02"

var dayPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// Clock returns the current time in the clinic's timezone
type Clock func() time.Time

// SystemClock reads the wall clock in loc
func SystemClock(loc *time.Location) Clock {
	if loc == nil {
		loc = time.Local
	}
	return func() time.Time { return time.Now().In(loc) }
}

// FixedClock always returns t
func FixedClock(t time.Time) Clock {
	return func() time.Time { return t }
}

// Today returns the current calendar day as YYYY-MM-DD
func (c Clock) Today() string {
	return c().Format(DayLayout)
}

// Millis returns the current time as Unix milliseconds
func (c Clock) Millis() int64 {
	return c().UnixMilli()
}

func validateDay(field, day string) error {
	if !dayPattern.MatchString(day) {
		return apperrors.NewValidationError(field + " must be YYYY-MM-DD")
	}
	if _, err := time.Parse(DayLayout, day); err != nil {
		return apperrors.NewValidationError(field + " is not a calendar day")
	}
	return nil
}
