package subscription

import (
	"time"

	"github.com/jinzhu/now"
)

// NextRenewal adds intervalMonths calendar months to lastRenewalAt.
// When the target month is shorter than the source day, the result is clamped
// to the last day of the target month (Jan 31 + 1 month = Feb 28/29).
// A zero lastRenewalAt uses today as the baseline.
func NextRenewal(lastRenewalAt time.Time, intervalMonths int, today time.Time) time.Time {
	base := lastRenewalAt
	if base.IsZero() {
		base = today
	}

	firstOfTarget := now.With(base).BeginningOfMonth().AddDate(0, intervalMonths, 0)
	lastDay := now.With(firstOfTarget).EndOfMonth().Day()

	day := base.Day()
	if day > lastDay {
		day = lastDay
	}

	return time.Date(
		firstOfTarget.Year(), firstOfTarget.Month(), day,
		base.Hour(), base.Minute(), base.Second(), base.Nanosecond(),
		base.Location(),
	)
}
