package subscription

import "time"

// Candidate carries what the scheduler needs to decide whether a subscription is due.
type Candidate struct {
	State                   State
	Interval                int
	FailureCount            int
	PrepaidPeriodsRemaining int
	HasCompletedOrder       bool
	NextRenewalAt           time.Time
}

// DueForRenewal is the renewal selection predicate. Storage backends that
// cannot run it directly must express the same conditions in their query.
func DueForRenewal(c Candidate, now time.Time, p FailurePolicy) bool {
	return c.State == StateActive &&
		c.Interval > 0 &&
		p.InGoodStanding(c.FailureCount) &&
		c.PrepaidPeriodsRemaining <= 0 &&
		c.HasCompletedOrder &&
		!c.NextRenewalAt.IsZero() &&
		!c.NextRenewalAt.After(now)
}

// ReadyToResume reports whether a paused subscription has reached its resume date.
func ReadyToResume(state State, resumeAt *time.Time, now time.Time) bool {
	return state == StatePaused && resumeAt != nil && !resumeAt.After(now)
}
