package subscription

import (
	"errors"
	"time"
)

var (
	ErrSkipNotAllowed = errors.New("a pending skip already exists")
	ErrNoActiveSkip   = errors.New("no active skip")
)

// SkipEntry is the ledger view of a skip request.
type SkipEntry struct {
	SkipAt    time.Time
	UndoAt    *time.Time
	RenewedAt *time.Time
}

// Active reports whether the entry still suppresses an upcoming renewal.
func (e SkipEntry) Active() bool {
	return e.UndoAt == nil && e.RenewedAt == nil
}

// Stale reports whether an active entry's skip date is today or already behind us,
// in which case it no longer blocks a new skip request.
func (e SkipEntry) Stale(today time.Time) bool {
	return !dateOf(today).Before(dateOf(e.SkipAt.In(today.Location())))
}

// CanSkip reports whether a new skip may be requested given the current active entry.
func CanSkip(active *SkipEntry, today time.Time) bool {
	if active == nil || !active.Active() {
		return true
	}
	return active.Stale(today)
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
