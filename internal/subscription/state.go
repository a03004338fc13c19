package subscription

import (
	"errors"
	"fmt"
	"time"
)

// State is the lifecycle state of a subscription.
type State string

const (
	StateActive    State = "active"
	StateRenewing  State = "renewing"
	StatePaused    State = "paused"
	StateCancelled State = "cancelled"
)

// Event drives a transition between states.
type Event string

const (
	// EventStartRenewal claims a subscription for a renewal attempt.
	EventStartRenewal Event = "start_renewal"
	// EventRenewalSucceeded ends a claim after a paid renewal order.
	EventRenewalSucceeded Event = "renewal_succeeded"
	// EventRenewalFailed ends a claim after a failed payment with retries left.
	EventRenewalFailed Event = "renewal_failed"
	// EventRetriesExhausted ends a claim after the last allowed failed payment.
	EventRetriesExhausted Event = "retries_exhausted"
	// EventRelease ends a claim without a payment attempt (skip consumed,
	// order could not be built, request no longer applicable).
	EventRelease Event = "release"
	EventCancel  Event = "cancel"
	EventPause   Event = "pause"
	EventResume  Event = "resume"
)

var (
	ErrIllegalTransition = errors.New("illegal state transition")
	ErrTerminal          = errors.New("subscription is cancelled")
	ErrNotRecurring      = errors.New("subscription has no renewal interval")
	ErrResumeAtRequired  = errors.New("resume date is required to pause")
)

// Facts are the subscription attributes transition guards look at.
type Facts struct {
	Interval int
	ResumeAt *time.Time
}

type transition struct {
	from  State
	event Event
}

type rule struct {
	to    State
	guard func(Facts) error
}

func requireInterval(f Facts) error {
	if f.Interval <= 0 {
		return ErrNotRecurring
	}
	return nil
}

func requireResumeAt(f Facts) error {
	if f.ResumeAt == nil || f.ResumeAt.IsZero() {
		return ErrResumeAtRequired
	}
	return nil
}

// transitions is the only place where legal state changes are defined.
var transitions = map[transition]rule{
	{StateActive, EventStartRenewal}:       {to: StateRenewing, guard: requireInterval},
	{StateRenewing, EventRenewalSucceeded}: {to: StateActive},
	{StateRenewing, EventRenewalFailed}:    {to: StateActive},
	{StateRenewing, EventRetriesExhausted}: {to: StateCancelled},
	{StateRenewing, EventRelease}:          {to: StateActive},
	{StateActive, EventCancel}:             {to: StateCancelled},
	{StateRenewing, EventCancel}:           {to: StateCancelled},
	{StatePaused, EventCancel}:             {to: StateCancelled},
	{StateActive, EventPause}:              {to: StatePaused, guard: requireResumeAt},
	{StatePaused, EventResume}:             {to: StateActive},
}

// Next returns the state reached by firing ev in state from.
func Next(from State, ev Event, f Facts) (State, error) {
	if from == StateCancelled {
		return from, ErrTerminal
	}
	r, ok := transitions[transition{from, ev}]
	if !ok {
		return from, fmt.Errorf("%w: %s on %s", ErrIllegalTransition, ev, from)
	}
	if r.guard != nil {
		if err := r.guard(f); err != nil {
			return from, err
		}
	}
	return r.to, nil
}

// CanFire reports whether ev is legal in state from, ignoring guards.
func CanFire(from State, ev Event) bool {
	_, ok := transitions[transition{from, ev}]
	return ok
}

// Valid reports whether s is one of the known states.
func (s State) Valid() bool {
	switch s {
	case StateActive, StateRenewing, StatePaused, StateCancelled:
		return true
	}
	return false
}
