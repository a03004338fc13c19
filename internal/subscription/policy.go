package subscription

// DefaultCancellationThreshold is the number of consecutive failed renewals
// after which a subscription is cancelled.
const DefaultCancellationThreshold = 6

// Outcome is the result of a payment attempt as seen by the failure policy.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeFailure
)

// Hint tells the processor where a subscription goes after an attempt.
type Hint int

const (
	HintReturnToActive Hint = iota
	HintCancel
)

func (h Hint) String() string {
	if h == HintCancel {
		return "cancel"
	}
	return "return_to_active"
}

// Decision is the failure policy verdict for one attempt.
type Decision struct {
	FailureCount int
	Hint         Hint
	// Retry is true when the subscription stays eligible for the next scheduler pass.
	Retry bool
}

// Event maps the decision onto the state machine event that ends the claim.
func (d Decision) Event(o Outcome) Event {
	switch {
	case o == OutcomeSuccess:
		return EventRenewalSucceeded
	case d.Hint == HintCancel:
		return EventRetriesExhausted
	default:
		return EventRenewalFailed
	}
}

// FailurePolicy decides retry versus cancellation from the consecutive failure count.
type FailurePolicy struct {
	Threshold int
}

// NewFailurePolicy returns a policy cancelling at threshold failures.
// A non-positive threshold falls back to DefaultCancellationThreshold.
func NewFailurePolicy(threshold int) FailurePolicy {
	if threshold <= 0 {
		threshold = DefaultCancellationThreshold
	}
	return FailurePolicy{Threshold: threshold}
}

// Limit is the effective threshold; a zero value policy uses the default.
func (p FailurePolicy) Limit() int {
	if p.Threshold <= 0 {
		return DefaultCancellationThreshold
	}
	return p.Threshold
}

// Apply returns the new failure count and transition hint for an attempt.
func (p FailurePolicy) Apply(current int, o Outcome) Decision {
	if o == OutcomeSuccess {
		return Decision{FailureCount: 0, Hint: HintReturnToActive, Retry: false}
	}
	if current < 0 {
		current = 0
	}
	n := current + 1
	if n >= p.Limit() {
		return Decision{FailureCount: n, Hint: HintCancel, Retry: false}
	}
	return Decision{FailureCount: n, Hint: HintReturnToActive, Retry: true}
}

// InGoodStanding reports whether a subscription with count failures may still renew.
func (p FailurePolicy) InGoodStanding(count int) bool {
	return count < p.Limit()
}

// RetriesLeft is the number of failed attempts still tolerated before cancellation.
func (p FailurePolicy) RetriesLeft(count int) int {
	left := p.Limit() - 1 - count
	if left < 0 {
		return 0
	}
	return left
}
