// Package admission provides the pure admit/reject decision for one
// prospective call. All functions are deterministic with no side effects;
// the surrounding service is responsible for atomicity and for actually
// debiting the balance.
package admission

import "time"

// Window is the trailing interval over which admitted calls count
// against a listing's rate cap.
const Window = time.Hour

// Outcome classifies the terminal state of an invocation attempt.
type Outcome string

const (
	OutcomeAdmitted            Outcome = "admitted"
	OutcomeRateLimited         Outcome = "rate_limited"
	OutcomeInsufficientCredits Outcome = "insufficient_credits"
	OutcomeAPIUnavailable      Outcome = "api_unavailable"
)

// StatusCode maps an outcome to the gateway status recorded for it and
// returned to the caller.
func (o Outcome) StatusCode() int {
	switch o {
	case OutcomeRateLimited:
		return 429
	case OutcomeInsufficientCredits:
		return 402
	case OutcomeAPIUnavailable:
		return 503
	default:
		return 200
	}
}

// Rejected reports whether the outcome is a terminal rejection.
func (o Outcome) Rejected() bool {
	return o != OutcomeAdmitted
}

// Input carries everything the decision needs, already resolved by the
// caller: the listing's limits, the caller's balance, and the number of
// admitted calls for this (caller, api) pair inside the trailing window.
type Input struct {
	ListingActive bool
	RateCap       int
	CreditCost    int64
	Balance       int64
	RecentCalls   int
}

// Decision is the outcome of evaluating one prospective call.
type Decision struct {
	Outcome        Outcome
	ChargedCredits int64 // cost on admission, 0 on rejection
	Remaining      int   // rate-window slots left after this call
}

// Decide evaluates the admission sequence. The rate check deliberately
// precedes the credit check so a caller who is both rate-limited and out
// of credits sees a stable rejection reason. This is a PURE function:
// the caller must hold the pair lock and perform the conditional debit.
func Decide(in Input) Decision {
	if !in.ListingActive {
		return Decision{Outcome: OutcomeAPIUnavailable}
	}
	if in.RecentCalls >= in.RateCap {
		return Decision{Outcome: OutcomeRateLimited}
	}
	if in.Balance < in.CreditCost {
		return Decision{Outcome: OutcomeInsufficientCredits}
	}
	return Decision{
		Outcome:        OutcomeAdmitted,
		ChargedCredits: in.CreditCost,
		Remaining:      in.RateCap - in.RecentCalls - 1,
	}
}

// WindowStart returns the cutoff of the rolling window ending at now.
func WindowStart(now time.Time) time.Time {
	return now.Add(-Window)
}
