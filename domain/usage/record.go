// Package usage provides the append-only ledger record types and pure
// aggregation functions over them.
package usage

import (
	"time"

	"github.com/apimarket/metergate/domain/admission"
)

// Record is one row of the usage ledger (immutable value type).
// Exactly one Record exists for every call that reached the admission
// decision, admitted or rejected; rejections carry CreditsCharged = 0.
// Records are historical facts: never mutated, never deleted.
type Record struct {
	ID             string
	ProfileID      string
	APIID          string
	Endpoint       string
	Method         string
	Outcome        admission.Outcome
	StatusCode     int
	LatencyMs      int64
	CreditsCharged int64
	CreatedAt      time.Time
}

// NewRejection builds the ledger record for a rejected call.
func NewRejection(id, profileID, apiID, endpoint, method string, outcome admission.Outcome, at time.Time) Record {
	return Record{
		ID:         id,
		ProfileID:  profileID,
		APIID:      apiID,
		Endpoint:   endpoint,
		Method:     method,
		Outcome:    outcome,
		StatusCode: outcome.StatusCode(),
		CreatedAt:  at.UTC(),
	}
}

// NewAdmitted builds the ledger record for an admitted call after the
// provider reported its final status and latency.
func NewAdmitted(id, profileID, apiID, endpoint, method string, statusCode int, latencyMs, charged int64, at time.Time) Record {
	return Record{
		ID:             id,
		ProfileID:      profileID,
		APIID:          apiID,
		Endpoint:       endpoint,
		Method:         method,
		Outcome:        admission.OutcomeAdmitted,
		StatusCode:     statusCode,
		LatencyMs:      latencyMs,
		CreditsCharged: charged,
		CreatedAt:      at.UTC(),
	}
}
