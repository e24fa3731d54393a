// Package listing provides the catalog entry value types the metering core
// reads. Listings are owned by catalog management; from this core's
// perspective they are immutable inputs to the admission decision.
package listing

import (
	"errors"
	"fmt"
	"time"
)

// Status is the lifecycle state of a cataloged API.
type Status string

const (
	StatusActive      Status = "active"
	StatusBeta        Status = "beta"
	StatusDeprecated  Status = "deprecated"
	StatusMaintenance Status = "maintenance"
)

// Valid reports whether s is a known lifecycle state.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusBeta, StatusDeprecated, StatusMaintenance:
		return true
	}
	return false
}

// Listing describes one cataloged API (immutable value type).
type Listing struct {
	ID         string
	Name       string
	Version    string
	Status     Status
	RateCap    int   // max admitted calls per rolling hour per caller
	CreditCost int64 // credits charged per admitted call
	Endpoint   EndpointSpec
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Validation errors.
var (
	ErrBadStatus     = errors.New("listing: unknown lifecycle status")
	ErrBadRateCap    = errors.New("listing: rate cap must be a positive integer")
	ErrBadCreditCost = errors.New("listing: credit cost must be a positive integer")
)

// Validate checks the invariants the core relies on. Listings are
// validated at write time so the admission path never needs per-field
// fallbacks.
func (l Listing) Validate() error {
	if l.ID == "" || l.Name == "" {
		return fmt.Errorf("listing: id and name are required")
	}
	if !l.Status.Valid() {
		return fmt.Errorf("%w: %q", ErrBadStatus, l.Status)
	}
	if l.RateCap <= 0 {
		return fmt.Errorf("%w: %d", ErrBadRateCap, l.RateCap)
	}
	if l.CreditCost <= 0 {
		return fmt.Errorf("%w: %d", ErrBadCreditCost, l.CreditCost)
	}
	return l.Endpoint.Validate()
}

// Invocable reports whether new calls may be admitted against this
// listing. Only active listings accept calls; beta, deprecated and
// maintenance listings reject with ApiUnavailable.
func (l Listing) Invocable() bool {
	return l.Status == StatusActive
}
