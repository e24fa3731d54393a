// Package ports defines the interfaces (contracts) between layers.
// These interfaces enable dependency injection and testability.
// Implementations live in adapters/.
package ports

import (
	"context"
	"errors"
	"time"

	"github.com/apimarket/metergate/domain/credential"
	"github.com/apimarket/metergate/domain/listing"
	"github.com/apimarket/metergate/domain/usage"
)

// -----------------------------------------------------------------------------
// Infrastructure Ports
// -----------------------------------------------------------------------------

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// IDGenerator generates unique identifiers.
type IDGenerator interface {
	New() string
}

// -----------------------------------------------------------------------------
// Identity Store
// -----------------------------------------------------------------------------

// Profile is one caller account. The credit balance is mutated only by
// the ledger's conditional debit and by operator top-ups; it can never
// go negative.
type Profile struct {
	ID        string
	Email     string
	Name      string
	Key       credential.Credential
	Credits   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store sentinel errors.
var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInsufficientCredits is returned by DebitCredits when the
	// balance is below the requested amount. The balance is untouched.
	ErrInsufficientCredits = errors.New("insufficient credits")
)

// ProfileStore persists caller accounts.
type ProfileStore interface {
	// Get retrieves a profile by ID.
	Get(ctx context.Context, id string) (Profile, error)

	// GetByKeyPrefix retrieves profiles whose key carries the given
	// lookup prefix. The caller matches the full key via bcrypt.
	GetByKeyPrefix(ctx context.Context, prefix string) ([]Profile, error)

	// Create stores a new profile.
	Create(ctx context.Context, p Profile) error

	// DebitCredits atomically subtracts amount from the balance, but
	// only if the balance covers it; otherwise ErrInsufficientCredits
	// and no change. This single conditional update is the guard
	// against two concurrent calls both spending the same credits.
	DebitCredits(ctx context.Context, id string, amount int64) (newBalance int64, err error)

	// AddCredits atomically adds amount to the balance (operator top-up).
	AddCredits(ctx context.Context, id string, amount int64) (newBalance int64, err error)

	// SetKey replaces the profile's credential (key rotation). The
	// previous key must already be stamped revoked by the caller.
	SetKey(ctx context.Context, id string, c credential.Credential) error

	// RevokeKey stamps the current credential revoked as of at.
	RevokeKey(ctx context.Context, id string, at time.Time) error

	// List returns profiles for operator tooling.
	List(ctx context.Context, limit, offset int) ([]Profile, error)
}

// -----------------------------------------------------------------------------
// Catalog Store
// -----------------------------------------------------------------------------

// ListingStore persists catalog entries. The metering core only reads;
// Create/Update exist for seeding and operator tooling.
type ListingStore interface {
	// Get retrieves a listing by ID.
	Get(ctx context.Context, id string) (listing.Listing, error)

	// List returns all listings.
	List(ctx context.Context) ([]listing.Listing, error)

	// Create stores a new listing (validated at write time).
	Create(ctx context.Context, l listing.Listing) error

	// Update replaces a listing (validated at write time).
	Update(ctx context.Context, l listing.Listing) error
}

// -----------------------------------------------------------------------------
// Usage Ledger
// -----------------------------------------------------------------------------

// UsageStore persists the append-only usage ledger.
type UsageStore interface {
	// Append writes one immutable record. Records are never updated
	// or deleted afterwards.
	Append(ctx context.Context, r usage.Record) error

	// Recent returns records for a profile, newest first, capped at
	// limit.
	Recent(ctx context.Context, profileID string, limit int) ([]usage.Record, error)

	// Summary aggregates a profile's activity between from and to.
	Summary(ctx context.Context, profileID string, from, to time.Time) (usage.Summary, error)

	// AdmittedSince returns creation times of admitted records for the
	// (profile, api) pair at or after since. Used to seed the rolling
	// window after a restart.
	AdmittedSince(ctx context.Context, profileID, apiID string, since time.Time) ([]time.Time, error)
}

// -----------------------------------------------------------------------------
// Rolling Rate Window
// -----------------------------------------------------------------------------

// RateWindowStore tracks admitted calls per (profile, api) pair inside
// the trailing rate window. Admissions are registered here at decision
// time, before the ledger record exists, so concurrent calls see each
// other.
type RateWindowStore interface {
	// CountSince returns the number of admissions for the pair at or
	// after since.
	CountSince(ctx context.Context, profileID, apiID string, since time.Time) (int, error)

	// Add registers an admission at ts.
	Add(ctx context.Context, profileID, apiID string, ts time.Time) error

	// OldestSince returns the earliest admission for the pair at or
	// after since, and ok=false when the window is empty. Used to tell
	// a rate-limited caller when capacity returns.
	OldestSince(ctx context.Context, profileID, apiID string, since time.Time) (time.Time, bool, error)
}

// -----------------------------------------------------------------------------
// Provider Dispatch
// -----------------------------------------------------------------------------

// ProviderResult is the final word from the provider transport: a status
// and latency pair plus the response envelope body.
type ProviderResult struct {
	StatusCode int
	LatencyMs  int64
	Body       []byte
}

// Provider dispatches an admitted call to the listed API's provider.
// Transport, timeout and retry policy live behind this port; the core
// never blocks pair state on it and only consumes the final result.
type Provider interface {
	Dispatch(ctx context.Context, l listing.Listing, query string, body []byte) (ProviderResult, error)
}
