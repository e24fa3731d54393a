// Package credential provides API key value types and pure validation
// functions. This package has NO dependencies on I/O or external stores.
package credential

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// DefaultPrefix is the marker every marketplace key starts with.
const DefaultPrefix = "mk_"

// LookupLen is the number of leading characters stored in clear for
// candidate lookup. The remainder of the key is only ever compared
// through its bcrypt hash.
const LookupLen = 12

// Credential is the stored form of an API key (immutable value type).
// The raw key is shown to the caller exactly once, at issue time.
type Credential struct {
	Prefix    string     // first LookupLen chars of the raw key
	Hash      []byte     // bcrypt hash of the full raw key
	IssuedAt  time.Time
	RevokedAt *time.Time // nil = not revoked
}

// Generate creates a new API key: marker + 64 hex chars.
// Returns the raw key (to hand to the caller) and the Credential to store.
func Generate(marker string, now time.Time) (rawKey string, c Credential, err error) {
	if marker == "" {
		marker = DefaultPrefix
	}

	randomBytes := make([]byte, 32)
	if _, err = rand.Read(randomBytes); err != nil {
		return "", Credential{}, fmt.Errorf("generate key: %w", err)
	}
	rawKey = marker + hex.EncodeToString(randomBytes)

	hash, err := bcrypt.GenerateFromPassword([]byte(rawKey), bcrypt.DefaultCost)
	if err != nil {
		return "", Credential{}, fmt.Errorf("hash key: %w", err)
	}

	c = Credential{
		Prefix:   rawKey[:LookupLen],
		Hash:     hash,
		IssuedAt: now.UTC(),
	}
	return rawKey, c, nil
}

// LookupPrefix extracts the lookup prefix from a presented raw key.
// Returns ok=false if the key cannot possibly match any stored credential.
// This is a PURE function and performs no secret comparison: the actual
// match goes through bcrypt, whose cost does not depend on how much of
// the key agrees with the stored one.
func LookupPrefix(rawKey, marker string) (prefix string, ok bool) {
	if marker == "" {
		marker = DefaultPrefix
	}
	if !strings.HasPrefix(rawKey, marker) {
		return "", false
	}
	if len(rawKey) < len(marker)+64 {
		return "", false
	}
	return rawKey[:LookupLen], true
}

// Match reports whether the presented raw key is the one this credential
// was issued for. Comparison is by bcrypt, never by substring.
func (c Credential) Match(rawKey string) bool {
	return bcrypt.CompareHashAndPassword(c.Hash, []byte(rawKey)) == nil
}

// Active reports whether the credential is usable at the given time.
// Revocation takes effect on the next call; there is no grace period.
func (c Credential) Active(now time.Time) bool {
	return c.RevokedAt == nil || now.Before(*c.RevokedAt)
}
