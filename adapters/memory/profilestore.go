// Package memory provides in-memory implementations of the storage
// ports, used in tests and in single-process dev mode.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/apimarket/metergate/domain/credential"
	"github.com/apimarket/metergate/ports"
)

// ProfileStore is an in-memory implementation of ports.ProfileStore.
type ProfileStore struct {
	mu       sync.RWMutex
	profiles map[string]ports.Profile // by ID
}

// NewProfileStore creates an empty in-memory profile store.
func NewProfileStore() *ProfileStore {
	return &ProfileStore{profiles: make(map[string]ports.Profile)}
}

// Get retrieves a profile by ID.
func (s *ProfileStore) Get(ctx context.Context, id string) (ports.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[id]
	if !ok {
		return ports.Profile{}, ports.ErrNotFound
	}
	return p, nil
}

// GetByKeyPrefix retrieves profiles whose key carries the lookup prefix.
func (s *ProfileStore) GetByKeyPrefix(ctx context.Context, prefix string) ([]ports.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []ports.Profile
	for _, p := range s.profiles {
		if p.Key.Prefix == prefix {
			result = append(result, p)
		}
	}
	return result, nil
}

// Create stores a new profile.
func (s *ProfileStore) Create(ctx context.Context, p ports.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.profiles[p.ID] = p
	return nil
}

// DebitCredits subtracts amount only if the balance covers it. The whole
// check-and-subtract runs under the store lock, mirroring the single
// conditional UPDATE the SQL stores use.
func (s *ProfileStore) DebitCredits(ctx context.Context, id string, amount int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[id]
	if !ok {
		return 0, ports.ErrNotFound
	}
	if p.Credits < amount {
		return p.Credits, ports.ErrInsufficientCredits
	}
	p.Credits -= amount
	p.UpdatedAt = time.Now().UTC()
	s.profiles[id] = p
	return p.Credits, nil
}

// AddCredits adds amount to the balance.
func (s *ProfileStore) AddCredits(ctx context.Context, id string, amount int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[id]
	if !ok {
		return 0, ports.ErrNotFound
	}
	p.Credits += amount
	p.UpdatedAt = time.Now().UTC()
	s.profiles[id] = p
	return p.Credits, nil
}

// SetKey replaces the profile's credential.
func (s *ProfileStore) SetKey(ctx context.Context, id string, c credential.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[id]
	if !ok {
		return ports.ErrNotFound
	}
	p.Key = c
	p.UpdatedAt = time.Now().UTC()
	s.profiles[id] = p
	return nil
}

// RevokeKey stamps the current credential revoked.
func (s *ProfileStore) RevokeKey(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[id]
	if !ok {
		return ports.ErrNotFound
	}
	p.Key.RevokedAt = &at
	p.UpdatedAt = time.Now().UTC()
	s.profiles[id] = p
	return nil
}

// List returns profiles ordered by ID.
func (s *ProfileStore) List(ctx context.Context, limit, offset int) ([]ports.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]ports.Profile, 0, len(s.profiles))
	for _, p := range s.profiles {
		all = append(all, p)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })

	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

var _ ports.ProfileStore = (*ProfileStore)(nil)
