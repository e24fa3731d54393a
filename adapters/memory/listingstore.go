package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/apimarket/metergate/domain/listing"
	"github.com/apimarket/metergate/ports"
)

// ListingStore is an in-memory implementation of ports.ListingStore.
type ListingStore struct {
	mu       sync.RWMutex
	listings map[string]listing.Listing
}

// NewListingStore creates an empty in-memory listing store.
func NewListingStore() *ListingStore {
	return &ListingStore{listings: make(map[string]listing.Listing)}
}

// Get retrieves a listing by ID.
func (s *ListingStore) Get(ctx context.Context, id string) (listing.Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.listings[id]
	if !ok {
		return listing.Listing{}, ports.ErrNotFound
	}
	return l, nil
}

// List returns all listings ordered by name.
func (s *ListingStore) List(ctx context.Context) ([]listing.Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]listing.Listing, 0, len(s.listings))
	for _, l := range s.listings {
		all = append(all, l)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })
	return all, nil
}

// Create stores a new listing after validating it.
func (s *ListingStore) Create(ctx context.Context, l listing.Listing) error {
	if err := l.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listings[l.ID] = l
	return nil
}

// Update replaces a listing after validating it.
func (s *ListingStore) Update(ctx context.Context, l listing.Listing) error {
	if err := l.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.listings[l.ID]; !ok {
		return ports.ErrNotFound
	}
	s.listings[l.ID] = l
	return nil
}

var _ ports.ListingStore = (*ListingStore)(nil)
