package memory

import (
	"context"
	"sync"
	"time"

	"github.com/apimarket/metergate/domain/admission"
	"github.com/apimarket/metergate/domain/usage"
	"github.com/apimarket/metergate/ports"
)

// UsageStore is an in-memory implementation of ports.UsageStore.
type UsageStore struct {
	mu      sync.RWMutex
	records []usage.Record

	// FailAppends makes Append return failErr while > 0, counting down
	// per attempt. Used to test the recorder's retry path.
	failAppends int
	failErr     error
}

// NewUsageStore creates an empty in-memory usage store.
func NewUsageStore() *UsageStore {
	return &UsageStore{}
}

// FailNextAppends arranges for the next n Append calls to fail with err.
func (s *UsageStore) FailNextAppends(n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failAppends = n
	s.failErr = err
}

// Append writes one immutable record.
func (s *UsageStore) Append(ctx context.Context, r usage.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failAppends > 0 {
		s.failAppends--
		return s.failErr
	}
	s.records = append(s.records, r)
	return nil
}

// Recent returns records for a profile, newest first, capped at limit.
func (s *UsageStore) Recent(ctx context.Context, profileID string, limit int) ([]usage.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matching []usage.Record
	for _, r := range s.records {
		if r.ProfileID == profileID {
			matching = append(matching, r)
		}
	}
	return usage.Truncate(usage.SortNewestFirst(matching), limit), nil
}

// Summary aggregates a profile's activity between from and to.
func (s *UsageStore) Summary(ctx context.Context, profileID string, from, to time.Time) (usage.Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matching []usage.Record
	for _, r := range s.records {
		if r.ProfileID == profileID && !r.CreatedAt.Before(from) && r.CreatedAt.Before(to) {
			matching = append(matching, r)
		}
	}
	return usage.Aggregate(matching, profileID, from, to), nil
}

// AdmittedSince returns creation times of admitted records for the pair.
func (s *UsageStore) AdmittedSince(ctx context.Context, profileID, apiID string, since time.Time) ([]time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var times []time.Time
	for _, r := range s.records {
		if r.ProfileID == profileID && r.APIID == apiID &&
			r.Outcome == admission.OutcomeAdmitted && !r.CreatedAt.Before(since) {
			times = append(times, r.CreatedAt)
		}
	}
	return times, nil
}

// All returns a copy of every record (for tests).
func (s *UsageStore) All() []usage.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]usage.Record{}, s.records...)
}

var _ ports.UsageStore = (*UsageStore)(nil)
