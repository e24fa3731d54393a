package memory

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/apimarket/metergate/ports"
)

// windowShard is one shard of the rate window store.
type windowShard struct {
	mu    sync.Mutex
	pairs map[string][]time.Time // admission timestamps, oldest first
}

// RateWindow is a sharded in-memory implementation of
// ports.RateWindowStore. Sharding keeps unrelated (profile, api) pairs
// from contending on one lock.
//
// When constructed with a usage store, a pair's window is seeded from
// the ledger's trailing hour on first touch, so a restart does not
// forget recent admissions.
type RateWindow struct {
	shards    []*windowShard
	numShards int
	ledger    ports.UsageStore // optional seed source
	seeded    sync.Map         // pair key -> struct{}
}

// RateWindowConfig configures the store.
type RateWindowConfig struct {
	NumShards int              // default 32
	Ledger    ports.UsageStore // optional: seed windows from ledger history
}

// NewRateWindow creates a sharded in-memory rate window store.
func NewRateWindow(cfg RateWindowConfig) *RateWindow {
	if cfg.NumShards <= 0 {
		cfg.NumShards = 32
	}
	s := &RateWindow{
		shards:    make([]*windowShard, cfg.NumShards),
		numShards: cfg.NumShards,
		ledger:    cfg.Ledger,
	}
	for i := range s.shards {
		s.shards[i] = &windowShard{pairs: make(map[string][]time.Time)}
	}
	return s
}

func pairKey(profileID, apiID string) string {
	return profileID + "\x00" + apiID
}

func (s *RateWindow) shard(key string) *windowShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return s.shards[h.Sum32()%uint32(s.numShards)]
}

// CountSince returns the number of admissions for the pair at or after
// since, pruning entries that have rolled out of every plausible window.
func (s *RateWindow) CountSince(ctx context.Context, profileID, apiID string, since time.Time) (int, error) {
	key := pairKey(profileID, apiID)
	if err := s.seed(ctx, key, profileID, apiID, since); err != nil {
		return 0, err
	}

	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	times := sh.pairs[key]
	// Drop entries older than the cutoff; timestamps are appended in
	// arrival order so the slice stays sorted.
	i := 0
	for i < len(times) && times[i].Before(since) {
		i++
	}
	if i > 0 {
		times = append([]time.Time{}, times[i:]...)
		sh.pairs[key] = times
	}
	return len(times), nil
}

// Add registers an admission at ts.
func (s *RateWindow) Add(ctx context.Context, profileID, apiID string, ts time.Time) error {
	key := pairKey(profileID, apiID)
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sh.pairs[key] = append(sh.pairs[key], ts)
	return nil
}

// OldestSince returns the earliest admission still inside the window.
func (s *RateWindow) OldestSince(ctx context.Context, profileID, apiID string, since time.Time) (time.Time, bool, error) {
	key := pairKey(profileID, apiID)
	if err := s.seed(ctx, key, profileID, apiID, since); err != nil {
		return time.Time{}, false, err
	}

	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	for _, t := range sh.pairs[key] {
		if !t.Before(since) {
			return t, true, nil
		}
	}
	return time.Time{}, false, nil
}

// seed loads a pair's window from the ledger the first time it is seen.
func (s *RateWindow) seed(ctx context.Context, key, profileID, apiID string, since time.Time) error {
	if s.ledger == nil {
		return nil
	}
	if _, done := s.seeded.LoadOrStore(key, struct{}{}); done {
		return nil
	}
	times, err := s.ledger.AdmittedSince(ctx, profileID, apiID, since)
	if err != nil {
		// Undo the marker so the next call retries the seed.
		s.seeded.Delete(key)
		return err
	}
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sh.pairs[key] = append(times, sh.pairs[key]...)
	return nil
}

var _ ports.RateWindowStore = (*RateWindow)(nil)
