// Package redis provides a Redis-backed rolling rate window, for
// deployments where several gateway instances meter the same callers.
package redis

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/apimarket/metergate/ports"
	"github.com/redis/go-redis/v9"
)

// RateWindow implements ports.RateWindowStore on a Redis sorted set per
// (profile, api) pair. Member scores are admission times in unix
// nanoseconds; counting first trims members older than the cutoff, so
// the set always reflects the trailing window.
type RateWindow struct {
	client *redis.Client
	ttl    time.Duration
	seq    atomic.Uint64 // disambiguates members added in the same nanosecond
}

// NewRateWindow connects to Redis and verifies the connection.
func NewRateWindow(addr string, windowTTL time.Duration) (*RateWindow, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	if windowTTL <= 0 {
		windowTTL = 2 * time.Hour
	}
	return &RateWindow{client: client, ttl: windowTTL}, nil
}

// Close releases the Redis connection.
func (s *RateWindow) Close() error {
	return s.client.Close()
}

func (s *RateWindow) key(profileID, apiID string) string {
	return "ratewindow:" + profileID + ":" + apiID
}

// CountSince trims the set to the window and returns its cardinality.
func (s *RateWindow) CountSince(ctx context.Context, profileID, apiID string, since time.Time) (int, error) {
	key := s.key(profileID, apiID)
	cutoff := strconv.FormatInt(since.UnixNano(), 10)

	pipe := s.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", "("+cutoff)
	card := pipe.ZCard(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("count rate window: %w", err)
	}
	return int(card.Val()), nil
}

// Add registers an admission at ts.
func (s *RateWindow) Add(ctx context.Context, profileID, apiID string, ts time.Time) error {
	key := s.key(profileID, apiID)
	nanos := ts.UnixNano()

	pipe := s.client.Pipeline()
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(nanos),
		Member: strconv.FormatInt(nanos, 10) + ":" + strconv.FormatUint(s.seq.Add(1), 10),
	})
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("add to rate window: %w", err)
	}
	return nil
}

// OldestSince returns the earliest admission still inside the window.
func (s *RateWindow) OldestSince(ctx context.Context, profileID, apiID string, since time.Time) (time.Time, bool, error) {
	key := s.key(profileID, apiID)
	cutoff := strconv.FormatInt(since.UnixNano(), 10)

	members, err := s.client.ZRangeByScoreWithScores(ctx, key, &redis.ZRangeBy{
		Min: cutoff, Max: "+inf", Count: 1,
	}).Result()
	if err != nil {
		return time.Time{}, false, fmt.Errorf("oldest in rate window: %w", err)
	}
	if len(members) == 0 {
		return time.Time{}, false, nil
	}
	return time.Unix(0, int64(members[0].Score)), true, nil
}

var _ ports.RateWindowStore = (*RateWindow)(nil)
