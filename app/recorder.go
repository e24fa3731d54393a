package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/apimarket/metergate/adapters/metrics"
	"github.com/apimarket/metergate/domain/usage"
	"github.com/apimarket/metergate/ports"
	"github.com/rs/zerolog"
)

// ErrRecordingFailure means a ledger append failed after all retries.
// Credits may already be charged, so the call fails rather than proceed
// unaudited.
var ErrRecordingFailure = errors.New("usage recording failure")

// Recorder appends usage records durably. Appends are synchronous: a
// call does not complete until its record exists. Transient store
// failures are retried with bounded exponential backoff; exhaustion is
// escalated through an error-level log and an alert counter, and the
// call path fails with ErrRecordingFailure.
type Recorder struct {
	store   ports.UsageStore
	logger  zerolog.Logger
	metrics *metrics.Collector

	mu          sync.Mutex // guards the tuning fields, retunable at runtime
	maxAttempts int
	baseBackoff time.Duration
}

// RecorderConfig tunes the retry policy.
type RecorderConfig struct {
	MaxAttempts int           // default 3
	BaseBackoff time.Duration // default 50ms, doubled per retry
}

// NewRecorder creates a durable ledger recorder. The metrics collector
// may be nil.
func NewRecorder(store ports.UsageStore, logger zerolog.Logger, m *metrics.Collector, cfg RecorderConfig) *Recorder {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 50 * time.Millisecond
	}
	return &Recorder{
		store:       store,
		logger:      logger.With().Str("component", "recorder").Logger(),
		metrics:     m,
		maxAttempts: cfg.MaxAttempts,
		baseBackoff: cfg.BaseBackoff,
	}
}

// Retune replaces the retry policy. Safe to call while records are in
// flight; calls already retrying keep their old policy.
func (r *Recorder) Retune(cfg RecorderConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cfg.MaxAttempts > 0 {
		r.maxAttempts = cfg.MaxAttempts
	}
	if cfg.BaseBackoff > 0 {
		r.baseBackoff = cfg.BaseBackoff
	}
}

func (r *Recorder) tuning() (int, time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.maxAttempts, r.baseBackoff
}

// Record appends exactly one record, retrying transient failures.
func (r *Recorder) Record(ctx context.Context, rec usage.Record) error {
	var lastErr error
	maxAttempts, backoff := r.tuning()

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = r.store.Append(ctx, rec)
		if lastErr == nil {
			return nil
		}
		if attempt == maxAttempts {
			break
		}
		if r.metrics != nil {
			r.metrics.RecordRetries.Inc()
		}
		r.logger.Warn().Err(lastErr).Str("record_id", rec.ID).Int("attempt", attempt).
			Msg("ledger append failed, retrying")

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrRecordingFailure, ctx.Err())
		}
		backoff *= 2
	}

	if r.metrics != nil {
		r.metrics.RecordFailures.Inc()
	}
	r.logger.Error().Err(lastErr).
		Str("record_id", rec.ID).
		Str("profile_id", rec.ProfileID).
		Str("api_id", rec.APIID).
		Int64("credits_charged", rec.CreditsCharged).
		Msg("ledger append failed after all retries; charged call is unaudited")

	return fmt.Errorf("%w: %v", ErrRecordingFailure, lastErr)
}
