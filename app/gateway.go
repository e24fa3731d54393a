// Package app provides application services that orchestrate the pure
// domain decisions with I/O against the injected stores.
package app

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"github.com/apimarket/metergate/adapters/metrics"
	"github.com/apimarket/metergate/domain/admission"
	"github.com/apimarket/metergate/domain/credential"
	"github.com/apimarket/metergate/domain/listing"
	"github.com/apimarket/metergate/domain/usage"
	"github.com/apimarket/metergate/ports"
	"github.com/rs/zerolog"
)

// ErrUnauthorized is returned for bad, unknown or revoked credentials.
// It is deliberately never more specific: distinguishing "no such key"
// from "revoked key" would let a caller enumerate keys.
var ErrUnauthorized = errors.New("unauthorized")

// pairLockCount is the number of striped locks serializing admission
// per (profile, api) pair. Unrelated pairs land on different stripes
// and proceed in parallel.
const pairLockCount = 64

// GatewayService runs the invocation pipeline: authenticate, admit,
// dispatch, record.
type GatewayService struct {
	profiles ports.ProfileStore
	listings ports.ListingStore
	window   ports.RateWindowStore
	provider ports.Provider
	recorder *Recorder
	clock    ports.Clock
	idGen    ports.IDGenerator
	logger   zerolog.Logger
	metrics  *metrics.Collector

	keyMarker string
	pairLocks [pairLockCount]sync.Mutex
}

// GatewayDeps contains the dependencies for GatewayService.
type GatewayDeps struct {
	Profiles ports.ProfileStore
	Listings ports.ListingStore
	Window   ports.RateWindowStore
	Provider ports.Provider
	Recorder *Recorder
	Clock    ports.Clock
	IDGen    ports.IDGenerator
	Logger   zerolog.Logger
	Metrics  *metrics.Collector // optional
}

// GatewayConfig contains static configuration for GatewayService.
type GatewayConfig struct {
	KeyMarker string // leading marker of issued keys, default "mk_"
}

// NewGatewayService creates the invocation pipeline service.
func NewGatewayService(deps GatewayDeps, cfg GatewayConfig) *GatewayService {
	marker := cfg.KeyMarker
	if marker == "" {
		marker = credential.DefaultPrefix
	}
	return &GatewayService{
		profiles:  deps.Profiles,
		listings:  deps.Listings,
		window:    deps.Window,
		provider:  deps.Provider,
		recorder:  deps.Recorder,
		clock:     deps.Clock,
		idGen:     deps.IDGen,
		logger:    deps.Logger.With().Str("component", "gateway").Logger(),
		metrics:   deps.Metrics,
		keyMarker: marker,
	}
}

// Authenticate resolves a presented credential to a caller profile.
// Returns ErrUnauthorized for anything that does not resolve to exactly
// one active key. Nothing is cached: a key revoked between two calls
// fails on the second.
func (s *GatewayService) Authenticate(ctx context.Context, rawKey string) (ports.Profile, error) {
	prefix, ok := credential.LookupPrefix(rawKey, s.keyMarker)
	if !ok {
		return ports.Profile{}, ErrUnauthorized
	}

	candidates, err := s.profiles.GetByKeyPrefix(ctx, prefix)
	if err != nil {
		return ports.Profile{}, err
	}
	now := s.clock.Now()
	for _, p := range candidates {
		if p.Key.Match(rawKey) {
			if !p.Key.Active(now) {
				return ports.Profile{}, ErrUnauthorized
			}
			return p, nil
		}
	}
	return ports.Profile{}, ErrUnauthorized
}

// InvokeResult is the terminal state of one invocation attempt.
type InvokeResult struct {
	Outcome    admission.Outcome
	StatusCode int           // provider status when admitted, gateway status otherwise
	Body       []byte        // provider envelope, nil on rejection
	Profile    ports.Profile // resolved caller
	Remaining  int           // rate-window slots left (admitted only)
	RetryAfter time.Duration // when capacity returns (rate-limited only)
}

// Invoke runs the full pipeline for one call.
// The caller has already been authenticated; every path from here on
// produces exactly one ledger record.
func (s *GatewayService) Invoke(ctx context.Context, profile ports.Profile, apiID, query string, body []byte) (InvokeResult, error) {
	l, err := s.listings.Get(ctx, apiID)
	if err != nil && !errors.Is(err, ports.ErrNotFound) {
		return InvokeResult{}, err
	}
	// A missing listing and a non-active one reject identically; the
	// record still references the requested api id.
	if errors.Is(err, ports.ErrNotFound) {
		l = listing.Listing{ID: apiID}
	}

	dec, retryAfter, err := s.admit(ctx, profile, l)
	if err != nil {
		return InvokeResult{}, err
	}

	now := s.clock.Now()
	if dec.Outcome.Rejected() {
		rec := usage.NewRejection(s.idGen.New(), profile.ID, l.ID,
			l.Endpoint.Path, l.Endpoint.Method, dec.Outcome, now)
		if err := s.recorder.Record(ctx, rec); err != nil {
			return InvokeResult{}, err
		}
		return InvokeResult{
			Outcome:    dec.Outcome,
			StatusCode: dec.Outcome.StatusCode(),
			Profile:    profile,
			RetryAfter: retryAfter,
		}, nil
	}

	profile.Credits -= dec.ChargedCredits

	// Dispatch outside any pair state; the charge is already final.
	res, err := s.provider.Dispatch(ctx, l, query, body)
	if err != nil {
		s.logger.Warn().Err(err).Str("api_id", l.ID).Msg("provider dispatch failed")
		res = ports.ProviderResult{StatusCode: 502}
	}

	rec := usage.NewAdmitted(s.idGen.New(), profile.ID, l.ID,
		l.Endpoint.Path, l.Endpoint.Method,
		res.StatusCode, res.LatencyMs, dec.ChargedCredits, s.clock.Now())
	if err := s.recorder.Record(ctx, rec); err != nil {
		// The charge stands and the dispatch may have happened; losing
		// the record silently is the one thing we must not do.
		return InvokeResult{}, err
	}

	return InvokeResult{
		Outcome:    admission.OutcomeAdmitted,
		StatusCode: res.StatusCode,
		Body:       res.Body,
		Profile:    profile,
		Remaining:  dec.Remaining,
	}, nil
}

// admit runs the admission sequence atomically for the (profile, api)
// pair: rolling-window count, then the conditional credit debit. The
// stripe lock makes concurrent admissions for the same pair see each
// other's window entries; the debit is additionally a single
// conditional store update, so the balance cannot go negative even
// without the lock.
func (s *GatewayService) admit(ctx context.Context, profile ports.Profile, l listing.Listing) (admission.Decision, time.Duration, error) {
	if !l.Invocable() {
		return admission.Decision{Outcome: admission.OutcomeAPIUnavailable}, 0, nil
	}

	lock := &s.pairLocks[pairStripe(profile.ID, l.ID)]
	lock.Lock()
	defer lock.Unlock()

	now := s.clock.Now()
	since := admission.WindowStart(now)

	count, err := s.window.CountSince(ctx, profile.ID, l.ID, since)
	if err != nil {
		return admission.Decision{}, 0, err
	}

	dec := admission.Decide(admission.Input{
		ListingActive: true,
		RateCap:       l.RateCap,
		CreditCost:    l.CreditCost,
		Balance:       profile.Credits,
		RecentCalls:   count,
	})

	switch dec.Outcome {
	case admission.OutcomeRateLimited:
		return dec, s.retryAfter(ctx, profile.ID, l.ID, since, now), nil

	case admission.OutcomeAdmitted:
		// The snapshot balance passed; the store's conditional debit is
		// the authority and may still refuse against a fresher balance.
		if _, err := s.profiles.DebitCredits(ctx, profile.ID, l.CreditCost); err != nil {
			if errors.Is(err, ports.ErrInsufficientCredits) {
				return admission.Decision{Outcome: admission.OutcomeInsufficientCredits}, 0, nil
			}
			return admission.Decision{}, 0, err
		}
		if s.metrics != nil {
			s.metrics.CreditsCharged.WithLabelValues(l.ID).Add(float64(l.CreditCost))
		}
		if err := s.window.Add(ctx, profile.ID, l.ID, now); err != nil {
			// The charge already happened; log loudly rather than fail
			// the call over a lost window entry.
			s.logger.Error().Err(err).Str("profile_id", profile.ID).Str("api_id", l.ID).
				Msg("failed to register admission in rate window")
		}
		return dec, 0, nil

	default:
		return dec, 0, nil
	}
}

// retryAfter estimates when the oldest window entry rolls out.
func (s *GatewayService) retryAfter(ctx context.Context, profileID, apiID string, since, now time.Time) time.Duration {
	oldest, ok, err := s.window.OldestSince(ctx, profileID, apiID, since)
	if err != nil || !ok {
		return admission.Window
	}
	d := oldest.Add(admission.Window).Sub(now)
	if d < time.Second {
		d = time.Second
	}
	return d
}

func pairStripe(profileID, apiID string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(profileID))
	h.Write([]byte{0})
	h.Write([]byte(apiID))
	return h.Sum32() % pairLockCount
}
