package app

import (
	"context"
	"errors"
	"time"

	"github.com/apimarket/metergate/domain/usage"
	"github.com/apimarket/metergate/ports"
	"github.com/rs/zerolog"
)

// defaultRecentLimit caps RecentCalls when the caller asks for no limit.
const defaultRecentLimit = 50

// CallDetail is one ledger record enriched with catalog fields for
// display. APIName and APIVersion are empty when the listing has since
// been removed; the record itself is the historical fact.
type CallDetail struct {
	usage.Record
	APIName    string
	APIVersion string
}

// DashboardService serves the read side: per-caller call history,
// usage summaries and the current credit balance. It never writes.
type DashboardService struct {
	profiles ports.ProfileStore
	listings ports.ListingStore
	ledger   ports.UsageStore
	logger   zerolog.Logger
}

// DashboardDeps contains the dependencies for DashboardService.
type DashboardDeps struct {
	Profiles ports.ProfileStore
	Listings ports.ListingStore
	Ledger   ports.UsageStore
	Logger   zerolog.Logger
}

// NewDashboardService creates the read-side service.
func NewDashboardService(deps DashboardDeps) *DashboardService {
	return &DashboardService{
		profiles: deps.Profiles,
		listings: deps.Listings,
		ledger:   deps.Ledger,
		logger:   deps.Logger.With().Str("component", "dashboard").Logger(),
	}
}

// RecentCalls returns a caller's ledger records, newest first, joined
// with catalog names. limit <= 0 means the default cap.
func (s *DashboardService) RecentCalls(ctx context.Context, profileID string, limit int) ([]CallDetail, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	records, err := s.ledger.Recent(ctx, profileID, limit)
	if err != nil {
		return nil, err
	}

	// One catalog lookup per distinct api id in the page.
	names := make(map[string][2]string)
	out := make([]CallDetail, 0, len(records))
	for _, r := range records {
		nv, ok := names[r.APIID]
		if !ok {
			l, err := s.listings.Get(ctx, r.APIID)
			switch {
			case err == nil:
				nv = [2]string{l.Name, l.Version}
			case errors.Is(err, ports.ErrNotFound):
				// Listing removed after the fact; keep the record.
			default:
				return nil, err
			}
			names[r.APIID] = nv
		}
		out = append(out, CallDetail{Record: r, APIName: nv[0], APIVersion: nv[1]})
	}
	return out, nil
}

// Summary aggregates a caller's activity between from and to.
func (s *DashboardService) Summary(ctx context.Context, profileID string, from, to time.Time) (usage.Summary, error) {
	return s.ledger.Summary(ctx, profileID, from, to)
}

// Credits returns the caller's current balance.
func (s *DashboardService) Credits(ctx context.Context, profileID string) (int64, error) {
	p, err := s.profiles.Get(ctx, profileID)
	if err != nil {
		return 0, err
	}
	return p.Credits, nil
}
