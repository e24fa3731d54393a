package app_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/apimarket/metergate/adapters/memory"
	"github.com/apimarket/metergate/app"
	"github.com/apimarket/metergate/domain/admission"
	"github.com/apimarket/metergate/domain/listing"
	"github.com/apimarket/metergate/domain/usage"
	"github.com/apimarket/metergate/ports"
	"github.com/rs/zerolog"
)

type dashboardFixture struct {
	profiles *memory.ProfileStore
	listings *memory.ListingStore
	ledger   *memory.UsageStore
	svc      *app.DashboardService
}

func newDashboardFixture() *dashboardFixture {
	f := &dashboardFixture{
		profiles: memory.NewProfileStore(),
		listings: memory.NewListingStore(),
		ledger:   memory.NewUsageStore(),
	}
	f.svc = app.NewDashboardService(app.DashboardDeps{
		Profiles: f.profiles,
		Listings: f.listings,
		Ledger:   f.ledger,
		Logger:   zerolog.Nop(),
	})
	return f
}

func TestDashboard_RecentCallsJoinsCatalog(t *testing.T) {
	ctx := context.Background()
	f := newDashboardFixture()

	f.listings.Create(ctx, listing.Listing{
		ID: "api-1", Name: "Weather API", Version: "v2",
		Status: listing.StatusActive, RateCap: 10, CreditCost: 1,
		Endpoint: listing.EndpointSpec{Method: "GET", Path: "/v2/current"},
	})

	f.ledger.Append(ctx, usage.NewAdmitted("rec-1", "user-1", "api-1", "/v2/current", "GET", 200, 10, 1, baseTime))
	f.ledger.Append(ctx, usage.NewRejection("rec-2", "user-1", "api-gone", "", "", admission.OutcomeAPIUnavailable, baseTime.Add(time.Minute)))
	f.ledger.Append(ctx, usage.NewAdmitted("rec-3", "user-2", "api-1", "/v2/current", "GET", 200, 10, 1, baseTime))

	calls, err := f.svc.RecentCalls(ctx, "user-1", 0)
	if err != nil {
		t.Fatalf("recent calls: %v", err)
	}
	if len(calls) != 2 {
		t.Fatalf("got %d calls, want 2", len(calls))
	}

	// Newest first; the removed listing still shows, just without names.
	if calls[0].ID != "rec-2" || calls[1].ID != "rec-1" {
		t.Errorf("order = %s, %s; want rec-2, rec-1", calls[0].ID, calls[1].ID)
	}
	if calls[0].APIName != "" || calls[0].APIVersion != "" {
		t.Errorf("removed listing got names %q/%q, want empty", calls[0].APIName, calls[0].APIVersion)
	}
	if calls[1].APIName != "Weather API" || calls[1].APIVersion != "v2" {
		t.Errorf("join = %q/%q, want Weather API/v2", calls[1].APIName, calls[1].APIVersion)
	}
}

func TestDashboard_RecentCallsDefaultLimit(t *testing.T) {
	ctx := context.Background()
	f := newDashboardFixture()

	for i := 0; i < 60; i++ {
		f.ledger.Append(ctx, usage.NewAdmitted(
			fmt.Sprintf("rec-%03d", i), "user-1", "api-1", "/v2/current", "GET",
			200, 10, 1, baseTime.Add(time.Duration(i)*time.Second)))
	}

	calls, err := f.svc.RecentCalls(ctx, "user-1", 0)
	if err != nil {
		t.Fatalf("recent calls: %v", err)
	}
	if len(calls) != 50 {
		t.Errorf("got %d calls, want the default cap of 50", len(calls))
	}
	if calls[0].ID != "rec-059" {
		t.Errorf("first = %s, want the newest rec-059", calls[0].ID)
	}
}

func TestDashboard_Summary(t *testing.T) {
	ctx := context.Background()
	f := newDashboardFixture()

	f.ledger.Append(ctx, usage.NewAdmitted("rec-1", "user-1", "api-1", "/v2/current", "GET", 200, 10, 2, baseTime))
	f.ledger.Append(ctx, usage.NewAdmitted("rec-2", "user-1", "api-1", "/v2/current", "GET", 200, 30, 2, baseTime.Add(time.Minute)))
	f.ledger.Append(ctx, usage.NewRejection("rec-3", "user-1", "api-1", "/v2/current", "GET", admission.OutcomeRateLimited, baseTime.Add(2*time.Minute)))
	// Outside the window.
	f.ledger.Append(ctx, usage.NewAdmitted("rec-4", "user-1", "api-1", "/v2/current", "GET", 200, 10, 2, baseTime.Add(2*time.Hour)))

	sum, err := f.svc.Summary(ctx, "user-1", baseTime, baseTime.Add(time.Hour))
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if sum.TotalCalls != 3 {
		t.Errorf("total = %d, want 3", sum.TotalCalls)
	}
	if sum.CreditsSpent != 4 {
		t.Errorf("credits = %d, want 4", sum.CreditsSpent)
	}
	if sum.AvgLatencyMs != 20 {
		t.Errorf("avg latency = %d, want 20", sum.AvgLatencyMs)
	}
	if sum.ByOutcome[admission.OutcomeAdmitted] != 2 || sum.ByOutcome[admission.OutcomeRateLimited] != 1 {
		t.Errorf("by outcome = %v", sum.ByOutcome)
	}
}

func TestDashboard_Credits(t *testing.T) {
	ctx := context.Background()
	f := newDashboardFixture()
	f.profiles.Create(ctx, ports.Profile{ID: "user-1", Credits: 42})

	got, err := f.svc.Credits(ctx, "user-1")
	if err != nil {
		t.Fatalf("credits: %v", err)
	}
	if got != 42 {
		t.Errorf("credits = %d, want 42", got)
	}

	if _, err := f.svc.Credits(ctx, "ghost"); !errors.Is(err, ports.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}
