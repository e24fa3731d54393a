package usage_test

import (
	"testing"
	"time"

	"github.com/apimarket/metergate/domain/admission"
	"github.com/apimarket/metergate/domain/usage"
)

var baseTime = time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)

func TestNewRejection(t *testing.T) {
	r := usage.NewRejection("rec-1", "user-1", "api-1", "/v2/current", "GET",
		admission.OutcomeRateLimited, baseTime)

	if r.CreditsCharged != 0 {
		t.Errorf("rejection charged %d credits, want 0", r.CreditsCharged)
	}
	if r.StatusCode != 429 {
		t.Errorf("status = %d, want 429", r.StatusCode)
	}
	if r.LatencyMs != 0 {
		t.Errorf("latency = %d, want 0 for a call that never dispatched", r.LatencyMs)
	}
}

func TestNewAdmitted(t *testing.T) {
	r := usage.NewAdmitted("rec-1", "user-1", "api-1", "/v2/current", "GET",
		200, 42, 3, baseTime)

	if r.Outcome != admission.OutcomeAdmitted {
		t.Errorf("outcome = %s", r.Outcome)
	}
	if r.CreditsCharged != 3 || r.LatencyMs != 42 || r.StatusCode != 200 {
		t.Errorf("record = %+v", r)
	}
	if !r.CreatedAt.Equal(baseTime) {
		t.Errorf("created at = %v", r.CreatedAt)
	}
}

func TestAggregate(t *testing.T) {
	records := []usage.Record{
		usage.NewAdmitted("r1", "user-1", "api-1", "/a", "GET", 200, 10, 2, baseTime),
		usage.NewAdmitted("r2", "user-1", "api-1", "/a", "GET", 200, 30, 2, baseTime.Add(time.Minute)),
		usage.NewRejection("r3", "user-1", "api-1", "/a", "GET", admission.OutcomeRateLimited, baseTime.Add(2*time.Minute)),
		usage.NewRejection("r4", "user-1", "api-2", "/b", "GET", admission.OutcomeInsufficientCredits, baseTime.Add(3*time.Minute)),
	}

	sum := usage.Aggregate(records, "user-1", baseTime, baseTime.Add(time.Hour))

	if sum.TotalCalls != 4 {
		t.Errorf("total = %d, want 4", sum.TotalCalls)
	}
	if sum.CreditsSpent != 4 {
		t.Errorf("credits = %d, want 4 (rejections charge nothing)", sum.CreditsSpent)
	}
	if sum.AvgLatencyMs != 20 {
		t.Errorf("avg latency = %d, want 20 over admitted only", sum.AvgLatencyMs)
	}
	if sum.ByOutcome[admission.OutcomeAdmitted] != 2 ||
		sum.ByOutcome[admission.OutcomeRateLimited] != 1 ||
		sum.ByOutcome[admission.OutcomeInsufficientCredits] != 1 {
		t.Errorf("by outcome = %v", sum.ByOutcome)
	}
}

func TestAggregate_Empty(t *testing.T) {
	sum := usage.Aggregate(nil, "user-1", baseTime, baseTime.Add(time.Hour))
	if sum.TotalCalls != 0 || sum.CreditsSpent != 0 || sum.AvgLatencyMs != 0 {
		t.Errorf("empty summary = %+v", sum)
	}
	if sum.ByOutcome == nil {
		t.Error("ByOutcome is nil, want empty map")
	}
}

func TestSortNewestFirst(t *testing.T) {
	records := []usage.Record{
		{ID: "a", CreatedAt: baseTime},
		{ID: "c", CreatedAt: baseTime.Add(2 * time.Minute)},
		{ID: "b", CreatedAt: baseTime.Add(time.Minute)},
		{ID: "d", CreatedAt: baseTime.Add(time.Minute)}, // tie with b
	}

	sorted := usage.SortNewestFirst(records)

	want := []string{"c", "d", "b", "a"}
	for i, id := range want {
		if sorted[i].ID != id {
			t.Fatalf("sorted[%d] = %s, want %s", i, sorted[i].ID, id)
		}
	}

	// The input slice is untouched.
	if records[0].ID != "a" {
		t.Error("input slice was reordered")
	}
}

func TestTruncate(t *testing.T) {
	records := []usage.Record{{ID: "a"}, {ID: "b"}, {ID: "c"}}

	if got := usage.Truncate(records, 2); len(got) != 2 {
		t.Errorf("len = %d, want 2", len(got))
	}
	if got := usage.Truncate(records, 0); len(got) != 3 {
		t.Errorf("len = %d, want all for limit 0", len(got))
	}
	if got := usage.Truncate(records, 10); len(got) != 3 {
		t.Errorf("len = %d, want 3", len(got))
	}
}
