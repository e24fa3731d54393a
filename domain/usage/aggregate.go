package usage

import (
	"sort"
	"time"

	"github.com/apimarket/metergate/domain/admission"
)

// Summary is aggregated ledger activity for one caller over a window
// (value type).
type Summary struct {
	ProfileID    string
	From         time.Time
	To           time.Time
	TotalCalls   int64
	CreditsSpent int64
	AvgLatencyMs int64 // over admitted calls only
	ByOutcome    map[admission.Outcome]int64
}

// Aggregate combines records into a summary.
// This is a PURE function.
func Aggregate(records []Record, profileID string, from, to time.Time) Summary {
	s := Summary{
		ProfileID: profileID,
		From:      from,
		To:        to,
		ByOutcome: make(map[admission.Outcome]int64),
	}

	var admittedLatency, admittedCount int64
	for _, r := range records {
		s.TotalCalls++
		s.CreditsSpent += r.CreditsCharged
		s.ByOutcome[r.Outcome]++
		if r.Outcome == admission.OutcomeAdmitted {
			admittedLatency += r.LatencyMs
			admittedCount++
		}
	}
	if admittedCount > 0 {
		s.AvgLatencyMs = admittedLatency / admittedCount
	}
	return s
}

// SortNewestFirst orders records by creation time descending, ties broken
// by ID so the order is stable. This is a PURE function (sorts a copy).
func SortNewestFirst(records []Record) []Record {
	out := make([]Record, len(records))
	copy(out, records)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

// Truncate caps a newest-first slice at limit.
func Truncate(records []Record, limit int) []Record {
	if limit > 0 && len(records) > limit {
		return records[:limit]
	}
	return records
}
