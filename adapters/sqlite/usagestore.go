package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/apimarket/metergate/domain/admission"
	"github.com/apimarket/metergate/domain/usage"
	"github.com/apimarket/metergate/ports"
)

// UsageStore implements ports.UsageStore using SQLite.
// The table is append-only; no UPDATE or DELETE is ever issued.
type UsageStore struct {
	db *DB
}

// NewUsageStore creates a SQLite-backed usage store.
func NewUsageStore(db *DB) *UsageStore {
	return &UsageStore{db: db}
}

// Append writes one immutable record.
func (s *UsageStore) Append(ctx context.Context, r usage.Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO usage_records (
			id, profile_id, api_id, endpoint, method, outcome,
			status_code, latency_ms, credits_charged, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.ProfileID, r.APIID, r.Endpoint, r.Method, string(r.Outcome),
		r.StatusCode, r.LatencyMs, r.CreditsCharged, r.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("append usage record: %w", err)
	}
	return nil
}

// Recent returns records for a profile, newest first, capped at limit.
func (s *UsageStore) Recent(ctx context.Context, profileID string, limit int) ([]usage.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, profile_id, api_id, endpoint, method, outcome,
		       status_code, latency_ms, credits_charged, created_at
		FROM usage_records
		WHERE profile_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`,
		profileID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("recent usage: %w", err)
	}
	defer rows.Close()

	var records []usage.Record
	for rows.Next() {
		var r usage.Record
		var outcome string
		err := rows.Scan(&r.ID, &r.ProfileID, &r.APIID, &r.Endpoint, &r.Method,
			&outcome, &r.StatusCode, &r.LatencyMs, &r.CreditsCharged, &r.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan usage record: %w", err)
		}
		r.Outcome = admission.Outcome(outcome)
		records = append(records, r)
	}
	return records, rows.Err()
}

// Summary aggregates a profile's activity between from and to.
func (s *UsageStore) Summary(ctx context.Context, profileID string, from, to time.Time) (usage.Summary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT outcome,
		       COUNT(*),
		       COALESCE(SUM(credits_charged), 0),
		       CAST(COALESCE(AVG(CASE WHEN outcome = ? THEN latency_ms END), 0) AS INTEGER)
		FROM usage_records
		WHERE profile_id = ? AND created_at >= ? AND created_at < ?
		GROUP BY outcome`,
		string(admission.OutcomeAdmitted), profileID, from.UTC(), to.UTC(),
	)
	if err != nil {
		return usage.Summary{}, fmt.Errorf("usage summary: %w", err)
	}
	defer rows.Close()

	sum := usage.Summary{
		ProfileID: profileID,
		From:      from,
		To:        to,
		ByOutcome: make(map[admission.Outcome]int64),
	}
	for rows.Next() {
		var outcome string
		var count, credits, avgLatency int64
		if err := rows.Scan(&outcome, &count, &credits, &avgLatency); err != nil {
			return usage.Summary{}, fmt.Errorf("scan summary row: %w", err)
		}
		sum.ByOutcome[admission.Outcome(outcome)] = count
		sum.TotalCalls += count
		sum.CreditsSpent += credits
		if admission.Outcome(outcome) == admission.OutcomeAdmitted {
			sum.AvgLatencyMs = avgLatency
		}
	}
	return sum, rows.Err()
}

// AdmittedSince returns creation times of admitted records for the pair,
// oldest first.
func (s *UsageStore) AdmittedSince(ctx context.Context, profileID, apiID string, since time.Time) ([]time.Time, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT created_at
		FROM usage_records
		WHERE profile_id = ? AND api_id = ? AND outcome = ? AND created_at >= ?
		ORDER BY created_at`,
		profileID, apiID, string(admission.OutcomeAdmitted), since.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("admitted since: %w", err)
	}
	defer rows.Close()

	var times []time.Time
	for rows.Next() {
		var t time.Time
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("scan timestamp: %w", err)
		}
		times = append(times, t)
	}
	return times, rows.Err()
}

var _ ports.UsageStore = (*UsageStore)(nil)
