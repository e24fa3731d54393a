package app_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/apimarket/metergate/adapters/memory"
	"github.com/apimarket/metergate/app"
	"github.com/apimarket/metergate/domain/admission"
	"github.com/apimarket/metergate/domain/usage"
	"github.com/rs/zerolog"
)

func testRecord(id string) usage.Record {
	return usage.NewAdmitted(id, "user-1", "api-1", "/v2/current", "GET", 200, 10, 2, baseTime)
}

func TestRecorder_AppendsOnFirstTry(t *testing.T) {
	store := memory.NewUsageStore()
	rec := app.NewRecorder(store, zerolog.Nop(), nil, app.RecorderConfig{BaseBackoff: time.Millisecond})

	if err := rec.Record(context.Background(), testRecord("rec-1")); err != nil {
		t.Fatalf("record: %v", err)
	}
	if got := len(store.All()); got != 1 {
		t.Errorf("store has %d records, want 1", got)
	}
}

func TestRecorder_RetriesTransientFailure(t *testing.T) {
	store := memory.NewUsageStore()
	store.FailNextAppends(2, errors.New("locked"))
	rec := app.NewRecorder(store, zerolog.Nop(), nil, app.RecorderConfig{MaxAttempts: 3, BaseBackoff: time.Millisecond})

	if err := rec.Record(context.Background(), testRecord("rec-1")); err != nil {
		t.Fatalf("record: %v", err)
	}
	all := store.All()
	if len(all) != 1 {
		t.Fatalf("store has %d records, want 1", len(all))
	}
	if all[0].Outcome != admission.OutcomeAdmitted {
		t.Errorf("outcome = %s, want admitted", all[0].Outcome)
	}
}

func TestRecorder_ExhaustionReturnsSentinel(t *testing.T) {
	store := memory.NewUsageStore()
	store.FailNextAppends(3, errors.New("disk full"))
	rec := app.NewRecorder(store, zerolog.Nop(), nil, app.RecorderConfig{MaxAttempts: 3, BaseBackoff: time.Millisecond})

	err := rec.Record(context.Background(), testRecord("rec-1"))
	if !errors.Is(err, app.ErrRecordingFailure) {
		t.Fatalf("err = %v, want ErrRecordingFailure", err)
	}
	if got := len(store.All()); got != 0 {
		t.Errorf("store has %d records, want 0", got)
	}
}

func TestRecorder_CancelledContextStopsRetrying(t *testing.T) {
	store := memory.NewUsageStore()
	store.FailNextAppends(10, errors.New("locked"))
	rec := app.NewRecorder(store, zerolog.Nop(), nil, app.RecorderConfig{MaxAttempts: 5, BaseBackoff: time.Minute})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := rec.Record(ctx, testRecord("rec-1"))
	if !errors.Is(err, app.ErrRecordingFailure) {
		t.Fatalf("err = %v, want ErrRecordingFailure", err)
	}
}
