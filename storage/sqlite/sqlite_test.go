package sqlite

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/ahmed-com/tickclock/storage"
)

var _ storage.Journal = (*Journal)(nil)

var base = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "faults.db"))
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func record(clockID string, n int) *storage.FaultRecord {
	return &storage.FaultRecord{
		ID:         fmt.Sprintf("fault_%s_%d", clockID, n),
		ClockID:    clockID,
		CycleID:    fmt.Sprintf("cycle_%d", n),
		CycleSeq:   int64(n),
		Kind:       "Overrun",
		Coalesced:  n % 2,
		OccurredAt: base.Add(time.Duration(n) * time.Second),
		RecordedAt: base.Add(time.Duration(n) * time.Second),
	}
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open("  "); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestRecordAndGetFault(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	rec := record("game", 3)
	if err := j.RecordFault(ctx, rec); err != nil {
		t.Fatalf("record fault: %v", err)
	}

	got, err := j.GetFault(ctx, rec.ID)
	if err != nil {
		t.Fatalf("get fault: %v", err)
	}
	if got.CycleID != "cycle_3" || got.Kind != "Overrun" || got.Coalesced != 1 {
		t.Fatalf("unexpected record %+v", got)
	}
	if !got.OccurredAt.Equal(rec.OccurredAt) {
		t.Fatalf("occurred_at = %s, want %s", got.OccurredAt, rec.OccurredAt)
	}

	if err := j.RecordFault(ctx, rec); err == nil {
		t.Fatal("expected duplicate fault id to fail")
	}
	if err := j.RecordFault(ctx, &storage.FaultRecord{ID: "fault_x"}); err == nil {
		t.Fatal("expected missing clock id to fail")
	}
	if _, err := j.GetFault(ctx, "fault_missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListFaultsNewestFirst(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	for i := 1; i <= 4; i++ {
		if err := j.RecordFault(ctx, record("game", i)); err != nil {
			t.Fatalf("record fault: %v", err)
		}
	}
	if err := j.RecordFault(ctx, record("menu", 9)); err != nil {
		t.Fatalf("record fault: %v", err)
	}

	records, err := j.ListFaults(ctx, "game", 0)
	if err != nil {
		t.Fatalf("list faults: %v", err)
	}
	if len(records) != 4 {
		t.Fatalf("expected 4 records, got %d", len(records))
	}
	if records[0].CycleSeq != 4 || records[3].CycleSeq != 1 {
		t.Fatalf("records not newest first: %d..%d", records[0].CycleSeq, records[3].CycleSeq)
	}

	limited, err := j.ListFaults(ctx, "game", 1)
	if err != nil {
		t.Fatalf("list faults: %v", err)
	}
	if len(limited) != 1 || limited[0].CycleSeq != 4 {
		t.Fatalf("expected newest record only, got %+v", limited)
	}
}

func TestPruneBefore(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	for i := 1; i <= 4; i++ {
		j.RecordFault(ctx, record("game", i))
	}

	removed, err := j.PruneBefore(ctx, base.Add(3*time.Second))
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if removed != 2 {
		t.Fatalf("removed = %d, want 2", removed)
	}

	left, _ := j.ListFaults(ctx, "game", 0)
	if len(left) != 2 {
		t.Fatalf("expected 2 records left, got %d", len(left))
	}
}

func TestCanceledContext(t *testing.T) {
	j := openTestJournal(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := j.RecordFault(ctx, record("game", 1)); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
