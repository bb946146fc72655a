package badger

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/ahmed-com/tickclock/storage"
)

var _ storage.Journal = (*Journal)(nil)

var base = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

func newTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := NewJournal("")
	if err != nil {
		t.Fatalf("Failed to open journal: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func record(clockID string, n int) *storage.FaultRecord {
	return &storage.FaultRecord{
		ID:         fmt.Sprintf("fault_%s_%d", clockID, n),
		ClockID:    clockID,
		CycleSeq:   int64(n),
		Kind:       "Listener",
		Message:    "listener failed",
		OccurredAt: base.Add(time.Duration(n) * time.Second),
		RecordedAt: base.Add(time.Duration(n) * time.Second),
	}
}

func TestJournalRecordAndGet(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	rec := record("game", 1)
	if err := j.RecordFault(ctx, rec); err != nil {
		t.Fatalf("RecordFault failed: %v", err)
	}

	got, err := j.GetFault(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetFault failed: %v", err)
	}
	if got.ClockID != "game" || got.CycleSeq != 1 || got.Message != "listener failed" {
		t.Errorf("Unexpected record %+v", got)
	}
	if !got.OccurredAt.Equal(rec.OccurredAt) {
		t.Errorf("OccurredAt = %s, want %s", got.OccurredAt, rec.OccurredAt)
	}

	// Duplicate IDs are rejected
	if err := j.RecordFault(ctx, rec); err == nil {
		t.Error("Expected error recording the same fault twice")
	}

	if _, err := j.GetFault(ctx, "fault_missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestJournalListFaultsNewestFirst(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		if err := j.RecordFault(ctx, record("game", i)); err != nil {
			t.Fatalf("RecordFault failed: %v", err)
		}
	}
	j.RecordFault(ctx, record("menu", 1))

	all, err := j.ListFaults(ctx, "game", 0)
	if err != nil {
		t.Fatalf("ListFaults failed: %v", err)
	}
	if len(all) != 5 {
		t.Fatalf("Expected 5 records, got %d", len(all))
	}
	for i, rec := range all {
		if want := int64(5 - i); rec.CycleSeq != want {
			t.Errorf("Record %d: CycleSeq = %d, want %d", i, rec.CycleSeq, want)
		}
	}

	limited, _ := j.ListFaults(ctx, "game", 2)
	if len(limited) != 2 || limited[0].CycleSeq != 5 {
		t.Errorf("Expected newest 2 records, got %d starting at %v", len(limited), limited)
	}

	other, _ := j.ListFaults(ctx, "menu", 0)
	if len(other) != 1 {
		t.Errorf("Expected 1 record for other clock, got %d", len(other))
	}
}

func TestJournalPruneBefore(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	for i := 1; i <= 4; i++ {
		j.RecordFault(ctx, record("game", i))
	}

	removed, err := j.PruneBefore(ctx, base.Add(3*time.Second))
	if err != nil {
		t.Fatalf("PruneBefore failed: %v", err)
	}
	if removed != 2 {
		t.Errorf("Expected 2 records pruned, got %d", removed)
	}

	left, _ := j.ListFaults(ctx, "game", 0)
	if len(left) != 2 {
		t.Errorf("Expected 2 records left, got %d", len(left))
	}
	if _, err := j.GetFault(ctx, record("game", 1).ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Pruned record should be gone, got %v", err)
	}

	// Nothing left to prune
	removed, _ = j.PruneBefore(ctx, base)
	if removed != 0 {
		t.Errorf("Expected nothing pruned, got %d", removed)
	}
}

func TestJournalOnDisk(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	j, err := NewJournal(dir)
	if err != nil {
		t.Fatalf("Failed to open journal: %v", err)
	}
	j.RecordFault(ctx, record("game", 1))
	if err := j.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := NewJournal(dir)
	if err != nil {
		t.Fatalf("Failed to reopen journal: %v", err)
	}
	defer reopened.Close()

	if _, err := reopened.GetFault(ctx, record("game", 1).ID); err != nil {
		t.Errorf("Record should survive reopen: %v", err)
	}
}
