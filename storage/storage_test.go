package storage

import (
	"errors"
	"testing"
	"time"

	"github.com/ahmed-com/tickclock"
)

func TestNewFaultRecord(t *testing.T) {
	occurred := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	recorded := occurred.Add(time.Second)

	f := &tickclock.Fault{
		ID:         "fault_1",
		ClockID:    "clock_game",
		CycleID:    "cycle_1",
		CycleSeq:   4,
		Kind:       tickclock.FaultListener,
		Listener:   "physics",
		Err:        errors.New("nan velocity"),
		OccurredAt: occurred,
		Coalesced:  2,
	}

	rec := NewFaultRecord(f, recorded)

	if rec.ID != "fault_1" || rec.ClockID != "clock_game" || rec.CycleID != "cycle_1" || rec.CycleSeq != 4 {
		t.Errorf("Identity fields not copied: %+v", rec)
	}
	if rec.Kind != "Listener" || rec.Listener != "physics" || rec.Coalesced != 2 {
		t.Errorf("Fault detail not copied: %+v", rec)
	}
	if rec.Message != "nan velocity" {
		t.Errorf("Message = %q, want %q", rec.Message, "nan velocity")
	}
	if !rec.OccurredAt.Equal(occurred) || !rec.RecordedAt.Equal(recorded) {
		t.Errorf("Timestamps not copied: %+v", rec)
	}
}

func TestNewFaultRecordDefaults(t *testing.T) {
	recorded := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	rec := NewFaultRecord(&tickclock.Fault{ID: "fault_2", Kind: tickclock.FaultOverrun}, recorded)

	if rec.Message != "" {
		t.Errorf("Expected empty message without cause, got %q", rec.Message)
	}
	if !rec.OccurredAt.Equal(recorded) {
		t.Errorf("OccurredAt should default to recorded time, got %s", rec.OccurredAt)
	}
}
