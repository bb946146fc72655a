package storage

import (
	"context"
	"errors"
	"time"

	"github.com/ahmed-com/tickclock"
)

// ErrNotFound is returned when a fault record does not exist
var ErrNotFound = errors.New("fault record not found")

// Journal persists the history of faults routed to a clock's restorer. It
// never stores clock state.
type Journal interface {
	// RecordFault stores rec. Recording the same fault ID twice fails.
	RecordFault(ctx context.Context, rec *FaultRecord) error
	GetFault(ctx context.Context, faultID string) (*FaultRecord, error)

	// ListFaults returns up to limit records of a clock, newest first.
	// A limit of zero or less returns everything.
	ListFaults(ctx context.Context, clockID string, limit int) ([]*FaultRecord, error)

	// PruneBefore deletes records that occurred before cutoff and returns
	// how many were removed.
	PruneBefore(ctx context.Context, cutoff time.Time) (int, error)

	// Close closes the storage connection
	Close() error
}

// FaultRecord is the persisted form of a tickclock.Fault
type FaultRecord struct {
	ID         string    `json:"id"`
	ClockID    string    `json:"clock_id"`
	CycleID    string    `json:"cycle_id,omitempty"`
	CycleSeq   int64     `json:"cycle_seq"`
	Kind       string    `json:"kind"`
	Listener   string    `json:"listener,omitempty"`
	Message    string    `json:"message,omitempty"`
	Coalesced  int       `json:"coalesced"`
	OccurredAt time.Time `json:"occurred_at"`
	RecordedAt time.Time `json:"recorded_at"`
}

// NewFaultRecord converts f into a record stamped with recordedAt
func NewFaultRecord(f *tickclock.Fault, recordedAt time.Time) *FaultRecord {
	rec := &FaultRecord{
		ID:         f.ID,
		ClockID:    f.ClockID,
		CycleID:    f.CycleID,
		CycleSeq:   f.CycleSeq,
		Kind:       string(f.Kind),
		Listener:   f.Listener,
		Coalesced:  f.Coalesced,
		OccurredAt: f.OccurredAt,
		RecordedAt: recordedAt,
	}
	if f.Err != nil {
		rec.Message = f.Err.Error()
	}
	if rec.OccurredAt.IsZero() {
		rec.OccurredAt = recordedAt
	}
	return rec
}
