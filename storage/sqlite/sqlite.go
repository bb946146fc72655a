package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ahmed-com/tickclock/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS fault_journal (
	id          TEXT PRIMARY KEY,
	clock_id    TEXT NOT NULL,
	cycle_id    TEXT NOT NULL DEFAULT '',
	cycle_seq   INTEGER NOT NULL DEFAULT 0,
	kind        TEXT NOT NULL,
	listener    TEXT NOT NULL DEFAULT '',
	message     TEXT NOT NULL DEFAULT '',
	coalesced   INTEGER NOT NULL DEFAULT 0,
	occurred_at INTEGER NOT NULL,
	recorded_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS fault_journal_clock_occurred ON fault_journal (clock_id, occurred_at);
`

// Journal provides SQLite-backed fault history.
type Journal struct {
	sqlDB *sql.DB
}

// Open opens a fault journal database and creates its schema.
func Open(path string) (*Journal, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Journal{sqlDB: sqlDB}, nil
}

// Close releases the SQLite connection.
func (j *Journal) Close() error {
	if j == nil || j.sqlDB == nil {
		return nil
	}
	return j.sqlDB.Close()
}

// RecordFault persists one fault record.
func (j *Journal) RecordFault(ctx context.Context, rec *storage.FaultRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec == nil || strings.TrimSpace(rec.ID) == "" {
		return fmt.Errorf("fault id is required")
	}
	if strings.TrimSpace(rec.ClockID) == "" {
		return fmt.Errorf("clock id is required")
	}
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now().UTC()
	}

	_, err := j.sqlDB.ExecContext(ctx, `
INSERT INTO fault_journal (
	id,
	clock_id,
	cycle_id,
	cycle_seq,
	kind,
	listener,
	message,
	coalesced,
	occurred_at,
	recorded_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
		rec.ID,
		rec.ClockID,
		rec.CycleID,
		rec.CycleSeq,
		rec.Kind,
		rec.Listener,
		rec.Message,
		rec.Coalesced,
		rec.OccurredAt.UTC().UnixNano(),
		rec.RecordedAt.UTC().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("record fault: %w", err)
	}
	return nil
}

const selectColumns = `id, clock_id, cycle_id, cycle_seq, kind, listener, message, coalesced, occurred_at, recorded_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*storage.FaultRecord, error) {
	var (
		rec                    storage.FaultRecord
		occurredAt, recordedAt int64
	)
	if err := row.Scan(
		&rec.ID,
		&rec.ClockID,
		&rec.CycleID,
		&rec.CycleSeq,
		&rec.Kind,
		&rec.Listener,
		&rec.Message,
		&rec.Coalesced,
		&occurredAt,
		&recordedAt,
	); err != nil {
		return nil, err
	}
	rec.OccurredAt = time.Unix(0, occurredAt).UTC()
	rec.RecordedAt = time.Unix(0, recordedAt).UTC()
	return &rec, nil
}

// GetFault loads one fault record by ID.
func (j *Journal) GetFault(ctx context.Context, faultID string) (*storage.FaultRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	row := j.sqlDB.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM fault_journal WHERE id = ?`, faultID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, faultID)
	}
	if err != nil {
		return nil, fmt.Errorf("get fault: %w", err)
	}
	return rec, nil
}

// ListFaults lists newest-first fault records of one clock.
func (j *Journal) ListFaults(ctx context.Context, clockID string, limit int) ([]*storage.FaultRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = -1 // SQLite treats a negative LIMIT as unbounded
	}

	rows, err := j.sqlDB.QueryContext(ctx, `
SELECT `+selectColumns+`
FROM fault_journal
WHERE clock_id = ?
ORDER BY occurred_at DESC, id DESC
LIMIT ?
`, clockID, limit)
	if err != nil {
		return nil, fmt.Errorf("list faults: %w", err)
	}
	defer rows.Close()

	var records []*storage.FaultRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan fault: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate faults: %w", err)
	}
	return records, nil
}

// PruneBefore deletes fault records older than cutoff.
func (j *Journal) PruneBefore(ctx context.Context, cutoff time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	res, err := j.sqlDB.ExecContext(ctx, `DELETE FROM fault_journal WHERE occurred_at < ?`, cutoff.UTC().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("prune faults: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune faults: %w", err)
	}
	return int(n), nil
}
