package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/ahmed-com/tickclock/storage"
)

// Journal implements storage.Journal using BadgerDB
type Journal struct {
	db *badger.DB
}

// NewJournal opens a BadgerDB fault journal at path. An empty path keeps
// the journal in memory.
func NewJournal(path string) (*Journal, error) {
	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = nil // Disable default logging

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}

	return &Journal{db: db}, nil
}

// Hierarchical key schema implementation. Timestamps are zero padded so
// lexical order matches time order.
func faultPrefix(clockID string) []byte {
	return []byte(fmt.Sprintf("clock/%s/fault/", clockID))
}

func faultKey(rec *storage.FaultRecord) []byte {
	return []byte(fmt.Sprintf("clock/%s/fault/%020d/%s", rec.ClockID, rec.OccurredAt.UnixNano(), rec.ID))
}

func indexKey(faultID string) []byte {
	return []byte(fmt.Sprintf("fault/%s", faultID))
}

// occurredAt extracts the timestamp segment of a fault key
func occurredAt(key string) (time.Time, bool) {
	parts := strings.Split(key, "/")
	if len(parts) < 5 {
		return time.Time{}, false
	}
	nanos, err := strconv.ParseInt(parts[len(parts)-2], 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(0, nanos), true
}

func (j *Journal) RecordFault(ctx context.Context, rec *storage.FaultRecord) error {
	if rec == nil || rec.ID == "" {
		return fmt.Errorf("fault record requires an ID")
	}

	return j.db.Update(func(txn *badger.Txn) error {
		idx := indexKey(rec.ID)

		// Check if already exists
		_, err := txn.Get(idx)
		if err == nil {
			return fmt.Errorf("fault already recorded: %s", rec.ID)
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to marshal fault: %w", err)
		}

		key := faultKey(rec)
		if err := txn.Set(key, data); err != nil {
			return err
		}
		return txn.Set(idx, key)
	})
}

func (j *Journal) GetFault(ctx context.Context, faultID string) (*storage.FaultRecord, error) {
	var rec storage.FaultRecord

	err := j.db.View(func(txn *badger.Txn) error {
		idx, err := txn.Get(indexKey(faultID))
		if err != nil {
			return err
		}
		key, err := idx.ValueCopy(nil)
		if err != nil {
			return err
		}

		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})

	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, faultID)
	}
	if err != nil {
		return nil, err
	}

	return &rec, nil
}

func (j *Journal) ListFaults(ctx context.Context, clockID string, limit int) ([]*storage.FaultRecord, error) {
	var records []*storage.FaultRecord
	prefix := faultPrefix(clockID)

	err := j.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration starts from the largest key under the prefix
		seek := append(append([]byte{}, prefix...), 0xFF)
		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && len(records) >= limit {
				break
			}

			err := it.Item().Value(func(val []byte) error {
				var rec storage.FaultRecord
				if err := json.Unmarshal(val, &rec); err != nil {
					return err
				}
				records = append(records, &rec)
				return nil
			})
			if err != nil {
				return err
			}
		}

		return nil
	})

	return records, err
}

func (j *Journal) PruneBefore(ctx context.Context, cutoff time.Time) (int, error) {
	var stale [][]byte

	err := j.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte("clock/")
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}

			key := it.Item().KeyCopy(nil)
			at, ok := occurredAt(string(key))
			if ok && at.Before(cutoff) {
				stale = append(stale, key)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if len(stale) == 0 {
		return 0, nil
	}

	wb := j.db.NewWriteBatch()
	defer wb.Cancel()

	for _, key := range stale {
		parts := strings.Split(string(key), "/")
		if err := wb.Delete(key); err != nil {
			return 0, err
		}
		if err := wb.Delete(indexKey(parts[len(parts)-1])); err != nil {
			return 0, err
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, fmt.Errorf("failed to prune faults: %w", err)
	}

	return len(stale), nil
}

// Close closes the database connection
func (j *Journal) Close() error {
	return j.db.Close()
}
