// Package spool persists captured crash reports until a send completes.
// Reports are keyed by the hash of their serialized payload, so capturing
// the same crash twice stores it once. Entries expire after 30 days,
// matching the delivery pipeline's own retention promise.
package spool

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// RetentionPeriod is how long an undelivered report is kept.
const RetentionPeriod = 30 * 24 * time.Hour

// Report is one spooled crash report.
type Report struct {
	// ID is the hex hash of the serialized payload.
	ID string `json:"-"`
	// Payload is the serialized crash report.
	Payload []byte `json:"payload"`
	// CapturedAt is when the report entered the spool, Unix milliseconds.
	CapturedAt int64 `json:"captured_at"`
}

// Spool is a badger-backed pending-report store.
type Spool struct {
	db  *badger.DB
	log *slog.Logger
}

// Open creates or opens a spool at the given directory.
func Open(path string, logger *slog.Logger) (*Spool, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	return open(opts, logger)
}

// OpenInMemory opens a spool that lives only for the process. Used by
// tests and by hosts that want dedup without a disk footprint.
func OpenInMemory(logger *slog.Logger) (*Spool, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil
	return open(opts, logger)
}

func open(opts badger.Options, logger *slog.Logger) (*Spool, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("spool: opening badger store: %w", err)
	}
	return &Spool{db: db, log: logger}, nil
}

// Put stores a serialized report. fresh is false when an identical report
// is already spooled; the stored entry is left untouched in that case.
func (s *Spool) Put(payload []byte) (id string, fresh bool, err error) {
	sum := sha256.Sum256(payload)
	id = hex.EncodeToString(sum[:])

	record := Report{
		Payload:    payload,
		CapturedAt: time.Now().UnixMilli(),
	}
	value, err := json.Marshal(record)
	if err != nil {
		return "", false, fmt.Errorf("spool: encoding report: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		if _, getErr := txn.Get([]byte(id)); getErr == nil {
			return nil // duplicate, keep the original timestamp
		} else if getErr != badger.ErrKeyNotFound {
			return getErr
		}
		fresh = true
		entry := badger.NewEntry([]byte(id), value).WithTTL(RetentionPeriod)
		return txn.SetEntry(entry)
	})
	if err != nil {
		return "", false, fmt.Errorf("spool: storing report: %w", err)
	}
	return id, fresh, nil
}

// Pending returns every spooled report, oldest first.
func (s *Spool) Pending() ([]Report, error) {
	var reports []Report
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			var r Report
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &r)
			}); err != nil {
				return err
			}
			r.ID = string(item.KeyCopy(nil))
			reports = append(reports, r)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("spool: listing reports: %w", err)
	}

	// Keys are content hashes and carry no order; sort by capture time.
	sort.Slice(reports, func(i, j int) bool {
		return reports[i].CapturedAt < reports[j].CapturedAt
	})
	return reports, nil
}

// Delete removes a delivered report. Deleting an unknown ID is not an
// error.
func (s *Spool) Delete(id string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(id))
	})
	if err != nil {
		return fmt.Errorf("spool: deleting report: %w", err)
	}
	return nil
}

// PruneOlderThan drops reports captured before the cutoff, regardless of
// their TTL, and reports how many were removed.
func (s *Spool) PruneOlderThan(cutoff time.Time) (int, error) {
	reports, err := s.Pending()
	if err != nil {
		return 0, err
	}

	pruned := 0
	for _, r := range reports {
		if time.UnixMilli(r.CapturedAt).Before(cutoff) {
			if err := s.Delete(r.ID); err != nil {
				return pruned, err
			}
			pruned++
		}
	}
	if pruned > 0 {
		s.log.Debug("pruned expired reports", "count", pruned)
	}
	return pruned, nil
}

// Close releases the underlying store.
func (s *Spool) Close() error {
	return s.db.Close()
}
