// Package history keeps finished load test runs in a local bbolt file.
package history

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"github.com/wesleyorama2/ratecheck/internal/loadtest/output"
)

// BucketRuns holds one JSON Record per run, keyed by its ID.
const BucketRuns = "runs"

// minPrefixLen is the shortest ID prefix Get accepts.
const minPrefixLen = 4

var (
	// ErrNotFound is returned when no run matches an ID.
	ErrNotFound = errors.New("run not found")

	// ErrAmbiguousID is returned when an ID prefix matches several runs.
	ErrAmbiguousID = errors.New("ambiguous run id")
)

// Record is a stored run.
type Record struct {
	ID        string          `json:"id"`
	CreatedAt time.Time       `json:"createdAt"`
	Source    string          `json:"source,omitempty"` // config file or target URL
	Summary   *output.Summary `json:"summary"`
}

// Store is a bbolt-backed run history. IDs are UUIDv7 so key order is
// creation order.
type Store struct {
	db *bbolt.DB
}

// DefaultPath returns ~/.ratecheck/history.db.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".ratecheck", "history.db"), nil
}

// Open opens or creates the history database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open history %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(BucketRuns))
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save stores a run summary and returns its record.
func (s *Store) Save(source string, summary *output.Summary) (*Record, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, err
	}

	rec := &Record{
		ID:        id.String(),
		CreatedAt: time.Now().UTC(),
		Source:    source,
		Summary:   summary,
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(BucketRuns)).Put([]byte(rec.ID), data)
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// List returns up to limit runs, newest first. limit <= 0 returns all.
func (s *Store) List(limit int) ([]*Record, error) {
	var records []*Record

	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(BucketRuns)).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(records) >= limit {
				break
			}
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("corrupt record %s: %w", k, err)
			}
			records = append(records, &rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// Get returns the run with the given ID or unique ID prefix.
func (s *Store) Get(id string) (*Record, error) {
	if len(id) < minPrefixLen {
		return nil, fmt.Errorf("%w: id %q is too short", ErrNotFound, id)
	}

	var rec Record
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(BucketRuns)).Cursor()
		prefix := []byte(id)

		k, v := c.Seek(prefix)
		if k == nil || !bytes.HasPrefix(k, prefix) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if !bytes.Equal(k, prefix) {
			if next, _ := c.Next(); next != nil && bytes.HasPrefix(next, prefix) {
				return fmt.Errorf("%w: %s", ErrAmbiguousID, id)
			}
		}
		return json.Unmarshal(v, &rec)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Prune deletes all but the newest keep runs and returns how many were
// removed.
func (s *Store) Prune(keep int) (int, error) {
	if keep < 0 {
		keep = 0
	}

	removed := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(BucketRuns))

		var stale [][]byte
		seen := 0
		c := b.Cursor()
		for k, _ := c.Last(); k != nil; k, _ = c.Prev() {
			seen++
			if seen > keep {
				stale = append(stale, bytes.Clone(k))
			}
		}

		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		removed = len(stale)
		return nil
	})
	return removed, err
}
