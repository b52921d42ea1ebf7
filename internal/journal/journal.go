// Package journal keeps a durable record of replication commands that did
// not reach their slave: transport failures and drops.
//
// Level-0 replication never reports these to the caller, so the journal is
// how an operator finds out which replicas have diverged and why. It stores
// records, not queue contents; queues themselves remain in memory.
//
// Records live in a single bbolt bucket keyed by the envelope ULID, so
// iteration order is dispatch order.
package journal

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.etcd.io/bbolt"

	"github.com/snehjoshi/replq/internal/command"
	"github.com/snehjoshi/replq/internal/node"
	"github.com/snehjoshi/replq/internal/replication"
)

var bucketFailures = []byte("failures")

// ErrClosed is returned by writes after Close.
var ErrClosed = errors.New("journal: closed")

// Record is one failed or dropped command.
type Record struct {
	ID      string          `json:"id"`
	Event   string          `json:"event"` // "failed" | "dropped"
	Command command.Command `json:"command"`
	Error   string          `json:"error"`
	At      time.Time       `json:"at"`
}

// Journal is a bbolt-backed failure log. All methods are safe for concurrent
// use.
type Journal struct {
	db     *bbolt.DB
	closed atomic.Bool
	// writeErrs counts Observe calls that could not be persisted.
	writeErrs atomic.Int64
}

var _ replication.Observer = (*Journal)(nil)

// Open opens (or creates) the journal file at path.
func Open(path string) (*Journal, error) {
	db, err := bbolt.Open(path, 0o640, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketFailures)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal: init bucket: %w", err)
	}
	return &Journal{db: db}, nil
}

// Observe records EventFailed and EventDropped events and ignores the rest.
// Write errors are counted, never returned: Observe runs on the delivery path.
func (j *Journal) Observe(e replication.Event) {
	if e.Type != replication.EventFailed && e.Type != replication.EventDropped {
		return
	}
	rec := Record{
		ID:      e.ID,
		Event:   e.Type.String(),
		Command: e.Command,
		At:      e.At,
	}
	if e.Err != nil {
		rec.Error = e.Err.Error()
	}
	if err := j.Append(rec); err != nil {
		j.writeErrs.Add(1)
	}
}

// WriteErrors returns how many observed events could not be persisted.
func (j *Journal) WriteErrors() int64 { return j.writeErrs.Load() }

// Append stores rec. A record without an ID gets a fresh ULID; one without
// a timestamp gets the current time.
func (j *Journal) Append(rec Record) error {
	if j.closed.Load() {
		return ErrClosed
	}
	if rec.ID == "" {
		id, err := node.NewID()
		if err != nil {
			return fmt.Errorf("journal: generate id: %w", err)
		}
		rec.ID = id
	}
	if rec.At.IsZero() {
		rec.At = time.Now()
	}
	val, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("journal: marshal %s: %w", rec.ID, err)
	}
	return j.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketFailures).Put([]byte(rec.ID), val)
	})
}

// List returns up to limit of the most recent records, oldest first.
// limit <= 0 returns everything.
func (j *Journal) List(limit int) ([]Record, error) {
	var out []Record
	err := j.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketFailures).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(out) >= limit {
				break
			}
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("journal: decode %s: %w", k, err)
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	// Collected newest first; flip to dispatch order.
	for i, k := 0, len(out)-1; i < k; i, k = i+1, k-1 {
		out[i], out[k] = out[k], out[i]
	}
	return out, nil
}

// ForTarget returns every record whose command targeted name, oldest first.
func (j *Journal) ForTarget(name string) ([]Record, error) {
	var out []Record
	err := j.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketFailures).ForEach(func(k, v []byte) error {
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("journal: decode %s: %w", k, err)
			}
			if rec.Command.Target() == name {
				out = append(out, rec)
			}
			return nil
		})
	})
	return out, err
}

// Count returns the number of stored records.
func (j *Journal) Count() (int, error) {
	var n int
	err := j.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket(bucketFailures).Stats().KeyN
		return nil
	})
	return n, err
}

// Close closes the underlying database. It is safe to call more than once.
func (j *Journal) Close() error {
	if !j.closed.CompareAndSwap(false, true) {
		return nil
	}
	return j.db.Close()
}
