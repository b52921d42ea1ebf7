// Package node gives a broker process a stable identity and a source of
// time-ordered IDs.
//
// The identity is a ULID kept in <data_dir>/node_id. It is created on first
// start and reused afterwards, so replication events and journal records can
// always be traced back to the process that emitted them.
package node

import (
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

const idFile = "node_id"

// ID is the ULID string of a broker process.
type ID string

func (id ID) String() string { return string(id) }

// IsZero reports whether the ID is unset.
func (id ID) IsZero() bool { return id == "" }

// Node is the identity of this broker process.
type Node struct {
	id      ID
	dataDir string
}

// New loads the identity from dataDir, creating the directory and the ID file
// when absent. A non-empty override other than "auto" must be a valid ULID
// and takes precedence over the file.
func New(dataDir, override string) (*Node, error) {
	if dataDir == "" {
		return nil, errors.New("node: data dir must not be empty")
	}
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("node: create data dir: %w", err)
	}

	if override != "" && override != "auto" {
		if _, err := ulid.ParseStrict(override); err != nil {
			return nil, fmt.Errorf("node: invalid id override %q: %w", override, err)
		}
		return &Node{id: ID(override), dataDir: dataDir}, nil
	}

	id, err := loadOrCreate(filepath.Join(dataDir, idFile))
	if err != nil {
		return nil, err
	}
	return &Node{id: id, dataDir: dataDir}, nil
}

// ID returns the node's ULID.
func (n *Node) ID() ID { return n.id }

// DataDir returns the directory the node was opened with.
func (n *Node) DataDir() string { return n.dataDir }

func loadOrCreate(path string) (ID, error) {
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		s := strings.TrimSpace(string(data))
		if _, perr := ulid.ParseStrict(s); perr != nil {
			return "", fmt.Errorf("node: persisted id %q is invalid: %w", s, perr)
		}
		return ID(s), nil
	case !errors.Is(err, os.ErrNotExist):
		return "", fmt.Errorf("node: read id file: %w", err)
	}

	s, err := NewID()
	if err != nil {
		return "", fmt.Errorf("node: generate id: %w", err)
	}
	if err := os.WriteFile(path, []byte(s+"\n"), 0o640); err != nil {
		return "", fmt.Errorf("node: persist id: %w", err)
	}
	return ID(s), nil
}

// ─── ID generation ───────────────────────────────────────────────────────────

// A single monotonic entropy source keeps IDs generated within the same
// millisecond strictly increasing. It is not safe for concurrent use, hence
// the mutex.
var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewID returns a fresh, strictly increasing ULID string.
func NewID() (string, error) {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	id, err := ulid.New(ulid.Timestamp(time.Now()), entropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// MustNewID is NewID for callers that cannot handle the (entropy exhaustion)
// error, such as tests.
func MustNewID() string {
	id, err := NewID()
	if err != nil {
		panic(fmt.Sprintf("node.MustNewID: %v", err))
	}
	return id
}

// IDTime returns the millisecond timestamp embedded in a ULID string.
func IDTime(id string) (time.Time, error) {
	u, err := ulid.ParseStrict(id)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(u.Time()), nil
}
