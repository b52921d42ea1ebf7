// Package queue implements the replicated queue types of the broker.
//
//   - Queue is the storage primitive: a named FIFO of opaque payloads.
//   - Master is a Queue that emits one command per slave for every mutation.
//   - Slave is a passive replica mutated only by replaying commands.
//
// The consistency level of a master is not a flag on each call. It is the
// Dispatcher the master was built with: a level-0 master holds a
// fire-and-forget dispatcher, a level-1 master holds one that waits for
// acknowledgment.
package queue

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/snehjoshi/replq/internal/command"
)

// ─── Errors ──────────────────────────────────────────────────────────────────

var (
	// ErrEmptyQueue is returned by Pop when the queue holds no elements.
	ErrEmptyQueue = errors.New("queue: empty")
	// ErrInvalidConfiguration is returned when a queue is built with bad
	// parameters (negative slave count, unknown or mismatched spec).
	ErrInvalidConfiguration = errors.New("queue: invalid configuration")
	// ErrOutOfRange is returned by SlaveName for an index outside [0, slaves).
	ErrOutOfRange = errors.New("queue: slave index out of range")
	// ErrUnsupportedOperation is returned by direct Push/Pop on a slave.
	ErrUnsupportedOperation = errors.New("queue: unsupported operation")
	// ErrUnrecognizedCommand is returned when a slave is asked to replay a
	// command kind it does not understand.
	ErrUnrecognizedCommand = errors.New("queue: unrecognized command")
	// ErrMisrouted is returned when a slave receives a command addressed to
	// another replica.
	ErrMisrouted = errors.New("queue: command addressed to another replica")
)

// ─── Contracts ───────────────────────────────────────────────────────────────

// Handle is what callers get back from the registry. Every queue type
// satisfies it.
type Handle interface {
	Name() string
	Spec() command.Spec
	Push(ctx context.Context, payload []byte) error
	Pop(ctx context.Context) ([]byte, error)
	Len() int
	Snapshot() [][]byte
}

// Dispatcher delivers a command to the replica named by cmd.Target().
// Whether Dispatch waits for the replica is the dispatcher's consistency
// level; the master does not know.
type Dispatcher interface {
	Dispatch(ctx context.Context, cmd command.Command) error
}

// ─── Queue ───────────────────────────────────────────────────────────────────

// Queue is an ordered sequence of payloads: push at the tail, pop from the
// head. It has no replication behaviour of its own.
//
// All methods are safe for concurrent use.
type Queue struct {
	name string

	mu    sync.Mutex
	items *list.List // elements are []byte
}

var _ Handle = (*Queue)(nil)

// New returns an empty Queue named name.
func New(name string) *Queue {
	return &Queue{name: name, items: list.New()}
}

// Name returns the immutable queue name.
func (q *Queue) Name() string { return q.name }

// Spec is empty for a plain Queue: it belongs to no consistency level.
func (q *Queue) Spec() command.Spec { return "" }

// Push appends a copy of payload to the tail. It never fails.
func (q *Queue) Push(_ context.Context, payload []byte) error {
	q.append(payload)
	return nil
}

// Pop removes and returns the head element, or ErrEmptyQueue.
func (q *Queue) Pop(_ context.Context) ([]byte, error) {
	return q.popHead()
}

// Len returns the number of queued payloads.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

// Snapshot returns the payloads head-first. The slices are the stored ones;
// callers must not modify them.
func (q *Queue) Snapshot() [][]byte {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([][]byte, 0, q.items.Len())
	for e := q.items.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.([]byte))
	}
	return out
}

// append and popHead are the sequence primitives. Master and Slave guard the
// exported entry points and call these directly.

func (q *Queue) append(payload []byte) {
	stored := make([]byte, len(payload))
	copy(stored, payload)
	q.mu.Lock()
	q.items.PushBack(stored)
	q.mu.Unlock()
}

func (q *Queue) popHead() ([]byte, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	front := q.items.Front()
	if front == nil {
		return nil, fmt.Errorf("%w: %s", ErrEmptyQueue, q.name)
	}
	q.items.Remove(front)
	return front.Value.([]byte), nil
}
