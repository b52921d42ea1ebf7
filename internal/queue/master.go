package queue

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/snehjoshi/replq/internal/command"
)

// DefaultSlaves is the slave count used when a caller does not pick one.
const DefaultSlaves = 2

// MasterConfig describes a master queue to build.
type MasterConfig struct {
	Name   string
	Slaves int
	// Spec must be a master spec (command.Level0Master, command.Level1Master).
	Spec command.Spec
}

// Master is a Queue that owns the names of its slave replicas and emits a
// command per slave for every mutation. It does not own the replicas
// themselves: they are provisioned by the CreateQueue commands it emits and
// live wherever the dispatcher's transport puts them.
//
// Push and Pop are serialised per master so that the command stream each
// slave sees is in the same order as the master's own mutations.
type Master struct {
	*Queue

	spec   command.Spec
	slaves []string
	disp   Dispatcher

	opMu sync.Mutex
}

var _ Handle = (*Master)(nil)

// NewMaster validates cfg, builds the master and emits one CreateQueue
// command per slave, in index order, before returning. A level-1 dispatcher
// may fail that provisioning, in which case the error is returned and the
// master is discarded.
func NewMaster(ctx context.Context, cfg MasterConfig, d Dispatcher) (*Master, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("%w: empty queue name", ErrInvalidConfiguration)
	}
	if cfg.Slaves < 0 {
		return nil, fmt.Errorf("%w: slave count %d is negative", ErrInvalidConfiguration, cfg.Slaves)
	}
	if !cfg.Spec.IsMaster() {
		return nil, fmt.Errorf("%w: %q is not a master spec", ErrInvalidConfiguration, cfg.Spec)
	}
	if d == nil {
		return nil, fmt.Errorf("%w: nil dispatcher", ErrInvalidConfiguration)
	}

	m := &Master{
		Queue:  New(cfg.Name),
		spec:   cfg.Spec,
		slaves: make([]string, cfg.Slaves),
		disp:   d,
	}
	for i := range m.slaves {
		m.slaves[i] = slaveName(cfg.Name, i)
	}

	for _, s := range m.slaves {
		if err := d.Dispatch(ctx, command.CreateQueue(s, m.spec)); err != nil {
			return nil, fmt.Errorf("master %s: provision %s: %w", cfg.Name, s, err)
		}
	}
	return m, nil
}

// Spec returns the master's consistency level.
func (m *Master) Spec() command.Spec { return m.spec }

// SlaveCount returns the fixed number of slaves.
func (m *Master) SlaveCount() int { return len(m.slaves) }

// SlaveName returns "<name>-slave-<i>" for 0 <= i < SlaveCount, and
// ErrOutOfRange otherwise.
func (m *Master) SlaveName(i int) (string, error) {
	if i < 0 || i >= len(m.slaves) {
		return "", fmt.Errorf("%w: %d not in [0, %d) for %s", ErrOutOfRange, i, len(m.slaves), m.name)
	}
	return m.slaves[i], nil
}

// SlaveNames returns a copy of all slave names in index order.
func (m *Master) SlaveNames() []string {
	out := make([]string, len(m.slaves))
	copy(out, m.slaves)
	return out
}

// Push appends payload locally, then emits PushTask to each slave in index
// order. The local append happens first, so the master's order never waits
// on replication.
func (m *Master) Push(ctx context.Context, payload []byte) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.append(payload)
	for _, s := range m.slaves {
		if err := m.disp.Dispatch(ctx, command.PushTask(s, payload)); err != nil {
			return fmt.Errorf("master %s: push to %s: %w", m.name, s, err)
		}
	}
	return nil
}

// Pop emits PopTask to each slave in index order and then pops locally.
// On an empty master nothing is emitted and ErrEmptyQueue is returned.
//
// If a dispatch fails (level 1 only) the local pop is skipped, leaving the
// slaves that did apply it ahead of the master rather than behind.
func (m *Master) Pop(ctx context.Context) ([]byte, error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	if m.Queue.Len() == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyQueue, m.name)
	}
	for _, s := range m.slaves {
		if err := m.disp.Dispatch(ctx, command.PopTask(s)); err != nil {
			return nil, fmt.Errorf("master %s: pop on %s: %w", m.name, s, err)
		}
	}
	return m.popHead()
}

func slaveName(master string, i int) string {
	return master + "-slave-" + strconv.Itoa(i)
}
