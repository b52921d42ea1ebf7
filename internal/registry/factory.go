package registry

import (
	"context"
	"fmt"

	"github.com/snehjoshi/replq/internal/command"
	"github.com/snehjoshi/replq/internal/queue"
)

// MasterFactory builds masters of spec that replicate through d. The
// dispatcher decides the consistency level, so spec and d must agree:
// Level0Master with an async dispatcher, Level1Master with an acked one.
func MasterFactory(spec command.Spec, d queue.Dispatcher) Factory {
	return func(ctx context.Context, name string, args CreationArgs) (queue.Handle, error) {
		return queue.NewMaster(ctx, queue.MasterConfig{
			Name:   name,
			Slaves: args.Slaves,
			Spec:   spec,
		}, d)
	}
}

// SlaveFactory builds replicas of spec. CreationArgs.Slaves is ignored.
func SlaveFactory(spec command.Spec) Factory {
	return func(_ context.Context, name string, _ CreationArgs) (queue.Handle, error) {
		return queue.NewSlave(name, spec)
	}
}

// ─── replication.ReplicaStore ────────────────────────────────────────────────

// EnsureReplica creates the slave name with spec unless it already exists.
// An existing queue of a different spec is an error: a replica name must
// never be shadowed by some other queue type.
func (r *Registry) EnsureReplica(ctx context.Context, name string, spec command.Spec) error {
	if !spec.IsSlave() {
		return fmt.Errorf("%w: %q is not a slave spec", queue.ErrInvalidConfiguration, spec)
	}
	h, err := r.Queue(ctx, name, WithSpec(spec))
	if err != nil {
		return err
	}
	if h.Spec() != spec {
		return fmt.Errorf("%w: %s is %q, want %q", ErrNotReplica, name, h.Spec(), spec)
	}
	return nil
}

// Replica returns the existing queue name as a command.Applier.
func (r *Registry) Replica(name string) (command.Applier, error) {
	h, err := r.Lookup(name)
	if err != nil {
		return nil, err
	}
	a, ok := h.(command.Applier)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotReplica, name)
	}
	return a, nil
}
