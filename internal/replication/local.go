package replication

import (
	"context"
	"fmt"

	"github.com/snehjoshi/replq/internal/command"
)

// ReplicaStore is where LocalTransport finds and provisions replicas.
// The queue registry implements it.
type ReplicaStore interface {
	// EnsureReplica creates the replica name with the given slave spec if it
	// does not exist yet.
	EnsureReplica(ctx context.Context, name string, spec command.Spec) error
	// Replica returns the replica name, or an error if it does not exist or
	// cannot replay commands.
	Replica(name string) (command.Applier, error)
}

// LocalTransport delivers commands to replicas living in the same process.
type LocalTransport struct {
	store ReplicaStore
}

var _ Transport = (*LocalTransport)(nil)

// NewLocalTransport returns a Transport backed by store.
func NewLocalTransport(store ReplicaStore) *LocalTransport {
	return &LocalTransport{store: store}
}

// Deliver provisions the replica for CreateQueue and replays every other
// command on the existing replica.
func (t *LocalTransport) Deliver(ctx context.Context, cmd command.Command) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if cmd.Kind() == command.KindCreateQueue {
		spec, ok := cmd.Spec().SlaveSpec()
		if !ok {
			return fmt.Errorf("replication: %s: unknown spec %q", cmd, cmd.Spec())
		}
		return t.store.EnsureReplica(ctx, cmd.Target(), spec)
	}

	r, err := t.store.Replica(cmd.Target())
	if err != nil {
		return fmt.Errorf("replication: %s: %w", cmd, err)
	}
	return r.ApplyCommand(cmd)
}
