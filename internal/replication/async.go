package replication

import (
	"context"
	"fmt"

	"github.com/snehjoshi/replq/internal/command"
)

// Async is the level-0 dispatcher. Dispatch enqueues the command on its
// slave's lane and returns at once. Delivery failures and drops never reach
// the caller; they are logged and reported to observers instead.
type Async struct {
	*lanes
}

// NewAsync returns a level-0 dispatcher delivering through t.
func NewAsync(t Transport, opts ...Option) *Async {
	return &Async{lanes: newLanes(t, opts)}
}

// Dispatch never blocks and always returns nil.
func (a *Async) Dispatch(ctx context.Context, cmd command.Command) error {
	env := a.newEnvelope(cmd, false)
	a.emit(EventDispatched, env, nil)
	if err := a.enqueue(ctx, env, false); err != nil {
		a.opts.logger.Warn("replication: command dropped",
			"id", env.id,
			"target", cmd.Target(),
			"kind", cmd.Kind().String(),
			"err", err,
		)
		a.emit(EventDropped, env, fmt.Errorf("%s: %w", cmd.Target(), err))
	}
	return nil
}
