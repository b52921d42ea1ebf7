package replication

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/snehjoshi/replq/internal/command"
)

// DefaultAckTimeout bounds how long Acked waits for one slave.
const DefaultAckTimeout = 5 * time.Second

// Acked is the level-1 dispatcher. Dispatch blocks until the slave has
// applied the command, the timeout elapses, or ctx is cancelled.
//
// A command that times out stays in its lane and may still be applied later;
// the timeout only releases the caller.
type Acked struct {
	*lanes
	timeout time.Duration
}

// NewAcked returns a level-1 dispatcher. timeout <= 0 uses DefaultAckTimeout.
func NewAcked(t Transport, timeout time.Duration, opts ...Option) *Acked {
	if timeout <= 0 {
		timeout = DefaultAckTimeout
	}
	return &Acked{lanes: newLanes(t, opts), timeout: timeout}
}

// Timeout returns the per-command acknowledgment timeout.
func (a *Acked) Timeout() time.Duration { return a.timeout }

// Dispatch delivers cmd and waits for the outcome. It returns
// ErrReplicationTimeout when the slave does not answer in time,
// ErrDeliveryFailed (wrapping the transport error) when delivery failed,
// ErrClosed after Close, or ctx.Err() if the caller cancelled.
func (a *Acked) Dispatch(ctx context.Context, cmd command.Command) error {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	env := a.newEnvelope(cmd, true)
	a.emit(EventDispatched, env, nil)

	if err := a.enqueue(ctx, env, true); err != nil {
		a.emit(EventDropped, env, err)
		if errors.Is(err, ErrClosed) {
			return err
		}
		return a.waitErr(ctx, cmd)
	}

	select {
	case err := <-env.ack:
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrDeliveryFailed, cmd, err)
		}
		return nil
	case <-ctx.Done():
		return a.waitErr(ctx, cmd)
	}
}

func (a *Acked) waitErr(ctx context.Context, cmd command.Command) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s after %s", ErrReplicationTimeout, cmd, a.timeout)
	}
	return ctx.Err()
}
