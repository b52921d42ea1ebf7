package queue

import (
	"context"
	"fmt"

	"github.com/snehjoshi/replq/internal/command"
)

// Slave is a passive replica. Callers cannot push to or pop from it; its
// contents change only through ApplyCommand, so it always reflects the
// command stream it received.
type Slave struct {
	*Queue
	spec command.Spec
}

var (
	_ Handle          = (*Slave)(nil)
	_ command.Applier = (*Slave)(nil)
)

// NewSlave returns an empty replica. spec must be a slave spec.
func NewSlave(name string, spec command.Spec) (*Slave, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: empty queue name", ErrInvalidConfiguration)
	}
	if !spec.IsSlave() {
		return nil, fmt.Errorf("%w: %q is not a slave spec", ErrInvalidConfiguration, spec)
	}
	return &Slave{Queue: New(name), spec: spec}, nil
}

// Spec returns the replica's consistency level.
func (s *Slave) Spec() command.Spec { return s.spec }

// Push always fails with ErrUnsupportedOperation.
func (s *Slave) Push(context.Context, []byte) error {
	return fmt.Errorf("%w: push on slave %s", ErrUnsupportedOperation, s.name)
}

// Pop always fails with ErrUnsupportedOperation.
func (s *Slave) Pop(context.Context) ([]byte, error) {
	return nil, fmt.Errorf("%w: pop on slave %s", ErrUnsupportedOperation, s.name)
}

// ApplyCommand replays cmd against the replica. PushTask appends, PopTask
// removes the head (ErrEmptyQueue if there is none). CreateQueue for this
// replica is accepted as a no-op since the replica already exists.
func (s *Slave) ApplyCommand(cmd command.Command) error {
	if cmd.Kind() == command.KindUnknown {
		return fmt.Errorf("%w: %s", ErrUnrecognizedCommand, cmd)
	}
	if cmd.Target() != s.name {
		return fmt.Errorf("%w: %s sent to %s", ErrMisrouted, cmd, s.name)
	}
	switch cmd.Kind() {
	case command.KindPushTask:
		s.append(cmd.Payload())
		return nil
	case command.KindPopTask:
		_, err := s.popHead()
		return err
	case command.KindCreateQueue:
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrUnrecognizedCommand, cmd)
	}
}
