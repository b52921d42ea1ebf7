// Package command defines the mutation records a master queue emits so that
// its slave replicas can replay the same change.
//
// A Command is an immutable value. It has no identity beyond its fields, so
// two commands are equal when their kind, target, spec and payload all match.
// Delivery bookkeeping (envelope IDs, sequence numbers, acks) belongs to the
// replication layer, never to the command itself.
package command

import (
	"bytes"
	"fmt"
)

// Kind identifies which mutation a Command describes.
type Kind uint8

const (
	// KindUnknown is the zero Kind. Replicas reject it.
	KindUnknown Kind = iota
	// KindCreateQueue provisions a slave replica.
	KindCreateQueue
	// KindPushTask appends a payload to the tail of a replica.
	KindPushTask
	// KindPopTask removes the head of a replica.
	KindPopTask
)

// String returns the wire name of the kind.
func (k Kind) String() string {
	switch k {
	case KindCreateQueue:
		return "create_queue"
	case KindPushTask:
		return "push_task"
	case KindPopTask:
		return "pop_task"
	default:
		return "unknown"
	}
}

// ParseKind is the inverse of Kind.String. Unrecognised names map to KindUnknown.
func ParseKind(s string) Kind {
	switch s {
	case "create_queue":
		return KindCreateQueue
	case "push_task":
		return KindPushTask
	case "pop_task":
		return KindPopTask
	default:
		return KindUnknown
	}
}

// Command is one replicated mutation. Build it with CreateQueue, PushTask or
// PopTask; the zero value has KindUnknown.
type Command struct {
	kind    Kind
	target  string
	spec    Spec
	payload []byte
}

// CreateQueue asks the transport to provision the replica named target. spec
// is the consistency level of the master that owns it.
func CreateQueue(target string, spec Spec) Command {
	return Command{kind: KindCreateQueue, target: target, spec: spec}
}

// PushTask asks the replica named target to append payload. The payload is
// copied so later writes to the caller's slice do not leak into the command.
func PushTask(target string, payload []byte) Command {
	return Command{kind: KindPushTask, target: target, payload: clone(payload)}
}

// PopTask asks the replica named target to drop its head element.
func PopTask(target string) Command {
	return Command{kind: KindPopTask, target: target}
}

// Kind returns the mutation kind.
func (c Command) Kind() Kind { return c.kind }

// Target returns the replica name the command is addressed to.
func (c Command) Target() string { return c.target }

// Spec returns the consistency level carried by a CreateQueue command.
// It is empty for the other kinds.
func (c Command) Spec() Spec { return c.spec }

// Payload returns a copy of the pushed payload (nil for non-push kinds).
func (c Command) Payload() []byte { return clone(c.payload) }

// Equal reports whether c and o describe the same mutation: same kind and the
// same target, spec and payload.
func (c Command) Equal(o Command) bool {
	return c.kind == o.kind &&
		c.target == o.target &&
		c.spec == o.spec &&
		bytes.Equal(c.payload, o.payload)
}

func (c Command) String() string {
	switch c.kind {
	case KindCreateQueue:
		return fmt.Sprintf("CreateQueue(%s, %s)", c.target, c.spec)
	case KindPushTask:
		return fmt.Sprintf("PushTask(%s, %q)", c.target, c.payload)
	case KindPopTask:
		return fmt.Sprintf("PopTask(%s)", c.target)
	default:
		return fmt.Sprintf("Unknown(%s)", c.target)
	}
}

// Applier is implemented by anything that can replay a command, i.e. a slave
// replica.
type Applier interface {
	ApplyCommand(cmd Command) error
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
