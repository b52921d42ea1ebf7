// Package replication carries commands from a master queue to its slave
// replicas.
//
// Each slave target gets its own lane: a buffered channel drained by one
// goroutine, so commands for a given slave are delivered in the order they
// were dispatched while a slow slave never holds up the others.
//
// Two dispatchers sit on top of the lanes:
//
//	Async  (level 0)  enqueue and return; a full lane drops the command
//	Acked  (level 1)  enqueue and wait for the slave's ack, bounded by a timeout
//
// Neither dispatcher knows where a replica lives. Delivery goes through a
// Transport; LocalTransport resolves replicas in the same process.
package replication

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/snehjoshi/replq/internal/command"
)

var (
	// ErrReplicationTimeout is returned by Acked when a slave does not
	// acknowledge within the configured timeout.
	ErrReplicationTimeout = errors.New("replication: timed out waiting for acknowledgment")
	// ErrDeliveryFailed is returned by Acked when the transport reports an
	// error for the command.
	ErrDeliveryFailed = errors.New("replication: delivery failed")
	// ErrClosed is returned once the dispatcher has been closed.
	ErrClosed = errors.New("replication: dispatcher closed")

	errLaneFull = errors.New("replication: lane full")
)

// Transport delivers a command to the replica it names. Implementations must
// be safe for concurrent use; a given target is only ever delivered to from
// one goroutine at a time.
type Transport interface {
	Deliver(ctx context.Context, cmd command.Command) error
}

// ─── Events ──────────────────────────────────────────────────────────────────

// EventType classifies what happened to a dispatched command.
type EventType uint8

const (
	// EventDispatched: the command was accepted into its lane.
	EventDispatched EventType = iota + 1
	// EventDelivered: the transport applied the command.
	EventDelivered
	// EventFailed: the transport returned an error.
	EventFailed
	// EventDropped: the command never reached the transport (lane full,
	// dispatcher closed, wait cancelled).
	EventDropped
)

func (t EventType) String() string {
	switch t {
	case EventDispatched:
		return "dispatched"
	case EventDelivered:
		return "delivered"
	case EventFailed:
		return "failed"
	case EventDropped:
		return "dropped"
	default:
		return "unknown"
	}
}

// Event describes one step in a command's life. ID is the envelope ULID and
// is the same across all events for one dispatch.
type Event struct {
	Type    EventType
	ID      string
	Command command.Command
	Err     error
	At      time.Time
}

// Observer receives replication events. Observe is called synchronously from
// dispatch and delivery goroutines and must not block.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

// Observe calls f(e).
func (f ObserverFunc) Observe(e Event) { f(e) }

// ─── Options ─────────────────────────────────────────────────────────────────

// DefaultLaneBuffer is the per-slave channel capacity.
const DefaultLaneBuffer = 1024

type options struct {
	laneBuffer int
	rate       rate.Limit
	burst      int
	observers  []Observer
	logger     *slog.Logger
}

// Option configures a dispatcher.
type Option func(*options)

// WithLaneBuffer sets how many undelivered commands a single slave lane
// may hold. Values < 1 fall back to DefaultLaneBuffer.
func WithLaneBuffer(n int) Option {
	return func(o *options) { o.laneBuffer = n }
}

// WithDeliveryRate paces delivery on each lane with a token bucket of
// perSecond tokens and the given burst. perSecond <= 0 disables pacing.
func WithDeliveryRate(perSecond float64, burst int) Option {
	return func(o *options) {
		o.rate = rate.Limit(perSecond)
		o.burst = burst
	}
}

// WithObserver registers an observer. May be given more than once.
func WithObserver(obs Observer) Option {
	return func(o *options) {
		if obs != nil {
			o.observers = append(o.observers, obs)
		}
	}
}

// WithLogger sets the logger used for delivery failures.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

func buildOptions(opts []Option) options {
	o := options{laneBuffer: DefaultLaneBuffer}
	for _, fn := range opts {
		fn(&o)
	}
	if o.laneBuffer < 1 {
		o.laneBuffer = DefaultLaneBuffer
	}
	if o.burst < 1 {
		o.burst = 1
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o
}
