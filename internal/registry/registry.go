// Package registry tracks every live queue by name and creates queues on
// first reference using a factory chosen by consistency level.
//
// The name→queue map is the single source of truth for whether a queue
// exists. Entries are never removed. Concurrent first references to the same
// name collapse into one construction: every caller gets the same instance.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/snehjoshi/replq/internal/command"
	"github.com/snehjoshi/replq/internal/queue"
)

var (
	// ErrNotFound is returned when a queue does not exist and the caller
	// disabled creation.
	ErrNotFound = errors.New("registry: queue not found")
	// ErrExists is returned by Create when the name is already taken.
	ErrExists = errors.New("registry: queue already exists")
	// ErrNoFactory is returned when no factory is registered for a spec.
	ErrNoFactory = errors.New("registry: no factory for spec")
	// ErrNotReplica is returned by Replica when the named queue cannot
	// replay commands.
	ErrNotReplica = errors.New("registry: queue is not a replica")
)

// CreationArgs parameterise the construction of a missing queue.
type CreationArgs struct {
	Spec   command.Spec
	Slaves int
}

// DefaultCreationArgs is a level-0 master with queue.DefaultSlaves slaves.
func DefaultCreationArgs() CreationArgs {
	return CreationArgs{Spec: command.Level0Master, Slaves: queue.DefaultSlaves}
}

// Factory builds a queue of one spec.
type Factory func(ctx context.Context, name string, args CreationArgs) (queue.Handle, error)

// ─── Registry ────────────────────────────────────────────────────────────────

// Registry is the name→queue map. All methods are safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	queues    map[string]queue.Handle
	factories map[command.Spec]Factory
	defaults  CreationArgs

	// creating collapses concurrent constructions of the same name.
	// Factories run outside mu so a master can provision its slaves through
	// this same registry while it is being built.
	creating singleflight.Group

	logger *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithDefaults replaces the CreationArgs used when a caller passes none.
func WithDefaults(args CreationArgs) Option {
	return func(r *Registry) { r.defaults = args }
}

// WithFactory registers f for spec.
func WithFactory(spec command.Spec, f Factory) Option {
	return func(r *Registry) { r.factories[spec] = f }
}

// WithLogger sets the logger used for lifecycle messages.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// New returns an empty Registry. Slave factories for every known level are
// registered up front; master factories need a dispatcher and are added
// with WithFactory or Register.
func New(opts ...Option) *Registry {
	r := &Registry{
		queues:    make(map[string]queue.Handle),
		factories: make(map[command.Spec]Factory),
		defaults:  DefaultCreationArgs(),
		logger:    slog.Default(),
	}
	r.factories[command.Level0Slave] = SlaveFactory(command.Level0Slave)
	r.factories[command.Level1Slave] = SlaveFactory(command.Level1Slave)
	for _, o := range opts {
		o(r)
	}
	return r
}

// Register adds or replaces the factory for spec.
func (r *Registry) Register(spec command.Spec, f Factory) {
	r.mu.Lock()
	r.factories[spec] = f
	r.mu.Unlock()
}

// ─── Lookup options ──────────────────────────────────────────────────────────

type lookup struct {
	create bool
	args   CreationArgs
}

// QueueOption adjusts a single Queue call.
type QueueOption func(*lookup)

// NoCreate makes Queue fail with ErrNotFound instead of creating.
func NoCreate() QueueOption {
	return func(l *lookup) { l.create = false }
}

// WithArgs replaces the creation arguments wholesale.
func WithArgs(args CreationArgs) QueueOption {
	return func(l *lookup) { l.args = args }
}

// WithSpec sets the spec of a queue created by this call.
func WithSpec(spec command.Spec) QueueOption {
	return func(l *lookup) { l.args.Spec = spec }
}

// WithSlaves sets the slave count of a master created by this call.
func WithSlaves(n int) QueueOption {
	return func(l *lookup) { l.args.Slaves = n }
}

// ─── Queue access ────────────────────────────────────────────────────────────

// Queue returns the queue called name, creating it with the registry's
// defaults (adjusted by opts) if it does not exist. With NoCreate a missing
// queue yields ErrNotFound. Creation arguments are ignored when the queue
// already exists.
func (r *Registry) Queue(ctx context.Context, name string, opts ...QueueOption) (queue.Handle, error) {
	if h, ok := r.get(name); ok {
		return h, nil
	}

	r.mu.RLock()
	l := lookup{create: true, args: r.defaults}
	r.mu.RUnlock()
	for _, o := range opts {
		o(&l)
	}
	if !l.create {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	h, _, err := r.create(ctx, name, l.args)
	return h, err
}

// Create builds name with args and fails with ErrExists if it is already
// registered, including when a concurrent caller won the race.
func (r *Registry) Create(ctx context.Context, name string, args CreationArgs) (queue.Handle, error) {
	if _, ok := r.get(name); ok {
		return nil, fmt.Errorf("%w: %s", ErrExists, name)
	}
	h, created, err := r.create(ctx, name, args)
	if err != nil {
		return nil, err
	}
	if !created {
		return nil, fmt.Errorf("%w: %s", ErrExists, name)
	}
	return h, nil
}

// Lookup is Queue(name, NoCreate()) without a context.
func (r *Registry) Lookup(name string) (queue.Handle, error) {
	if h, ok := r.get(name); ok {
		return h, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
}

// Names returns every registered queue name, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.queues))
	for n := range r.queues {
		names = append(names, n)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Len returns the number of registered queues.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.queues)
}

func (r *Registry) get(name string) (queue.Handle, bool) {
	r.mu.RLock()
	h, ok := r.queues[name]
	r.mu.RUnlock()
	return h, ok
}

// create runs the factory for name at most once across concurrent callers.
// created is true only for the caller whose call stored the queue.
func (r *Registry) create(ctx context.Context, name string, args CreationArgs) (queue.Handle, bool, error) {
	type result struct {
		h       queue.Handle
		created bool
	}

	// Do runs fn on the calling goroutine, so ran is only set for the caller
	// that led the flight.
	ran := false
	v, err, _ := r.creating.Do(name, func() (any, error) {
		ran = true
		// A previous flight may have finished between our miss and Do.
		if h, ok := r.get(name); ok {
			return result{h: h}, nil
		}

		r.mu.RLock()
		f, ok := r.factories[args.Spec]
		r.mu.RUnlock()
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrNoFactory, args.Spec)
		}

		h, err := f(ctx, name, args)
		if err != nil {
			return nil, fmt.Errorf("registry: create %s: %w", name, err)
		}

		r.mu.Lock()
		r.queues[name] = h
		r.mu.Unlock()

		r.logger.Info("queue created", "queue", name, "spec", args.Spec.String(), "slaves", args.Slaves)
		return result{h: h, created: true}, nil
	})
	if err != nil {
		return nil, false, err
	}
	res := v.(result)
	return res.h, ran && res.created, nil
}
