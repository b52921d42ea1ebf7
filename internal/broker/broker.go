// Package broker is the façade every transport talks to.
//
// It owns the queue registry and both replication dispatchers, and wires
// delivery events into metrics, the failure journal and any extra observers
// (the websocket feed). HTTP handlers never touch the registry directly.
//
// Data flow:
//
//	Caller → Broker.Push → registry.Queue → queue.Master.Push
//	                                       → Dispatcher → lane → LocalTransport → queue.Slave
//	Caller → Broker.Pop  → registry.Queue(NoCreate) → queue.Master.Pop → …
package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/snehjoshi/replq/internal/command"
	"github.com/snehjoshi/replq/internal/config"
	"github.com/snehjoshi/replq/internal/journal"
	"github.com/snehjoshi/replq/internal/metrics"
	"github.com/snehjoshi/replq/internal/queue"
	"github.com/snehjoshi/replq/internal/registry"
	"github.com/snehjoshi/replq/internal/replication"
)

// ─── Error sentinels ──────────────────────────────────────────────────────────

// ErrNotMaster is returned by SlaveName for a queue that has no slaves of
// its own.
var ErrNotMaster = errors.New("broker: queue is not a master")

// ─── Response types ───────────────────────────────────────────────────────────

// SlaveInfo is one replica of a master as seen from the registry.
type SlaveInfo struct {
	Name string `json:"name"`
	Len  int    `json:"len"`
	// Present is false until the replica's CreateQueue has been delivered.
	Present bool `json:"present"`
}

// QueueInfo is a point-in-time view of one queue.
type QueueInfo struct {
	Name   string      `json:"name"`
	Spec   string      `json:"spec"`
	Len    int         `json:"len"`
	Slaves []SlaveInfo `json:"slaves,omitempty"`
}

// Stats is a lightweight snapshot of broker-wide state.
type Stats struct {
	NodeID     string         `json:"node_id"`
	QueueCount int            `json:"queue_count"`
	Masters    int            `json:"masters"`
	Replicas   int            `json:"replicas"`
	Pending    map[string]int `json:"pending"` // undelivered commands per slave lane
	Failures   int            `json:"failures"`
}

// ─── Options ──────────────────────────────────────────────────────────────────

// Option is a functional option for the Broker.
type Option func(*Broker)

// WithMetrics attaches a metrics.Registry: push/pop counts plus every
// replication event.
func WithMetrics(reg *metrics.Registry) Option {
	return func(b *Broker) { b.metrics = reg }
}

// WithJournal records failed and dropped replication commands in j. The
// caller keeps ownership and closes j after Broker.Close.
func WithJournal(j *journal.Journal) Option {
	return func(b *Broker) { b.journal = j }
}

// WithObserver adds an extra replication observer. May be given more than once.
func WithObserver(obs replication.Observer) Option {
	return func(b *Broker) {
		if obs != nil {
			b.observers = append(b.observers, obs)
		}
	}
}

// WithLogger sets the logger handed to the registry and the dispatchers.
func WithLogger(l *slog.Logger) Option {
	return func(b *Broker) { b.logger = l }
}

// ─── Broker ───────────────────────────────────────────────────────────────────

// Broker is safe for concurrent use.
type Broker struct {
	cfg         *config.Config
	nodeID      string
	defaultSpec command.Spec

	reg   *registry.Registry
	async *replication.Async
	acked *replication.Acked

	metrics   *metrics.Registry
	journal   *journal.Journal
	observers []replication.Observer
	logger    *slog.Logger
}

// New builds a Broker from cfg. Both consistency levels are always
// available; cfg.Replication.DefaultSpec only picks what a bare first
// reference creates.
func New(cfg *config.Config, nodeID string, opts ...Option) (*Broker, error) {
	defaultSpec := command.Spec(cfg.Replication.DefaultSpec)
	if defaultSpec == "" {
		defaultSpec = command.Level0Master
	}
	if !defaultSpec.IsMaster() {
		return nil, fmt.Errorf("%w: default spec %q is not a master spec", queue.ErrInvalidConfiguration, defaultSpec)
	}

	b := &Broker{cfg: cfg, nodeID: nodeID, defaultSpec: defaultSpec}
	for _, o := range opts {
		o(b)
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}

	b.reg = registry.New(
		registry.WithDefaults(registry.CreationArgs{Spec: defaultSpec, Slaves: cfg.Replication.Slaves}),
		registry.WithLogger(b.logger),
	)
	tr := replication.NewLocalTransport(b.reg)

	ropts := []replication.Option{
		replication.WithLaneBuffer(cfg.Replication.LaneBuffer),
		replication.WithDeliveryRate(cfg.Replication.DeliveryRate, cfg.Replication.DeliveryBurst),
		replication.WithLogger(b.logger),
	}
	if b.metrics != nil {
		ropts = append(ropts, replication.WithObserver(b.metrics))
	}
	if b.journal != nil {
		ropts = append(ropts, replication.WithObserver(b.journal))
	}
	for _, obs := range b.observers {
		ropts = append(ropts, replication.WithObserver(obs))
	}

	ackTimeout := cfg.Replication.AckTimeout()
	if ackTimeout <= 0 {
		ackTimeout = replication.DefaultAckTimeout
	}
	b.async = replication.NewAsync(tr, ropts...)
	b.acked = replication.NewAcked(tr, ackTimeout, ropts...)

	b.reg.Register(command.Level0Master, registry.MasterFactory(command.Level0Master, b.async))
	b.reg.Register(command.Level1Master, registry.MasterFactory(command.Level1Master, b.acked))
	return b, nil
}

// Close drains both dispatchers, bounded by ctx.
func (b *Broker) Close(ctx context.Context) error {
	return errors.Join(b.async.Close(ctx), b.acked.Close(ctx))
}

// NodeID returns the node identity string.
func (b *Broker) NodeID() string { return b.nodeID }

// DefaultCreationArgs returns what a queue created without arguments gets.
func (b *Broker) DefaultCreationArgs() registry.CreationArgs {
	return registry.CreationArgs{
		Spec:   b.defaultSpec,
		Slaves: b.cfg.Replication.Slaves,
	}
}

// ─── Queue operations ─────────────────────────────────────────────────────────

// Push appends payload to the named queue, creating it with the default
// args on first reference.
func (b *Broker) Push(ctx context.Context, name string, payload []byte) error {
	h, err := b.reg.Queue(ctx, name)
	if err != nil {
		return fmt.Errorf("broker: get queue %s: %w", name, err)
	}
	if err := h.Push(ctx, payload); err != nil {
		return fmt.Errorf("broker: push to %s: %w", name, err)
	}
	if b.metrics != nil {
		b.metrics.Pushed.Inc(name)
	}
	return nil
}

// Pop removes and returns the head of the named queue. Popping never
// creates a queue: a missing one is registry.ErrNotFound.
func (b *Broker) Pop(ctx context.Context, name string) ([]byte, error) {
	h, err := b.reg.Queue(ctx, name, registry.NoCreate())
	if err != nil {
		return nil, fmt.Errorf("broker: get queue %s: %w", name, err)
	}
	payload, err := h.Pop(ctx)
	if err != nil {
		return nil, fmt.Errorf("broker: pop from %s: %w", name, err)
	}
	if b.metrics != nil {
		b.metrics.Popped.Inc(name)
	}
	return payload, nil
}

// CreateQueue explicitly creates name. A zero Spec means the configured
// default. It fails with registry.ErrExists if the name is taken.
func (b *Broker) CreateQueue(ctx context.Context, name string, args registry.CreationArgs) (QueueInfo, error) {
	if args.Spec == "" {
		args.Spec = b.DefaultCreationArgs().Spec
	}
	if !args.Spec.IsMaster() {
		return QueueInfo{}, fmt.Errorf("%w: cannot create %q queues directly", queue.ErrInvalidConfiguration, args.Spec)
	}
	h, err := b.reg.Create(ctx, name, args)
	if err != nil {
		return QueueInfo{}, fmt.Errorf("broker: create queue %s: %w", name, err)
	}
	return b.describe(h), nil
}

// Info describes an existing queue. For a master it includes every
// slave's current length.
func (b *Broker) Info(name string) (QueueInfo, error) {
	h, err := b.reg.Lookup(name)
	if err != nil {
		return QueueInfo{}, fmt.Errorf("broker: info %s: %w", name, err)
	}
	return b.describe(h), nil
}

// SlaveName returns the i-th slave name of master name.
func (b *Broker) SlaveName(name string, i int) (string, error) {
	h, err := b.reg.Lookup(name)
	if err != nil {
		return "", fmt.Errorf("broker: slave name %s: %w", name, err)
	}
	m, ok := h.(*queue.Master)
	if !ok {
		return "", fmt.Errorf("%w: %s is %q", ErrNotMaster, name, h.Spec())
	}
	return m.SlaveName(i)
}

// ListQueues describes every registered queue, sorted by name.
func (b *Broker) ListQueues() []QueueInfo {
	names := b.reg.Names()
	out := make([]QueueInfo, 0, len(names))
	for _, n := range names {
		if h, err := b.reg.Lookup(n); err == nil {
			out = append(out, b.describe(h))
		}
	}
	return out
}

// Stats returns a lightweight snapshot of broker state.
func (b *Broker) Stats() Stats {
	s := Stats{NodeID: b.nodeID, Pending: make(map[string]int)}
	for _, n := range b.reg.Names() {
		h, err := b.reg.Lookup(n)
		if err != nil {
			continue
		}
		s.QueueCount++
		switch {
		case h.Spec().IsMaster():
			s.Masters++
		case h.Spec().IsSlave():
			s.Replicas++
		}
	}
	for _, pending := range []map[string]int{b.async.Pending(), b.acked.Pending()} {
		for target, n := range pending {
			s.Pending[target] += n
		}
	}
	if b.journal != nil {
		if n, err := b.journal.Count(); err == nil {
			s.Failures = n
		}
	}
	return s
}

// Failures returns up to limit of the most recent journaled replication
// failures. Without a journal it returns nothing.
func (b *Broker) Failures(limit int) ([]journal.Record, error) {
	if b.journal == nil {
		return []journal.Record{}, nil
	}
	recs, err := b.journal.List(limit)
	if err != nil {
		return nil, fmt.Errorf("broker: list failures: %w", err)
	}
	if recs == nil {
		recs = []journal.Record{}
	}
	return recs, nil
}

// ─── Helpers ──────────────────────────────────────────────────────────────────

func (b *Broker) describe(h queue.Handle) QueueInfo {
	info := QueueInfo{Name: h.Name(), Spec: h.Spec().String(), Len: h.Len()}
	m, ok := h.(*queue.Master)
	if !ok {
		return info
	}
	for _, sn := range m.SlaveNames() {
		si := SlaveInfo{Name: sn}
		if sh, err := b.reg.Lookup(sn); err == nil {
			si.Present = true
			si.Len = sh.Len()
		}
		info.Slaves = append(info.Slaves, si)
	}
	return info
}
