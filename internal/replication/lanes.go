package replication

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/snehjoshi/replq/internal/command"
	"github.com/snehjoshi/replq/internal/node"
)

// envelope wraps a command for one trip through a lane. ack is non-nil only
// when the dispatcher waits for the outcome; it has capacity 1 so the lane
// worker never blocks on an abandoned waiter.
type envelope struct {
	id  string
	cmd command.Command
	ack chan error
}

type lane struct {
	target  string
	ch      chan envelope
	limiter *rate.Limiter
}

// lanes owns one lane per slave target and the goroutines draining them.
// It is shared by both dispatcher kinds.
type lanes struct {
	transport Transport
	opts      options

	// ctx is cancelled when Close gives up waiting for the lanes to drain.
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	byName map[string]*lane
	closed bool

	wg sync.WaitGroup
}

func newLanes(t Transport, opts []Option) *lanes {
	ctx, cancel := context.WithCancel(context.Background())
	return &lanes{
		transport: t,
		opts:      buildOptions(opts),
		ctx:       ctx,
		cancel:    cancel,
		byName:    make(map[string]*lane),
	}
}

func (l *lanes) newEnvelope(cmd command.Command, wait bool) envelope {
	// NewID only fails if the monotonic entropy overflows inside one
	// millisecond; the envelope is still deliverable without an ID.
	id, _ := node.NewID()
	env := envelope{id: id, cmd: cmd}
	if wait {
		env.ack = make(chan error, 1)
	}
	return env
}

// enqueue places env on its target's lane, creating the lane on first use.
// With block false a full lane returns errLaneFull immediately; otherwise
// enqueue waits for room until ctx is done.
func (l *lanes) enqueue(ctx context.Context, env envelope, block bool) error {
	ln, err := l.lane(env.cmd.Target())
	if err != nil {
		return err
	}

	// The read lock keeps Close from closing ln.ch while we send on it.
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return ErrClosed
	}
	if !block {
		select {
		case ln.ch <- env:
			return nil
		default:
			return errLaneFull
		}
	}
	select {
	case ln.ch <- env:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *lanes) lane(target string) (*lane, error) {
	l.mu.RLock()
	ln, ok := l.byName[target]
	closed := l.closed
	l.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}
	if ok {
		return ln, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, ErrClosed
	}
	if ln, ok := l.byName[target]; ok {
		return ln, nil
	}
	ln = &lane{target: target, ch: make(chan envelope, l.opts.laneBuffer)}
	if l.opts.rate > 0 {
		ln.limiter = rate.NewLimiter(l.opts.rate, l.opts.burst)
	}
	l.byName[target] = ln
	l.wg.Add(1)
	go l.run(ln)
	return ln, nil
}

func (l *lanes) run(ln *lane) {
	defer l.wg.Done()
	for env := range ln.ch {
		err := l.deliver(ln, env)
		if env.ack != nil {
			env.ack <- err
		}
	}
}

func (l *lanes) deliver(ln *lane, env envelope) error {
	if err := l.ctx.Err(); err != nil {
		l.emit(EventDropped, env, ErrClosed)
		return ErrClosed
	}
	if ln.limiter != nil {
		if err := ln.limiter.Wait(l.ctx); err != nil {
			l.emit(EventDropped, env, ErrClosed)
			return ErrClosed
		}
	}
	if err := l.transport.Deliver(l.ctx, env.cmd); err != nil {
		l.opts.logger.Warn("replication: delivery failed",
			"id", env.id,
			"target", ln.target,
			"kind", env.cmd.Kind().String(),
			"err", err,
		)
		l.emit(EventFailed, env, err)
		return err
	}
	l.emit(EventDelivered, env, nil)
	return nil
}

func (l *lanes) emit(t EventType, env envelope, err error) {
	if len(l.opts.observers) == 0 {
		return
	}
	ev := Event{Type: t, ID: env.id, Command: env.cmd, Err: err, At: time.Now()}
	for _, o := range l.opts.observers {
		o.Observe(ev)
	}
}

// Pending returns the number of commands waiting in each lane.
func (l *lanes) Pending() map[string]int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[string]int, len(l.byName))
	for name, ln := range l.byName {
		out[name] = len(ln.ch)
	}
	return out
}

// Close stops accepting commands and waits for every lane to drain. If ctx
// ends first, remaining commands are dropped and ctx.Err() is returned.
// Close is idempotent.
func (l *lanes) Close(ctx context.Context) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	for _, ln := range l.byName {
		close(ln.ch)
	}
	l.mu.Unlock()

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		l.cancel()
		return nil
	case <-ctx.Done():
		l.cancel()
		<-done
		return ctx.Err()
	}
}
