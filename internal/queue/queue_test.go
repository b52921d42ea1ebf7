package queue_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/snehjoshi/replq/internal/command"
	"github.com/snehjoshi/replq/internal/queue"
)

// ─── helpers ─────────────────────────────────────────────────────────────────

// recorder is a Dispatcher that remembers every command in emission order.
// If failOn is set, Dispatch returns errFail for the first command it matches.
type recorder struct {
	mu     sync.Mutex
	cmds   []command.Command
	failOn func(command.Command) bool
}

var errFail = errors.New("dispatch failed")

func (r *recorder) Dispatch(_ context.Context, cmd command.Command) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failOn != nil && r.failOn(cmd) {
		return errFail
	}
	r.cmds = append(r.cmds, cmd)
	return nil
}

func (r *recorder) commands() []command.Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]command.Command, len(r.cmds))
	copy(out, r.cmds)
	return out
}

func newMaster(t *testing.T, name string, slaves int, d queue.Dispatcher) *queue.Master {
	t.Helper()
	m, err := queue.NewMaster(context.Background(), queue.MasterConfig{
		Name: name, Slaves: slaves, Spec: command.Level0Master,
	}, d)
	if err != nil {
		t.Fatalf("NewMaster: %v", err)
	}
	return m
}

func assertCommands(t *testing.T, got, want []command.Command) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %d commands %v, want %d %v", len(got), got, len(want), want)
	}
	for i := range want {
		if !got[i].Equal(want[i]) {
			t.Errorf("command[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

// ─── Queue ───────────────────────────────────────────────────────────────────

func TestQueue_FIFO(t *testing.T) {
	ctx := context.Background()
	q := queue.New("foo")
	for i := 0; i < 10; i++ {
		if err := q.Push(ctx, []byte(fmt.Sprint(i))); err != nil {
			t.Fatalf("Push: %v", err)
		}
	}
	for i := 0; i < 10; i++ {
		got, err := q.Pop(ctx)
		if err != nil {
			t.Fatalf("Pop %d: %v", i, err)
		}
		if string(got) != fmt.Sprint(i) {
			t.Fatalf("Pop %d = %q, want %q", i, got, fmt.Sprint(i))
		}
	}
}

func TestQueue_PopEmpty(t *testing.T) {
	q := queue.New("foo")
	got, err := q.Pop(context.Background())
	if !errors.Is(err, queue.ErrEmptyQueue) {
		t.Fatalf("Pop on empty: err = %v, want ErrEmptyQueue", err)
	}
	if got != nil {
		t.Fatalf("Pop on empty returned %q, want nil", got)
	}
}

func TestQueue_PushCopiesPayload(t *testing.T) {
	ctx := context.Background()
	q := queue.New("foo")
	p := []byte("abc")
	_ = q.Push(ctx, p)
	p[0] = 'x'
	got, _ := q.Pop(ctx)
	if string(got) != "abc" {
		t.Fatalf("Pop = %q, want %q", got, "abc")
	}
}

// ─── Master ──────────────────────────────────────────────────────────────────

func TestMaster_OrdersScenario(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	m := newMaster(t, "orders", 2, rec)

	if err := m.Push(ctx, []byte("a")); err != nil {
		t.Fatalf("Push a: %v", err)
	}
	if err := m.Push(ctx, []byte("b")); err != nil {
		t.Fatalf("Push b: %v", err)
	}
	got, err := m.Pop(ctx)
	if err != nil {
		t.Fatalf("Pop: %v", err)
	}
	if string(got) != "a" {
		t.Fatalf("Pop = %q, want a", got)
	}

	snap := m.Snapshot()
	if len(snap) != 1 || string(snap[0]) != "b" {
		t.Fatalf("local sequence = %q, want [b]", snap)
	}

	assertCommands(t, rec.commands(), []command.Command{
		command.CreateQueue("orders-slave-0", command.Level0Master),
		command.CreateQueue("orders-slave-1", command.Level0Master),
		command.PushTask("orders-slave-0", []byte("a")),
		command.PushTask("orders-slave-1", []byte("a")),
		command.PushTask("orders-slave-0", []byte("b")),
		command.PushTask("orders-slave-1", []byte("b")),
		command.PopTask("orders-slave-0"),
		command.PopTask("orders-slave-1"),
	})
}

func TestMaster_ConstructionEmitsCreatePerSlave(t *testing.T) {
	rec := &recorder{}
	newMaster(t, "jobs", 3, rec)
	assertCommands(t, rec.commands(), []command.Command{
		command.CreateQueue("jobs-slave-0", command.Level0Master),
		command.CreateQueue("jobs-slave-1", command.Level0Master),
		command.CreateQueue("jobs-slave-2", command.Level0Master),
	})
}

func TestMaster_EveryMutationEmitsOnePerSlave(t *testing.T) {
	ctx := context.Background()
	for _, k := range []int{0, 1, 4} {
		t.Run(fmt.Sprintf("slaves=%d", k), func(t *testing.T) {
			rec := &recorder{}
			m := newMaster(t, "q", k, rec)
			before := len(rec.commands())

			_ = m.Push(ctx, []byte("x"))
			afterPush := rec.commands()[before:]
			if len(afterPush) != k {
				t.Fatalf("push emitted %d commands, want %d", len(afterPush), k)
			}
			for i, c := range afterPush {
				want, _ := m.SlaveName(i)
				if c.Kind() != command.KindPushTask || c.Target() != want {
					t.Errorf("push command[%d] = %v, want PushTask(%s)", i, c, want)
				}
			}

			mark := len(rec.commands())
			if _, err := m.Pop(ctx); err != nil {
				t.Fatalf("Pop: %v", err)
			}
			afterPop := rec.commands()[mark:]
			if len(afterPop) != k {
				t.Fatalf("pop emitted %d commands, want %d", len(afterPop), k)
			}
			for i, c := range afterPop {
				want, _ := m.SlaveName(i)
				if c.Kind() != command.KindPopTask || c.Target() != want {
					t.Errorf("pop command[%d] = %v, want PopTask(%s)", i, c, want)
				}
			}
		})
	}
}

func TestMaster_PopEmptyEmitsNothing(t *testing.T) {
	rec := &recorder{}
	m := newMaster(t, "q", 2, rec)
	before := len(rec.commands())

	_, err := m.Pop(context.Background())
	if !errors.Is(err, queue.ErrEmptyQueue) {
		t.Fatalf("Pop on empty master: err = %v, want ErrEmptyQueue", err)
	}
	if n := len(rec.commands()) - before; n != 0 {
		t.Fatalf("empty pop emitted %d commands, want 0", n)
	}
}

func TestMaster_SlaveNameBounds(t *testing.T) {
	m := newMaster(t, "orders", 2, &recorder{})

	for i, want := range []string{"orders-slave-0", "orders-slave-1"} {
		got, err := m.SlaveName(i)
		if err != nil {
			t.Fatalf("SlaveName(%d): %v", i, err)
		}
		if got != want {
			t.Errorf("SlaveName(%d) = %q, want %q", i, got, want)
		}
	}
	for _, i := range []int{-1, 2, 100} {
		if _, err := m.SlaveName(i); !errors.Is(err, queue.ErrOutOfRange) {
			t.Errorf("SlaveName(%d): err = %v, want ErrOutOfRange", i, err)
		}
	}
}

func TestMaster_InvalidConfiguration(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name string
		cfg  queue.MasterConfig
		d    queue.Dispatcher
	}{
		{"negative slaves", queue.MasterConfig{Name: "q", Slaves: -1, Spec: command.Level0Master}, &recorder{}},
		{"slave spec", queue.MasterConfig{Name: "q", Slaves: 1, Spec: command.Level0Slave}, &recorder{}},
		{"unknown spec", queue.MasterConfig{Name: "q", Slaves: 1, Spec: "level7m"}, &recorder{}},
		{"empty name", queue.MasterConfig{Slaves: 1, Spec: command.Level0Master}, &recorder{}},
		{"nil dispatcher", queue.MasterConfig{Name: "q", Slaves: 1, Spec: command.Level0Master}, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := queue.NewMaster(ctx, tc.cfg, tc.d)
			if !errors.Is(err, queue.ErrInvalidConfiguration) {
				t.Fatalf("err = %v, want ErrInvalidConfiguration", err)
			}
		})
	}
}

func TestMaster_NegativeSlavesEmitsNothing(t *testing.T) {
	rec := &recorder{}
	_, _ = queue.NewMaster(context.Background(), queue.MasterConfig{Name: "q", Slaves: -3, Spec: command.Level0Master}, rec)
	if n := len(rec.commands()); n != 0 {
		t.Fatalf("rejected construction emitted %d commands", n)
	}
}

func TestMaster_ProvisionFailure(t *testing.T) {
	rec := &recorder{failOn: func(c command.Command) bool { return c.Kind() == command.KindCreateQueue }}
	_, err := queue.NewMaster(context.Background(), queue.MasterConfig{Name: "q", Slaves: 1, Spec: command.Level1Master}, rec)
	if !errors.Is(err, errFail) {
		t.Fatalf("err = %v, want wrapped dispatch error", err)
	}
}

func TestMaster_PushKeepsLocalStateOnDispatchFailure(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	m := newMaster(t, "q", 2, rec)
	rec.failOn = func(c command.Command) bool { return c.Kind() == command.KindPushTask }

	if err := m.Push(ctx, []byte("x")); !errors.Is(err, errFail) {
		t.Fatalf("Push: err = %v, want dispatch error", err)
	}
	if m.Len() != 1 {
		t.Fatalf("Len = %d, want 1 (local append precedes replication)", m.Len())
	}
}

func TestMaster_PopSkipsLocalOnDispatchFailure(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	m := newMaster(t, "q", 2, rec)
	_ = m.Push(ctx, []byte("x"))

	rec.failOn = func(c command.Command) bool { return c.Target() == "q-slave-1" && c.Kind() == command.KindPopTask }
	if _, err := m.Pop(ctx); !errors.Is(err, errFail) {
		t.Fatalf("Pop: err = %v, want dispatch error", err)
	}
	if m.Len() != 1 {
		t.Fatalf("Len = %d, want 1 (local pop must not run after failed fan-out)", m.Len())
	}
	// slave-0 was already told to pop: slaves end up ahead, never behind.
	cmds := rec.commands()
	last := cmds[len(cmds)-1]
	if !last.Equal(command.PopTask("q-slave-0")) {
		t.Fatalf("last emitted = %v, want PopTask(q-slave-0)", last)
	}
}

func TestMaster_ConcurrentPushesKeepPerSlaveOrder(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	m := newMaster(t, "q", 2, rec)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = m.Push(ctx, []byte(fmt.Sprint(i)))
		}(i)
	}
	wg.Wait()

	local := m.Snapshot()
	var toSlave0 []string
	for _, c := range rec.commands() {
		if c.Kind() == command.KindPushTask && c.Target() == "q-slave-0" {
			toSlave0 = append(toSlave0, string(c.Payload()))
		}
	}
	if len(toSlave0) != len(local) {
		t.Fatalf("slave-0 saw %d pushes, master holds %d", len(toSlave0), len(local))
	}
	for i := range local {
		if string(local[i]) != toSlave0[i] {
			t.Fatalf("order diverges at %d: master %q, slave-0 %q", i, local[i], toSlave0[i])
		}
	}
}

// ─── Slave ───────────────────────────────────────────────────────────────────

func newSlave(t *testing.T, name string) *queue.Slave {
	t.Helper()
	s, err := queue.NewSlave(name, command.Level0Slave)
	if err != nil {
		t.Fatalf("NewSlave: %v", err)
	}
	return s
}

func TestSlave_DirectMutationUnsupported(t *testing.T) {
	ctx := context.Background()
	s := newSlave(t, "q-slave-0")
	if err := s.Push(ctx, []byte("x")); !errors.Is(err, queue.ErrUnsupportedOperation) {
		t.Errorf("Push: err = %v, want ErrUnsupportedOperation", err)
	}
	if _, err := s.Pop(ctx); !errors.Is(err, queue.ErrUnsupportedOperation) {
		t.Errorf("Pop: err = %v, want ErrUnsupportedOperation", err)
	}
	if s.Len() != 0 {
		t.Errorf("Len = %d after rejected push, want 0", s.Len())
	}
}

func TestSlave_ReplayMatchesPlainQueue(t *testing.T) {
	ctx := context.Background()
	s := newSlave(t, "q-slave-0")
	plain := queue.New("plain")

	for _, p := range []string{"a", "b", "c"} {
		if err := s.ApplyCommand(command.PushTask("q-slave-0", []byte(p))); err != nil {
			t.Fatalf("apply push %s: %v", p, err)
		}
		_ = plain.Push(ctx, []byte(p))
	}
	if err := s.ApplyCommand(command.PopTask("q-slave-0")); err != nil {
		t.Fatalf("apply pop: %v", err)
	}
	_, _ = plain.Pop(ctx)

	got, want := s.Snapshot(), plain.Snapshot()
	if len(got) != len(want) {
		t.Fatalf("slave = %q, plain = %q", got, want)
	}
	for i := range want {
		if string(got[i]) != string(want[i]) {
			t.Fatalf("slave = %q, plain = %q", got, want)
		}
	}
}

func TestSlave_ApplyErrors(t *testing.T) {
	s := newSlave(t, "q-slave-0")

	if err := s.ApplyCommand(command.Command{}); !errors.Is(err, queue.ErrUnrecognizedCommand) {
		t.Errorf("unknown kind: err = %v, want ErrUnrecognizedCommand", err)
	}
	if err := s.ApplyCommand(command.PushTask("other", []byte("x"))); !errors.Is(err, queue.ErrMisrouted) {
		t.Errorf("misrouted: err = %v, want ErrMisrouted", err)
	}
	if err := s.ApplyCommand(command.PopTask("q-slave-0")); !errors.Is(err, queue.ErrEmptyQueue) {
		t.Errorf("pop on empty replica: err = %v, want ErrEmptyQueue", err)
	}
	if err := s.ApplyCommand(command.CreateQueue("q-slave-0", command.Level0Master)); err != nil {
		t.Errorf("create on existing replica: %v", err)
	}
}

func TestNewSlave_RejectsMasterSpec(t *testing.T) {
	if _, err := queue.NewSlave("q-slave-0", command.Level0Master); !errors.Is(err, queue.ErrInvalidConfiguration) {
		t.Fatalf("err = %v, want ErrInvalidConfiguration", err)
	}
}
