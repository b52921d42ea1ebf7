package journal_test

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/snehjoshi/replq/internal/command"
	"github.com/snehjoshi/replq/internal/journal"
	"github.com/snehjoshi/replq/internal/node"
	"github.com/snehjoshi/replq/internal/replication"
)

func openJournal(t *testing.T) (*journal.Journal, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := journal.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = j.Close() })
	return j, path
}

func event(typ replication.EventType, target string, err error) replication.Event {
	return replication.Event{
		Type:    typ,
		ID:      node.MustNewID(),
		Command: command.PushTask(target, []byte("p")),
		Err:     err,
		At:      time.Now(),
	}
}

func TestObserve_RecordsOnlyFailuresAndDrops(t *testing.T) {
	j, _ := openJournal(t)

	j.Observe(event(replication.EventDispatched, "a-slave-0", nil))
	j.Observe(event(replication.EventDelivered, "a-slave-0", nil))
	j.Observe(event(replication.EventFailed, "a-slave-0", errors.New("boom")))
	j.Observe(event(replication.EventDropped, "a-slave-1", errors.New("lane full")))

	n, err := j.Count()
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 2 {
		t.Fatalf("Count = %d, want 2", n)
	}

	recs, err := j.List(0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if recs[0].Event != "failed" || recs[0].Error != "boom" {
		t.Errorf("first record = %+v, want failed/boom", recs[0])
	}
	if recs[1].Event != "dropped" || recs[1].Command.Target() != "a-slave-1" {
		t.Errorf("second record = %+v, want dropped on a-slave-1", recs[1])
	}
	if !recs[0].Command.Equal(command.PushTask("a-slave-0", []byte("p"))) {
		t.Errorf("command did not survive the round trip: %s", recs[0].Command)
	}
	if j.WriteErrors() != 0 {
		t.Errorf("WriteErrors = %d, want 0", j.WriteErrors())
	}
}

func TestList_LimitKeepsNewest(t *testing.T) {
	j, _ := openJournal(t)
	var ids []string
	for i := 0; i < 5; i++ {
		e := event(replication.EventFailed, "q-slave-0", errors.New("x"))
		ids = append(ids, e.ID)
		j.Observe(e)
	}

	recs, err := j.List(2)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("len = %d, want 2", len(recs))
	}
	if recs[0].ID != ids[3] || recs[1].ID != ids[4] {
		t.Errorf("got ids %s,%s want %s,%s", recs[0].ID, recs[1].ID, ids[3], ids[4])
	}
}

func TestAppend_AssignsIDAndTime(t *testing.T) {
	j, _ := openJournal(t)
	if err := j.Append(journal.Record{Event: "failed", Command: command.PopTask("q-slave-0")}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	recs, _ := j.List(0)
	if len(recs) != 1 {
		t.Fatalf("len = %d, want 1", len(recs))
	}
	if recs[0].ID == "" {
		t.Error("ID not assigned")
	}
	if recs[0].At.IsZero() {
		t.Error("At not assigned")
	}
}

func TestForTarget(t *testing.T) {
	j, _ := openJournal(t)
	j.Observe(event(replication.EventFailed, "a-slave-0", errors.New("x")))
	j.Observe(event(replication.EventFailed, "a-slave-1", errors.New("x")))
	j.Observe(event(replication.EventDropped, "a-slave-0", errors.New("x")))

	recs, err := j.ForTarget("a-slave-0")
	if err != nil {
		t.Fatalf("ForTarget: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("len = %d, want 2", len(recs))
	}
	for _, r := range recs {
		if r.Command.Target() != "a-slave-0" {
			t.Errorf("unexpected target %q", r.Command.Target())
		}
	}
}

func TestJournal_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := journal.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	j.Observe(event(replication.EventFailed, "a-slave-0", errors.New("x")))
	if err := j.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	j2, err := journal.Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(func() { _ = j2.Close() })
	if n, _ := j2.Count(); n != 1 {
		t.Fatalf("Count after reopen = %d, want 1", n)
	}
}

func TestJournal_AfterClose(t *testing.T) {
	j, _ := openJournal(t)
	if err := j.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := j.Append(journal.Record{}); !errors.Is(err, journal.ErrClosed) {
		t.Fatalf("Append after close: err = %v, want ErrClosed", err)
	}
	j.Observe(event(replication.EventFailed, "a-slave-0", errors.New("x")))
	if j.WriteErrors() != 1 {
		t.Fatalf("WriteErrors = %d, want 1", j.WriteErrors())
	}
}
