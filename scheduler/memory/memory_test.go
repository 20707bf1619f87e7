package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/agentgrid-dev/agentgrid/rpc"
)

// countingReceiver tallies deliveries per method and remembers the sender.
type countingReceiver struct {
	mu      sync.Mutex
	counts  map[string]int
	senders map[string]string
}

func newCountingReceiver() *countingReceiver {
	return &countingReceiver{counts: make(map[string]int), senders: make(map[string]string)}
}

func (r *countingReceiver) Receive(ctx context.Context, receiverID string, req *rpc.Request, p *rpc.Params) (*rpc.Response, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts[req.Method]++
	if p != nil {
		r.senders[req.Method] = p.Sender
	}
	return rpc.NewResponse(req.ID, nil)
}

func (r *countingReceiver) count(method string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[method]
}

func (r *countingReceiver) sender(method string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.senders[method]
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestPeriodicTaskFires(t *testing.T) {
	recv := newCountingReceiver()
	s := NewFactory(recv).Scheduler("a1")

	id, err := s.CreateTask(rpc.NewRequest("tick", nil), 10*time.Millisecond, false, false)
	if err != nil {
		t.Fatal(err)
	}
	defer s.CancelTask(id)

	waitFor(t, func() bool { return recv.count("tick") >= 3 })
	if got := recv.sender("tick"); got != "local://a1" {
		t.Fatalf("task fired with sender %q, want the agent's own local address", got)
	}
}

func TestOneShotFiresOnce(t *testing.T) {
	recv := newCountingReceiver()
	s := NewFactory(recv).Scheduler("a1")

	if _, err := s.CreateTask(rpc.NewRequest("once", nil), 10*time.Millisecond, true, false); err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool { return recv.count("once") == 1 })
	time.Sleep(50 * time.Millisecond)
	if n := recv.count("once"); n != 1 {
		t.Fatalf("one-shot task fired %d times", n)
	}
	if len(s.TaskIDs()) != 0 {
		t.Fatal("fired one-shot task should drop its handle")
	}
}

func TestCancelStopsFiring(t *testing.T) {
	recv := newCountingReceiver()
	s := NewFactory(recv).Scheduler("a1")

	id, err := s.CreateTask(rpc.NewRequest("tick", nil), 10*time.Millisecond, false, false)
	if err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return recv.count("tick") >= 1 })

	s.CancelTask(id)
	n := recv.count("tick")
	time.Sleep(50 * time.Millisecond)
	if after := recv.count("tick"); after > n+1 {
		t.Fatalf("task kept firing after cancel: %d -> %d", n, after)
	}
	if len(s.TaskIDs()) != 0 {
		t.Fatal("canceled task should drop its handle")
	}
}

func TestCancelUnknownIsNoop(t *testing.T) {
	s := NewFactory(newCountingReceiver()).Scheduler("a1")
	s.CancelTask("no-such-task")
}

func TestOverwriteKeepsSingleTask(t *testing.T) {
	recv := newCountingReceiver()
	s := NewFactory(recv).Scheduler("a1")

	id1, err := s.CreateTask(rpc.NewRequest("tick", nil), time.Hour, false, true)
	if err != nil {
		t.Fatal(err)
	}
	id2, err := s.CreateTask(rpc.NewRequest("tick", nil), time.Hour, false, true)
	if err != nil {
		t.Fatal(err)
	}

	if id1 != id2 {
		t.Fatalf("overwrite tasks should share a derived handle: %q vs %q", id1, id2)
	}
	if ids := s.TaskIDs(); len(ids) != 1 {
		t.Fatalf("expected a single live task, got %v", ids)
	}
}

func TestDestroyCancelsAgentTasks(t *testing.T) {
	recv := newCountingReceiver()
	f := NewFactory(recv)
	s := f.Scheduler("a1")

	if _, err := s.CreateTask(rpc.NewRequest("tick", nil), 10*time.Millisecond, false, false); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return recv.count("tick") >= 1 })

	f.Destroy("a1")
	n := recv.count("tick")
	time.Sleep(50 * time.Millisecond)
	if after := recv.count("tick"); after > n+1 {
		t.Fatalf("tasks kept firing after destroy: %d -> %d", n, after)
	}
}

func TestSchedulersArePerAgent(t *testing.T) {
	f := NewFactory(newCountingReceiver())
	if f.Scheduler("a1") == f.Scheduler("a2") {
		t.Fatal("agents must not share a scheduler")
	}
	if f.Scheduler("a1") != f.Scheduler("a1") {
		t.Fatal("scheduler lookup should be stable per agent")
	}
}
