package cron

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/agentgrid-dev/agentgrid/rpc"
)

type countingReceiver struct {
	mu     sync.Mutex
	counts map[string]int
}

func newCountingReceiver() *countingReceiver {
	return &countingReceiver{counts: make(map[string]int)}
}

func (r *countingReceiver) Receive(ctx context.Context, receiverID string, req *rpc.Request, p *rpc.Params) (*rpc.Response, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts[req.Method]++
	return rpc.NewResponse(req.ID, nil)
}

func (r *countingReceiver) count(method string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[method]
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestPeriodicTaskFires(t *testing.T) {
	recv := newCountingReceiver()
	f := NewFactory(recv)
	defer f.Stop()
	s := f.Scheduler("a1")

	id, err := s.CreateTask(rpc.NewRequest("tick", nil), 20*time.Millisecond, false, false)
	if err != nil {
		t.Fatal(err)
	}
	defer s.CancelTask(id)

	waitFor(t, func() bool { return recv.count("tick") >= 2 })
}

func TestOneShotFiresOnce(t *testing.T) {
	recv := newCountingReceiver()
	f := NewFactory(recv)
	defer f.Stop()
	s := f.Scheduler("a1")

	if _, err := s.CreateTask(rpc.NewRequest("once", nil), 20*time.Millisecond, true, false); err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool { return recv.count("once") == 1 })
	time.Sleep(80 * time.Millisecond)
	if n := recv.count("once"); n != 1 {
		t.Fatalf("one-shot task fired %d times", n)
	}
	if len(s.TaskIDs()) != 0 {
		t.Fatal("fired one-shot task should drop its handle")
	}
}

func TestCancelStopsFiring(t *testing.T) {
	recv := newCountingReceiver()
	f := NewFactory(recv)
	defer f.Stop()
	s := f.Scheduler("a1")

	id, err := s.CreateTask(rpc.NewRequest("tick", nil), 20*time.Millisecond, false, false)
	if err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return recv.count("tick") >= 1 })

	s.CancelTask(id)
	n := recv.count("tick")
	time.Sleep(100 * time.Millisecond)
	if after := recv.count("tick"); after > n+1 {
		t.Fatalf("task kept firing after cancel: %d -> %d", n, after)
	}
}

func TestOverwriteKeepsSingleTask(t *testing.T) {
	recv := newCountingReceiver()
	f := NewFactory(recv)
	defer f.Stop()
	s := f.Scheduler("a1")

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
	defer f.Stop()
	s := f.Scheduler("a1")

	if _, err := s.CreateTask(rpc.NewRequest("tick", nil), 20*time.Millisecond, false, false); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return recv.count("tick") >= 1 })

	f.Destroy("a1")
	n := recv.count("tick")
	time.Sleep(100 * time.Millisecond)
	if after := recv.count("tick"); after > n+1 {
		t.Fatalf("tasks kept firing after destroy: %d -> %d", n, after)
	}
}
