// Package memory provides the goroutine-and-timer scheduler. Tasks live only
// for the lifetime of the process.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/agentgrid-dev/agentgrid/internal/logging"
	"github.com/agentgrid-dev/agentgrid/internal/metrics"
	"github.com/agentgrid-dev/agentgrid/rpc"
	"github.com/agentgrid-dev/agentgrid/scheduler"
)

func init() {
	scheduler.Register("RunnableSchedulerFactory", func(recv scheduler.Receiver, params map[string]any) (scheduler.Factory, error) {
		return NewFactory(recv), nil
	})
	scheduler.Deprecate("RunnableScheduler", "RunnableSchedulerFactory")
}

// Factory hands out in-process schedulers, one per agent id.
type Factory struct {
	recv   scheduler.Receiver
	mu     sync.Mutex
	agents map[string]*Scheduler
	log    zerolog.Logger
}

// NewFactory creates a factory re-injecting task firings into recv.
func NewFactory(recv scheduler.Receiver) *Factory {
	return &Factory{
		recv:   recv,
		agents: make(map[string]*Scheduler),
		log:    logging.For("scheduler.memory"),
	}
}

// Scheduler returns the scheduler for agentID, creating it on first use.
func (f *Factory) Scheduler(agentID string) scheduler.Scheduler {
	f.mu.Lock()
	defer f.mu.Unlock()

	s, ok := f.agents[agentID]
	if !ok {
		s = &Scheduler{
			agentID: agentID,
			recv:    f.recv,
			tasks:   make(map[string]*task),
			log:     f.log.With().Str("agent", agentID).Logger(),
		}
		f.agents[agentID] = s
	}
	return s
}

// Destroy cancels every task bound to agentID and drops its scheduler.
func (f *Factory) Destroy(agentID string) {
	f.mu.Lock()
	s, ok := f.agents[agentID]
	delete(f.agents, agentID)
	f.mu.Unlock()

	if ok {
		s.cancelAll()
	}
}

// Scheduler runs the tasks of a single agent.
type Scheduler struct {
	agentID string
	recv    scheduler.Receiver
	mu      sync.Mutex
	tasks   map[string]*task
	log     zerolog.Logger
}

type task struct {
	id      string
	stop    chan struct{}
	oneShot bool
}

// CreateTask schedules req for delivery to the owning agent.
func (s *Scheduler) CreateTask(req *rpc.Request, interval time.Duration, oneShot, overwrite bool) (string, error) {
	id := uuid.New().String()
	if overwrite {
		// A derived handle makes repeated creates replace the prior task
		// instead of piling up.
		id = s.agentID + ":" + req.Method
		s.CancelTask(id)
	}

	t := &task{id: id, stop: make(chan struct{}), oneShot: oneShot}

	s.mu.Lock()
	s.tasks[id] = t
	s.mu.Unlock()
	metrics.TaskStarted()

	go s.run(t, req, interval)
	return id, nil
}

func (s *Scheduler) run(t *task, req *rpc.Request, interval time.Duration) {
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-t.stop:
			return
		case <-timer.C:
			s.fire(req)
			if t.oneShot {
				s.remove(t.id)
				return
			}
			timer.Reset(interval)
		}
	}
}

func (s *Scheduler) fire(req *rpc.Request) {
	// Tasks arrive at the agent as if sent by itself.
	params := &rpc.Params{Sender: "local://" + s.agentID}
	resp, err := s.recv.Receive(context.Background(), s.agentID, req, params)
	if err != nil {
		s.log.Warn().Err(err).Str("method", req.Method).Msg("scheduled task delivery failed")
		return
	}
	if resp != nil && resp.Error != nil {
		s.log.Warn().Str("method", req.Method).Str("error", resp.Error.Message).
			Msg("scheduled task returned an error")
	}
}

// CancelTask stops future firings of the task.
func (s *Scheduler) CancelTask(taskID string) {
	s.mu.Lock()
	t, ok := s.tasks[taskID]
	if ok {
		delete(s.tasks, taskID)
	}
	s.mu.Unlock()

	if ok {
		close(t.stop)
		metrics.TaskStopped()
	}
}

// TaskIDs returns the handles of all live tasks.
func (s *Scheduler) TaskIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.tasks))
	for id := range s.tasks {
		ids = append(ids, id)
	}
	return ids
}

func (s *Scheduler) remove(taskID string) {
	s.mu.Lock()
	_, ok := s.tasks[taskID]
	delete(s.tasks, taskID)
	s.mu.Unlock()

	if ok {
		metrics.TaskStopped()
	}
}

func (s *Scheduler) cancelAll() {
	s.mu.Lock()
	tasks := s.tasks
	s.tasks = make(map[string]*task)
	s.mu.Unlock()

	for _, t := range tasks {
		close(t.stop)
		metrics.TaskStopped()
	}
}
