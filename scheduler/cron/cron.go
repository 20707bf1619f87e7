// Package cron provides a scheduler backed by robfig/cron. Periodic tasks
// ride a shared cron runner; one-shot tasks use a plain timer since cron has
// no single-fire schedule.
package cron

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	cronv3 "github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/agentgrid-dev/agentgrid/internal/logging"
	"github.com/agentgrid-dev/agentgrid/internal/metrics"
	"github.com/agentgrid-dev/agentgrid/rpc"
	"github.com/agentgrid-dev/agentgrid/scheduler"
)

func init() {
	scheduler.Register("CronSchedulerFactory", func(recv scheduler.Receiver, params map[string]any) (scheduler.Factory, error) {
		return NewFactory(recv), nil
	})
}

// Factory hands out cron-backed schedulers, one per agent id, all sharing a
// single cron runner.
type Factory struct {
	recv   scheduler.Receiver
	runner *cronv3.Cron
	mu     sync.Mutex
	agents map[string]*Scheduler
	log    zerolog.Logger
}

// NewFactory creates a factory re-injecting task firings into recv and
// starts the shared cron runner.
func NewFactory(recv scheduler.Receiver) *Factory {
	runner := cronv3.New()
	runner.Start()
	return &Factory{
		recv:   recv,
		runner: runner,
		agents: make(map[string]*Scheduler),
		log:    logging.For("scheduler.cron"),
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
			runner:  f.runner,
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

// Stop halts the shared runner; running jobs finish, no new ones start.
func (f *Factory) Stop() {
	f.runner.Stop()
}

// Scheduler runs the tasks of a single agent on the shared cron runner.
type Scheduler struct {
	agentID string
	recv    scheduler.Receiver
	runner  *cronv3.Cron
	mu      sync.Mutex
	tasks   map[string]*task
	log     zerolog.Logger
}

type task struct {
	id    string
	entry cronv3.EntryID // periodic tasks
	timer *time.Timer    // one-shot tasks
}

// CreateTask schedules req for delivery to the owning agent.
func (s *Scheduler) CreateTask(req *rpc.Request, interval time.Duration, oneShot, overwrite bool) (string, error) {
	id := uuid.New().String()
	if overwrite {
		id = s.agentID + ":" + req.Method
		s.CancelTask(id)
	}

	t := &task{id: id}
	if oneShot {
		t.timer = time.AfterFunc(interval, func() {
			s.fire(req)
			s.remove(id)
		})
	} else {
		t.entry = s.runner.Schedule(cronv3.Every(interval), cronv3.FuncJob(func() {
			s.fire(req)
		}))
	}

	s.mu.Lock()
	s.tasks[id] = t
	s.mu.Unlock()
	metrics.TaskStarted()

	return id, nil
}

func (s *Scheduler) fire(req *rpc.Request) {
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

	if !ok {
		return
	}
	s.release(t)
	metrics.TaskStopped()
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

func (s *Scheduler) release(t *task) {
	if t.timer != nil {
		t.timer.Stop()
	} else {
		s.runner.Remove(t.entry)
	}
}

func (s *Scheduler) cancelAll() {
	s.mu.Lock()
	tasks := s.tasks
	s.tasks = make(map[string]*task)
	s.mu.Unlock()

	for _, t := range tasks {
		s.release(t)
		metrics.TaskStopped()
	}
}
