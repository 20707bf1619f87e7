// Package monitor keeps an agent subscribed to remote values. A monitor
// names an operation on a remote agent; an attached poll re-fetches that
// operation's result on an interval through the owner's scheduler and keeps
// the latest value in the owner's state.
package monitor

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/agentgrid-dev/agentgrid/agent"
	"github.com/agentgrid-dev/agentgrid/internal/logging"
	"github.com/agentgrid-dev/agentgrid/rpc"
)

const (
	// OpDoPoll is the operation name poll tasks are addressed to. An owning
	// agent must route it to Manager.DoPoll, typically by merging
	// Manager.Operations into its own table.
	OpDoPoll = "monitor.doPoll"

	monitorsKey     = "monitors"
	resultKeyPrefix = "monitor.result."
)

// Poll describes the periodic re-fetch of a monitor. TaskID is the handle of
// the live scheduler task, empty while the poll is stopped.
type Poll struct {
	Interval time.Duration `json:"interval"`
	TaskID   string        `json:"taskId,omitempty"`
}

// Monitor is one remote subscription.
type Monitor struct {
	ID     string         `json:"id"`
	URL    string         `json:"url"`
	Method string         `json:"method"`
	Params map[string]any `json:"params,omitempty"`
	Poll   *Poll          `json:"poll,omitempty"`
}

// ChangeFunc observes a monitored value that differs from the previously
// stored one.
type ChangeFunc func(monitorID string, value json.RawMessage)

// Manager owns the monitor table of a single agent. It holds no state of its
// own; the table and the fetched results live in the owner's state, so a
// manager can be rebuilt on every instantiation of the agent.
type Manager struct {
	host     agent.Host
	owner    agent.Agent
	onChange ChangeFunc
	log      zerolog.Logger
}

// NewManager builds a manager for owner, bound to h for sending and
// scheduling.
func NewManager(h agent.Host, owner agent.Agent) *Manager {
	return &Manager{
		host:  h,
		owner: owner,
		log:   logging.For("monitor").With().Str("agent", owner.ID()).Logger(),
	}
}

// OnChange registers fn to run whenever a poll fetches a value different from
// the stored one. Callbacks run on the polling goroutine.
func (m *Manager) OnChange(fn ChangeFunc) {
	m.onChange = fn
}

// Operations returns the handler table the owning agent merges into its own,
// wiring poll task firings back into DoPoll.
func (m *Manager) Operations() map[string]rpc.Handler {
	return map[string]rpc.Handler{
		OpDoPoll: func(ctx context.Context, c *rpc.Call) (any, error) {
			id, ok := c.String("monitorId")
			if !ok {
				return nil, rpc.Errorf(rpc.KindInvocation, "missing parameter %q", "monitorId")
			}
			return nil, m.DoPoll(ctx, id)
		},
	}
}

// Add registers mon, primes its value with one immediate fetch, and starts
// its poll if one is configured. Returns the monitor id.
func (m *Manager) Add(ctx context.Context, mon *Monitor) (string, error) {
	if mon.URL == "" || mon.Method == "" {
		return "", rpc.Errorf(rpc.KindConfiguration, "monitor needs a url and a method")
	}
	if mon.ID == "" {
		mon.ID = uuid.New().String()
	}

	monitors := m.load()
	monitors[mon.ID] = mon
	if err := m.store(monitors); err != nil {
		return "", err
	}

	if mon.Poll != nil {
		// Prime the value before the first interval elapses. A failing first
		// fetch is logged, not fatal; the poll keeps trying.
		if err := m.DoPoll(ctx, mon.ID); err != nil {
			m.log.Warn().Err(err).Str("monitor", mon.ID).Msg("initial poll failed")
		}
		if err := m.StartPoll(mon.ID); err != nil {
			return "", err
		}
	}
	return mon.ID, nil
}

// Remove stops the monitor's poll, drops it from the table, and discards its
// stored result.
func (m *Manager) Remove(id string) error {
	if err := m.StopPoll(id); err != nil {
		m.log.Warn().Err(err).Str("monitor", id).Msg("cannot stop poll during removal")
	}

	monitors := m.load()
	if _, ok := monitors[id]; !ok {
		return nil
	}
	delete(monitors, id)
	if err := m.store(monitors); err != nil {
		return err
	}
	return m.owner.State().Remove(resultKeyPrefix + id)
}

// Get returns the monitor registered under id.
func (m *Manager) Get(id string) (*Monitor, bool) {
	mon, ok := m.load()[id]
	return mon, ok
}

// List returns every registered monitor.
func (m *Manager) List() []*Monitor {
	monitors := m.load()
	out := make([]*Monitor, 0, len(monitors))
	for _, mon := range monitors {
		out = append(out, mon)
	}
	return out
}

// StartPoll (re)starts the monitor's poll. Any previous task owned by the
// poll is canceled first, so a monitor never accumulates more than one task.
func (m *Manager) StartPoll(id string) error {
	monitors := m.load()
	mon, ok := monitors[id]
	if !ok {
		return rpc.Errorf(rpc.KindNotFound, "unknown monitor %q", id)
	}
	if mon.Poll == nil {
		return rpc.Errorf(rpc.KindConfiguration, "monitor %q has no poll", id)
	}

	sched, err := m.host.Scheduler(m.owner)
	if err != nil {
		return err
	}
	if mon.Poll.TaskID != "" {
		sched.CancelTask(mon.Poll.TaskID)
		mon.Poll.TaskID = ""
	}

	req := rpc.NewRequest(OpDoPoll, map[string]any{"monitorId": mon.ID})
	taskID, err := sched.CreateTask(req, mon.Poll.Interval, false, false)
	if err != nil {
		return err
	}
	mon.Poll.TaskID = taskID
	return m.store(monitors)
}

// StopPoll cancels the monitor's task if it has one. Stopping an already
// stopped poll is a no-op.
func (m *Manager) StopPoll(id string) error {
	monitors := m.load()
	mon, ok := monitors[id]
	if !ok || mon.Poll == nil || mon.Poll.TaskID == "" {
		return nil
	}

	sched, err := m.host.Scheduler(m.owner)
	if err != nil {
		return err
	}
	sched.CancelTask(mon.Poll.TaskID)
	mon.Poll.TaskID = ""
	return m.store(monitors)
}

// DoPoll fetches the monitored value once and stores it. The change callback
// runs when the fetched value differs from the stored one.
func (m *Manager) DoPoll(ctx context.Context, id string) error {
	mon, ok := m.load()[id]
	if !ok {
		return rpc.Errorf(rpc.KindNotFound, "unknown monitor %q", id)
	}

	resp, err := m.host.Send(ctx, m.owner, mon.URL, rpc.NewRequest(mon.Method, mon.Params))
	if err != nil {
		return err
	}
	if resp.Error != nil {
		return resp.Error
	}

	key := resultKeyPrefix + id
	st := m.owner.State()
	prev, had := st.GetString(key)
	value := string(resp.Result)
	if err := st.Put(key, value); err != nil {
		return err
	}
	if m.onChange != nil && (!had || prev != value) {
		m.onChange(id, resp.Result)
	}
	return nil
}

// Result decodes the last fetched value of the monitor into v. Returns false
// when no value has been fetched yet.
func (m *Manager) Result(id string, v any) (bool, error) {
	raw, ok := m.owner.State().GetString(resultKeyPrefix + id)
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return true, rpc.Wrap(rpc.KindInvocation, err, "decode monitor %q result", id)
	}
	return true, nil
}

func (m *Manager) load() map[string]*Monitor {
	monitors := make(map[string]*Monitor)
	if _, err := m.owner.State().Decode(monitorsKey, &monitors); err != nil {
		m.log.Warn().Err(err).Msg("cannot decode monitor table")
	}
	return monitors
}

func (m *Manager) store(monitors map[string]*Monitor) error {
	return m.owner.State().Put(monitorsKey, monitors)
}
