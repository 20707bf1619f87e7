package agentgrid

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/agentgrid-dev/agentgrid/agent"
	"github.com/agentgrid-dev/agentgrid/internal/logging"
	"github.com/agentgrid-dev/agentgrid/internal/metrics"
	"github.com/agentgrid-dev/agentgrid/rpc"
	"github.com/agentgrid-dev/agentgrid/scheduler"
	"github.com/agentgrid-dev/agentgrid/state"
	"github.com/agentgrid-dev/agentgrid/transport"
)

// schedulerWait bounds how long dispatch blocks for the scheduler subsystem
// to finish wiring at startup.
const schedulerWait = 30 * time.Second

// bootConcurrency bounds how many agents boot in parallel.
const bootConcurrency = 8

// Host is the agent runtime: it instantiates agents from their recorded type,
// routes requests between them locally or over transports, and wires the
// pluggable state, transport, and scheduler backends together.
//
// A zero Host is not usable; construct one with New or NewFromConfig.
type Host struct {
	registry *agent.Registry
	cache    *agentCache
	shortcut bool

	mu         sync.RWMutex
	store      state.Store
	transports []transport.Service

	schedMu      sync.Mutex
	schedCond    *sync.Cond
	schedFactory scheduler.Factory

	log zerolog.Logger
}

// Option configures a Host at construction time.
type Option func(*Host)

// WithRegistry uses r instead of the process-wide agent type registry.
func WithRegistry(r *agent.Registry) Option {
	return func(h *Host) { h.registry = r }
}

// WithLocalShortcut enables or disables in-process dispatch for agents living
// on this host. On by default; disable it to force every request through a
// transport.
func WithLocalShortcut(enabled bool) Option {
	return func(h *Host) { h.shortcut = enabled }
}

// WithStore sets the state store.
func WithStore(s state.Store) Option {
	return func(h *Host) { h.store = s }
}

// New builds a host with the given options. Backends left unset stay unset;
// dispatch reports a configuration error when it first needs one.
func New(opts ...Option) *Host {
	h := &Host{
		registry: agent.DefaultRegistry(),
		cache:    newAgentCache(),
		shortcut: true,
		log:      logging.For("host"),
	}
	h.schedCond = sync.NewCond(&h.schedMu)
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// SetStore replaces the state store.
func (h *Host) SetStore(s state.Store) {
	h.mu.Lock()
	h.store = s
	h.mu.Unlock()
}

// Store returns the configured state store.
func (h *Host) Store() (state.Store, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.store == nil {
		return nil, rpc.Errorf(rpc.KindConfiguration, "no state store initialized")
	}
	return h.store, nil
}

// AddTransport registers a transport service. Services are consulted in
// registration order when resolving addresses.
func (h *Host) AddTransport(svc transport.Service) {
	h.mu.Lock()
	h.transports = append(h.transports, svc)
	h.mu.Unlock()
}

// Transports returns the registered transport services.
func (h *Host) Transports() []transport.Service {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]transport.Service, len(h.transports))
	copy(out, h.transports)
	return out
}

// SetSchedulerFactory installs the scheduler backend and wakes every dispatch
// blocked waiting for it.
func (h *Host) SetSchedulerFactory(f scheduler.Factory) {
	h.schedMu.Lock()
	h.schedFactory = f
	h.schedMu.Unlock()
	h.schedCond.Broadcast()
}

// Scheduler returns the scheduler bound to a. During startup there is a
// window where agents already dispatch while the scheduler backend is still
// wiring; callers block here until the factory lands or the wait bound
// expires.
func (h *Host) Scheduler(a agent.Agent) (scheduler.Scheduler, error) {
	deadline := time.Now().Add(schedulerWait)

	h.schedMu.Lock()
	for h.schedFactory == nil {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		wake := time.AfterFunc(remaining, func() {
			h.schedMu.Lock()
			h.schedCond.Broadcast()
			h.schedMu.Unlock()
		})
		h.schedCond.Wait()
		wake.Stop()
	}
	f := h.schedFactory
	h.schedMu.Unlock()

	if f == nil {
		err := rpc.Errorf(rpc.KindConfiguration,
			"scheduler factory not initialized after %s", schedulerWait)
		h.log.Error().Str("agent", a.ID()).Msg(err.Message)
		return nil, err
	}
	return f.Scheduler(a.ID()), nil
}

func (h *Host) schedulerFactory() scheduler.Factory {
	h.schedMu.Lock()
	defer h.schedMu.Unlock()
	return h.schedFactory
}

// HasAgent reports whether an agent with the given id exists, by state alone.
// It never instantiates the agent.
func (h *Host) HasAgent(ctx context.Context, agentID string) (bool, error) {
	store, err := h.Store()
	if err != nil {
		return false, err
	}
	return store.Exists(ctx, agentID)
}

// GetAgent returns the agent with the given id, instantiating it from its
// recorded type when it is not cached. A missing agent is (nil, nil): absence
// is a normal outcome, not a failure.
func (h *Host) GetAgent(ctx context.Context, agentID string) (agent.Agent, error) {
	if agentID == "" {
		return nil, nil
	}
	if a, ok := h.cache.get(agentID); ok {
		return a, nil
	}

	store, err := h.Store()
	if err != nil {
		return nil, err
	}
	st, err := store.Get(ctx, agentID)
	if errors.Is(err, state.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := st.Init(); err != nil {
		return nil, err
	}

	typeName := st.AgentType()
	if typeName == "" {
		return nil, rpc.Errorf(rpc.KindConfiguration,
			"cannot instantiate agent %q: no type recorded in its state", agentID)
	}
	t, ok := h.registry.Lookup(typeName)
	if !ok {
		return nil, rpc.Errorf(rpc.KindConfiguration,
			"cannot instantiate agent %q: unknown type %q", agentID, typeName)
	}

	a := t.New()
	a.Bind(h, agentID, st)
	if err := a.Init(); err != nil {
		return nil, rpc.Wrap(rpc.KindInvocation, err, "init agent %q", agentID)
	}

	if t.ThreadSafe {
		h.cache.put(agentID, a)
		// A concurrent delete may have removed the state between our read and
		// the cache put. Re-checking keeps the cache and store consistent.
		if exists, err := store.Exists(ctx, agentID); err == nil && !exists {
			h.cache.delete(agentID)
			return nil, nil
		}
	}
	return a, nil
}

// CreateAgent creates a new agent of the registered type under agentID.
// Creating an id that already has state fails with a duplicate error and
// leaves the existing agent untouched.
func (h *Host) CreateAgent(ctx context.Context, typeName, agentID string) (agent.Agent, error) {
	t, ok := h.registry.Lookup(typeName)
	if !ok {
		return nil, rpc.Errorf(rpc.KindConfiguration, "unknown agent type %q", typeName)
	}

	a := t.New()
	for _, violation := range rpc.ValidateOperations(a.Operations()) {
		h.log.Warn().Str("type", typeName).Str("agent", agentID).Msg(violation)
	}

	store, err := h.Store()
	if err != nil {
		return nil, err
	}
	st, err := store.Create(ctx, agentID)
	if errors.Is(err, state.ErrExists) {
		return nil, rpc.Errorf(rpc.KindDuplicate, "agent %q already exists", agentID)
	}
	if err != nil {
		return nil, err
	}
	if err := st.SetAgentType(typeName); err != nil {
		return nil, err
	}
	if err := st.Init(); err != nil {
		return nil, err
	}

	a.Bind(h, agentID, st)
	if err := a.Create(); err != nil {
		return nil, rpc.Wrap(rpc.KindInvocation, err, "create agent %q", agentID)
	}
	if err := a.Init(); err != nil {
		return nil, rpc.Wrap(rpc.KindInvocation, err, "init agent %q", agentID)
	}

	if t.ThreadSafe {
		h.cache.put(agentID, a)
	}
	h.log.Info().Str("agent", agentID).Str("type", typeName).Msg("agent created")
	return a, nil
}

// DeleteAgent removes the agent: cancels its scheduled tasks, runs its
// destroy and delete hooks best-effort, evicts it from the cache, and deletes
// its state. State deletion happens even when instantiation or the hooks
// fail, so an agent can never become undeletable. Deleting an id with no
// state is a no-op.
func (h *Host) DeleteAgent(ctx context.Context, agentID string) error {
	store, err := h.Store()
	if err != nil {
		return err
	}
	exists, err := store.Exists(ctx, agentID)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}

	a, err := h.GetAgent(ctx, agentID)
	if err != nil {
		h.log.Warn().Err(err).Str("agent", agentID).
			Msg("cannot instantiate agent for deletion, removing state anyway")
	}

	if f := h.schedulerFactory(); f != nil {
		f.Destroy(agentID)
	}
	if a != nil {
		h.runHook(agentID, "destroy", a.Destroy)
		h.runHook(agentID, "delete", a.Delete)
	}

	h.cache.delete(agentID)
	if err := store.Delete(ctx, agentID); err != nil {
		return err
	}
	// The eviction must also follow the state removal: a concurrent
	// instantiation may have re-cached the agent between the first eviction
	// and the delete, and its existence re-check can still see the old state.
	h.cache.delete(agentID)
	h.log.Info().Str("agent", agentID).Msg("agent deleted")
	return nil
}

// runHook shields deletion from a panicking lifecycle hook.
func (h *Host) runHook(agentID, name string, hook func()) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Warn().Str("agent", agentID).Str("hook", name).
				Msgf("lifecycle hook panicked: %v", r)
		}
	}()
	hook()
}

// Boot instantiates every stored agent and runs its boot hook, so agents can
// re-establish schedules and connections after a restart. Boot is
// best-effort: one corrupt agent never blocks the rest.
func (h *Host) Boot(ctx context.Context) error {
	store, err := h.Store()
	if err != nil {
		return err
	}
	ids, err := store.AllIDs(ctx)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(bootConcurrency)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			a, err := h.GetAgent(ctx, id)
			if err != nil {
				h.log.Warn().Err(err).Str("agent", id).Msg("cannot boot agent")
				return nil
			}
			if a == nil {
				return nil
			}
			if err := a.Boot(); err != nil {
				h.log.Warn().Err(err).Str("agent", id).Msg("agent boot hook failed")
			}
			a.Destroy()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	h.log.Info().Int("agents", len(ids)).Msg("boot complete")
	return nil
}

// AgentID resolves a URL to the id of an agent living on this host, or ""
// when the URL does not address one. The local scheme is always recognized;
// every transport gets a chance at the rest.
func (h *Host) AgentID(url string) string {
	if strings.HasPrefix(url, "local:") {
		return strings.TrimPrefix(strings.TrimPrefix(url, "local:"), "//")
	}
	for _, svc := range h.Transports() {
		if id := svc.AgentID(url); id != "" {
			return id
		}
	}
	return ""
}

// AgentURLs returns every address at which the agent is reachable, the
// in-process one first.
func (h *Host) AgentURLs(agentID string) []string {
	urls := []string{"local://" + agentID}
	for _, svc := range h.Transports() {
		if u := svc.AgentURL(agentID); u != "" {
			urls = append(urls, u)
		}
	}
	return urls
}

// SenderURL resolves the address the sender is reachable at for a message
// going to receiverURL, matched by protocol so the receiver can reply over
// the same transport.
func (h *Host) SenderURL(senderID, receiverURL string) string {
	if senderID == "" {
		return ""
	}
	if strings.HasPrefix(receiverURL, "local:") {
		return "local://" + senderID
	}
	scheme := urlScheme(receiverURL)
	for _, svc := range h.Transports() {
		if !serves(svc, scheme) {
			continue
		}
		if u := svc.AgentURL(senderID); u != "" {
			return u
		}
	}
	return ""
}

// Send dispatches req to the agent at receiverURL and blocks for the
// response. When the receiver lives on this host and the local shortcut is
// enabled, the request never touches a transport.
func (h *Host) Send(ctx context.Context, sender agent.Agent, receiverURL string, req *rpc.Request) (*rpc.Response, error) {
	senderURL := ""
	if sender != nil {
		senderURL = h.SenderURL(sender.ID(), receiverURL)
	}

	if receiverID := h.AgentID(receiverURL); receiverID != "" && h.shortcut {
		start := time.Now()
		resp, err := h.Receive(ctx, receiverID, req, &rpc.Params{Sender: senderURL})
		metrics.RecordDispatch("local", dispatchStatus(resp, err), time.Since(start))
		return resp, err
	}

	svc, err := h.transportFor(receiverURL)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	resp, sendErr := svc.Send(ctx, senderURL, receiverURL, req)
	metrics.RecordDispatch("transport", dispatchStatus(resp, sendErr), time.Since(start))
	return resp, sendErr
}

// SendAsync dispatches req without blocking the caller; cb observes the
// response or failure exactly once. A receiver URL no transport serves is
// reported synchronously.
func (h *Host) SendAsync(ctx context.Context, sender agent.Agent, receiverURL string, req *rpc.Request, cb rpc.Callback) error {
	senderURL := ""
	if sender != nil {
		senderURL = h.SenderURL(sender.ID(), receiverURL)
	}

	if receiverID := h.AgentID(receiverURL); receiverID != "" && h.shortcut {
		go func() {
			start := time.Now()
			resp, err := h.Receive(ctx, receiverID, req, &rpc.Params{Sender: senderURL})
			metrics.RecordDispatch("local", dispatchStatus(resp, err), time.Since(start))
			if err != nil {
				cb(nil, err)
				return
			}
			cb(resp, nil)
		}()
		return nil
	}

	svc, err := h.transportFor(receiverURL)
	if err != nil {
		return err
	}
	svc.SendAsync(ctx, senderURL, receiverURL, req, cb)
	return nil
}

// Receive is the landing point for every inbound request, whether it arrived
// over a transport, from the scheduler, or through the local shortcut. The
// receiving agent is dropped after the request; agents must not assume they
// stay instantiated between independent requests.
func (h *Host) Receive(ctx context.Context, receiverID string, req *rpc.Request, p *rpc.Params) (*rpc.Response, error) {
	a, err := h.GetAgent(ctx, receiverID)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, rpc.Errorf(rpc.KindNotFound, "agent %q not found", receiverID)
	}

	resp := rpc.Invoke(ctx, a.Operations(), req, p)
	a.Destroy()
	return resp, nil
}

// transportFor returns the first transport serving the URL's scheme.
func (h *Host) transportFor(receiverURL string) (transport.Service, error) {
	scheme := urlScheme(receiverURL)
	for _, svc := range h.Transports() {
		if serves(svc, scheme) {
			return svc, nil
		}
	}
	return nil, rpc.Errorf(rpc.KindProtocol,
		"no transport service configured for protocol %q", scheme)
}

func serves(svc transport.Service, scheme string) bool {
	for _, p := range svc.Protocols() {
		if p == scheme {
			return true
		}
	}
	return false
}

func urlScheme(url string) string {
	if i := strings.Index(url, ":"); i > 0 {
		return strings.ToLower(url[:i])
	}
	return ""
}

func dispatchStatus(resp *rpc.Response, err error) string {
	if err != nil || (resp != nil && resp.Error != nil) {
		return "error"
	}
	return "ok"
}

// Close releases the host's backends: live schedulers keep firing otherwise.
func (h *Host) Close() error {
	if f := h.schedulerFactory(); f != nil {
		if stopper, ok := f.(interface{ Stop() }); ok {
			stopper.Stop()
		}
	}
	store, err := h.Store()
	if err != nil {
		return nil
	}
	return store.Close()
}

var _ agent.Host = (*Host)(nil)
var _ transport.Receiver = (*Host)(nil)
var _ scheduler.Receiver = (*Host)(nil)

// String identifies the host in logs.
func (h *Host) String() string {
	return fmt.Sprintf("host(transports=%d, cached=%d)", len(h.Transports()), h.cache.len())
}
