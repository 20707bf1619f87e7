// Package agentgrid is a runtime for stateful, addressable agents. Agents
// are instantiated on demand from the type recorded in their persistent
// state, invoked through a uniform request/response model, and reached either
// in-process or over pluggable transports. Scheduled tasks re-enter the same
// dispatch path as any other request.
//
// State stores, transport services, and scheduler factories are pluggable
// backends selected by registered alias, so a host can be reconfigured from
// in-memory development settings to redis-backed, networked deployments
// without touching agent code.
package agentgrid

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/agentgrid-dev/agentgrid/internal/logging"
	"github.com/agentgrid-dev/agentgrid/internal/metrics"
	"github.com/agentgrid-dev/agentgrid/transport"

	// Default backends, always available without configuration.
	_ "github.com/agentgrid-dev/agentgrid/scheduler/memory"
	_ "github.com/agentgrid-dev/agentgrid/state/memory"
	_ "github.com/agentgrid-dev/agentgrid/transport/http"
)

var (
	defaultMu   sync.RWMutex
	defaultHost *Host
)

// Default returns the process-wide host, or nil before SetDefault.
func Default() *Host {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultHost
}

// SetDefault installs the process-wide host.
func SetDefault(h *Host) {
	defaultMu.Lock()
	defaultHost = h
	defaultMu.Unlock()
}

// handlerProvider is implemented by transports that accept inbound requests
// over HTTP, plain or upgraded.
type handlerProvider interface {
	Handler() http.Handler
}

// Run loads the config at path, builds a host, and serves its inbound
// transports plus the metrics endpoint until the process is signaled.
func Run(ctx context.Context, path string) error {
	cfg, err := LoadConfig(path)
	if err != nil {
		return err
	}
	logging.Setup(cfg.Logging)
	metrics.Init()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	h, err := NewFromConfig(ctx, cfg)
	if err != nil {
		return err
	}
	defer h.Close()
	SetDefault(h)

	log := logging.For("serve")
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	for _, svc := range h.Transports() {
		hp, ok := svc.(handlerProvider)
		if !ok {
			continue
		}
		path := mountPath(svc)
		mux.Handle(path, hp.Handler())
		log.Info().Str("path", path).Strs("protocols", svc.Protocols()).
			Msg("transport mounted")
	}

	listen := cfg.Listen
	if listen == "" {
		listen = ":8080"
	}
	srv := &http.Server{
		Addr:              listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", listen).Msg("listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// mountPath picks where a transport's inbound handler is served. HTTP
// transports answer under /agents/, websocket ones under /ws.
func mountPath(svc transport.Service) string {
	for _, p := range svc.Protocols() {
		if p == "ws" || p == "wss" {
			return "/ws"
		}
	}
	return "/agents/"
}
