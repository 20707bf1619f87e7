// Package ws provides a WebSocket transport binding. It exercises the same
// contract as the HTTP binding over a second protocol family: each Send
// dials the receiver, exchanges one envelope, and closes; the server side
// answers every envelope on the connection until the peer hangs up.
package ws

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/agentgrid-dev/agentgrid/internal/logging"
	"github.com/agentgrid-dev/agentgrid/internal/metrics"
	"github.com/agentgrid-dev/agentgrid/rpc"
	"github.com/agentgrid-dev/agentgrid/transport"
)

func init() {
	transport.Register("WebsocketService", func(recv transport.Receiver, params map[string]any) (transport.Service, error) {
		cfg := Config{}
		if baseURL, ok := params["base_url"].(string); ok {
			cfg.BaseURL = baseURL
		}
		return New(recv, cfg), nil
	})
}

const defaultTimeout = 30 * time.Second

// envelope frames a request with its out-of-band sender address.
type envelope struct {
	Sender  string       `json:"sender,omitempty"`
	Request *rpc.Request `json:"request"`
}

// Config holds the WebSocket binding configuration.
type Config struct {
	// BaseURL is the address prefix under which this host's agents are
	// reachable, e.g. "ws://localhost:8080/agents/". Empty means
	// outbound-only.
	BaseURL string
	// Timeout bounds each outbound exchange. Zero means 30s.
	Timeout time.Duration
}

// Service is the WebSocket transport binding.
type Service struct {
	baseURL  string
	recv     transport.Receiver
	timeout  time.Duration
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

// New creates a WebSocket transport service bound to recv.
func New(recv transport.Receiver, cfg Config) *Service {
	baseURL := cfg.BaseURL
	if baseURL != "" && !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	return &Service{
		baseURL: baseURL,
		recv:    recv,
		timeout: timeout,
		log:     logging.For("transport.ws"),
	}
}

// Protocols returns the URI schemes this service owns.
func (s *Service) Protocols() []string { return []string{"ws", "wss"} }

// AgentID resolves an agent id from a URL under this service's base URL.
func (s *Service) AgentID(url string) string {
	if s.baseURL == "" || !strings.HasPrefix(url, s.baseURL) {
		return ""
	}
	return strings.Trim(strings.TrimPrefix(url, s.baseURL), "/")
}

// AgentURL returns the address of an agent hosted here.
func (s *Service) AgentURL(agentID string) string {
	if s.baseURL == "" {
		return ""
	}
	return s.baseURL + agentID
}

// Send dials the receiver, exchanges one envelope, and blocks for the
// response.
func (s *Service) Send(ctx context.Context, senderURL, receiverURL string, req *rpc.Request) (*rpc.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, receiverURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", receiverURL, err)
	}
	defer func() { _ = conn.Close() }()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
		_ = conn.SetReadDeadline(deadline)
	}

	if err := conn.WriteJSON(&envelope{Sender: senderURL, Request: req}); err != nil {
		return nil, fmt.Errorf("write to %s: %w", receiverURL, err)
	}

	var resp rpc.Response
	if err := conn.ReadJSON(&resp); err != nil {
		return nil, fmt.Errorf("read from %s: %w", receiverURL, err)
	}
	return &resp, nil
}

// SendAsync performs the exchange on a separate goroutine; cb observes the
// outcome exactly once.
func (s *Service) SendAsync(ctx context.Context, senderURL, receiverURL string, req *rpc.Request, cb rpc.Callback) {
	go func() {
		resp, err := s.Send(ctx, senderURL, receiverURL, req)
		if err != nil {
			cb(nil, err)
			return
		}
		cb(resp, nil)
	}()
}

// Handler returns the server side of the binding. The agent id is the last
// path segment of the upgrade URL.
func (s *Service) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agentID := strings.Trim(r.URL.Path, "/")
		if i := strings.LastIndex(agentID, "/"); i >= 0 {
			agentID = agentID[i+1:]
		}
		if agentID == "" {
			http.Error(w, "missing agent id", http.StatusNotFound)
			return
		}

		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.log.Warn().Err(err).Msg("websocket upgrade failed")
			return
		}
		defer func() { _ = conn.Close() }()

		for {
			var env envelope
			if err := conn.ReadJSON(&env); err != nil {
				return
			}
			if env.Request == nil {
				continue
			}

			params := &rpc.Params{Sender: env.Sender}
			resp, err := s.recv.Receive(r.Context(), agentID, env.Request, params)
			if err != nil {
				resp = rpc.NewErrorResponse(env.Request.ID, err)
			}

			status := "ok"
			if resp.Error != nil {
				status = "error"
			}
			metrics.RecordInbound("ws", status)

			if err := conn.WriteJSON(resp); err != nil {
				return
			}
		}
	})
}
