// Package http provides the HTTP transport binding. Agents are addressed as
// <base_url><agent-id>; requests and responses travel as JSON bodies, with
// the sender's address carried in a header.
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/agentgrid-dev/agentgrid/internal/logging"
	"github.com/agentgrid-dev/agentgrid/internal/metrics"
	"github.com/agentgrid-dev/agentgrid/rpc"
	"github.com/agentgrid-dev/agentgrid/transport"
)

func init() {
	transport.Register("HttpService", func(recv transport.Receiver, params map[string]any) (transport.Service, error) {
		cfg := Config{}
		if baseURL, ok := params["base_url"].(string); ok {
			cfg.BaseURL = baseURL
		}
		if rps, ok := params["rate_limit"].(int); ok {
			cfg.RateLimit = float64(rps)
		} else if rps, ok := params["rate_limit"].(float64); ok {
			cfg.RateLimit = rps
		}
		return New(recv, cfg), nil
	})
	transport.Deprecate("HttpTransportService", "HttpService")
}

// SenderHeader carries the sender's resolved address on inbound requests.
const SenderHeader = "X-Agentgrid-Sender"

const defaultTimeout = 30 * time.Second

// Config holds the HTTP binding configuration.
type Config struct {
	// BaseURL is the public address prefix under which this host's agents
	// are reachable, e.g. "http://localhost:8080/agents/". Empty means the
	// service is outbound-only.
	BaseURL string
	// RateLimit caps outbound requests per second. Zero means unlimited.
	RateLimit float64
	// Timeout bounds each outbound round trip. Zero means 30s.
	Timeout time.Duration
}

// Service is the HTTP transport binding.
type Service struct {
	baseURL string
	recv    transport.Receiver
	client  *http.Client
	limiter *rate.Limiter
	log     zerolog.Logger
}

// New creates an HTTP transport service. recv receives inbound requests
// decoded by Handler; it may be nil for outbound-only use.
func New(recv transport.Receiver, cfg Config) *Service {
	baseURL := cfg.BaseURL
	if baseURL != "" && !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), int(cfg.RateLimit)+1)
	}

	return &Service{
		baseURL: baseURL,
		recv:    recv,
		client:  &http.Client{Timeout: timeout},
		limiter: limiter,
		log:     logging.For("transport.http"),
	}
}

// Protocols returns the URI schemes this service owns.
func (s *Service) Protocols() []string { return []string{"http", "https"} }

// AgentID resolves an agent id from a URL under this service's base URL.
func (s *Service) AgentID(url string) string {
	if s.baseURL == "" || !strings.HasPrefix(url, s.baseURL) {
		return ""
	}
	return strings.Trim(strings.TrimPrefix(url, s.baseURL), "/")
}

// AgentURL returns the public address of an agent hosted here.
func (s *Service) AgentURL(agentID string) string {
	if s.baseURL == "" {
		return ""
	}
	return s.baseURL + agentID
}

// Send posts req to receiverURL and blocks for the response.
func (s *Service) Send(ctx context.Context, senderURL, receiverURL string, req *rpc.Request) (*rpc.Response, error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, receiverURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if senderURL != "" {
		httpReq.Header.Set(SenderHeader, senderURL)
	}

	httpResp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send to %s: %w", receiverURL, err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("send to %s: unexpected status %d", receiverURL, httpResp.StatusCode)
	}

	var resp rpc.Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &resp, nil
}

// SendAsync posts req on a separate goroutine; cb observes the outcome once.
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

// Handler returns the server side of the binding: POST <mount>/<agent-id>
// with a JSON request body. Mount it under the path matching BaseURL.
func (s *Service) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			metrics.RecordInbound("http", "error")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		agentID := strings.Trim(r.URL.Path, "/")
		if i := strings.LastIndex(agentID, "/"); i >= 0 {
			agentID = agentID[i+1:]
		}
		if agentID == "" {
			metrics.RecordInbound("http", "error")
			http.Error(w, "missing agent id", http.StatusNotFound)
			return
		}

		var req rpc.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			metrics.RecordInbound("http", "error")
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}

		params := &rpc.Params{Sender: r.Header.Get(SenderHeader)}
		resp, err := s.recv.Receive(r.Context(), agentID, &req, params)
		if err != nil {
			// Dispatch errors ride back inside the response envelope.
			resp = rpc.NewErrorResponse(req.ID, err)
		}

		status := "ok"
		if resp.Error != nil {
			status = "error"
		}
		metrics.RecordInbound("http", status)

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			s.log.Warn().Err(err).Str("agent", agentID).Msg("failed to encode response")
		}
	})
}
