package http

import (
	"context"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/agentgrid-dev/agentgrid/rpc"
	"github.com/agentgrid-dev/agentgrid/transport"
)

// recorder answers every request with the receiver id and remembers what it
// saw.
type recorder struct {
	mu         sync.Mutex
	receiverID string
	sender     string
	method     string
}

func (r *recorder) Receive(ctx context.Context, receiverID string, req *rpc.Request, p *rpc.Params) (*rpc.Response, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.receiverID = receiverID
	r.method = req.Method
	if p != nil {
		r.sender = p.Sender
	}
	if req.Method == "fail" {
		return nil, rpc.Errorf(rpc.KindNotFound, "agent %q not found", receiverID)
	}
	return rpc.NewResponse(req.ID, "pong from "+receiverID)
}

func TestSendRoundTrip(t *testing.T) {
	recv := &recorder{}
	inbound := New(recv, Config{})
	srv := httptest.NewServer(inbound.Handler())
	defer srv.Close()

	outbound := New(nil, Config{})
	req := rpc.NewRequest("ping", map[string]any{"x": 1})
	resp, err := outbound.Send(context.Background(), "http://peer/agents/a2", srv.URL+"/agents/a1", req)
	if err != nil {
		t.Fatal(err)
	}

	var result string
	if err := resp.Decode(&result); err != nil {
		t.Fatal(err)
	}
	if result != "pong from a1" {
		t.Fatalf("got %q", result)
	}
	if recv.receiverID != "a1" {
		t.Fatalf("receiver id %q", recv.receiverID)
	}
	if recv.sender != "http://peer/agents/a2" {
		t.Fatalf("sender %q did not survive the trip", recv.sender)
	}
	if resp.ID != req.ID {
		t.Fatalf("response id %q does not match request id %q", resp.ID, req.ID)
	}
}

func TestDispatchErrorRidesInEnvelope(t *testing.T) {
	recv := &recorder{}
	srv := httptest.NewServer(New(recv, Config{}).Handler())
	defer srv.Close()

	outbound := New(nil, Config{})
	resp, err := outbound.Send(context.Background(), "", srv.URL+"/agents/ghost", rpc.NewRequest("fail", nil))
	if err != nil {
		t.Fatalf("dispatch errors should come back in the envelope, got transport error %v", err)
	}
	if resp.Error == nil || resp.Error.Kind != rpc.KindNotFound {
		t.Fatalf("expected a not_found error in the response, got %v", resp.Error)
	}
}

func TestSendAsyncCallbackOnce(t *testing.T) {
	recv := &recorder{}
	srv := httptest.NewServer(New(recv, Config{}).Handler())
	defer srv.Close()

	outbound := New(nil, Config{})
	done := make(chan *rpc.Response, 2)
	outbound.SendAsync(context.Background(), "", srv.URL+"/agents/a1", rpc.NewRequest("ping", nil),
		func(resp *rpc.Response, err error) {
			if err != nil {
				t.Error(err)
			}
			done <- resp
		})

	resp := <-done
	if resp == nil || resp.Error != nil {
		t.Fatalf("got %v", resp)
	}
	select {
	case <-done:
		t.Fatal("callback ran more than once")
	default:
	}
}

func TestAddressing(t *testing.T) {
	svc := New(nil, Config{BaseURL: "http://host:8080/agents"})

	if got := svc.AgentURL("a1"); got != "http://host:8080/agents/a1" {
		t.Fatalf("got %q", got)
	}
	if got := svc.AgentID("http://host:8080/agents/a1"); got != "a1" {
		t.Fatalf("got %q", got)
	}
	if got := svc.AgentID("http://elsewhere/agents/a1"); got != "" {
		t.Fatalf("foreign URL resolved to %q", got)
	}

	outboundOnly := New(nil, Config{})
	if outboundOnly.AgentURL("a1") != "" || outboundOnly.AgentID("http://x/a1") != "" {
		t.Fatal("outbound-only service should not claim any address")
	}
}

func TestFactoryRegistration(t *testing.T) {
	svc, err := transport.New("HttpService", nil, map[string]any{
		"base_url": "http://host/agents/",
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := svc.AgentURL("a1"); got != "http://host/agents/a1" {
		t.Fatalf("got %q", got)
	}

	// The obsolete alias still resolves.
	if _, err := transport.New("HttpTransportService", nil, nil); err != nil {
		t.Fatal(err)
	}
}

func TestHandlerRejectsGet(t *testing.T) {
	srv := httptest.NewServer(New(&recorder{}, Config{}).Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/agents/a1")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 405 {
		t.Fatalf("got status %d", resp.StatusCode)
	}
}
