package agentgrid

import (
	"context"

	"github.com/agentgrid-dev/agentgrid/agent"
	"github.com/agentgrid-dev/agentgrid/rpc"
)

// Client is a typed handle for calling one remote agent. Consumers wrap it in
// their own structs to expose ordinary Go methods over the dispatch path:
//
//	type Calculator struct{ c *agentgrid.Client }
//
//	func (c Calculator) Add(ctx context.Context, a, b int) (int, error) {
//		var sum int
//		err := c.c.Call(ctx, "add", map[string]any{"a": a, "b": b}, &sum)
//		return sum, err
//	}
type Client struct {
	host   *Host
	sender agent.Agent
	url    string
}

// Client returns a call handle for the agent at receiverURL. sender may be
// nil for anonymous calls.
func (h *Host) Client(sender agent.Agent, receiverURL string) *Client {
	return &Client{host: h, sender: sender, url: receiverURL}
}

// URL returns the receiver address this client is bound to.
func (c *Client) URL() string { return c.url }

// Call invokes method with params and decodes the result into out. An error
// carried in the response is returned as the call error; pass a nil out to
// discard the result.
func (c *Client) Call(ctx context.Context, method string, params map[string]any, out any) error {
	resp, err := c.host.Send(ctx, c.sender, c.url, rpc.NewRequest(method, params))
	if err != nil {
		return err
	}
	if resp.Error != nil {
		return resp.Error
	}
	if out == nil {
		return nil
	}
	return resp.Decode(out)
}

// Notify invokes method without blocking for the outcome; failures are
// delivered to cb, which may be nil when the caller does not care.
func (c *Client) Notify(ctx context.Context, method string, params map[string]any, cb rpc.Callback) error {
	if cb == nil {
		cb = func(*rpc.Response, error) {}
	}
	return c.host.SendAsync(ctx, c.sender, c.url, rpc.NewRequest(method, params), cb)
}
