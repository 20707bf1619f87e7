// Package rpc defines the request/response model shared by the host, the
// transport services, and the scheduler, plus the generic invocation layer
// that binds request parameters to agent operations by name.
package rpc

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Request is a method invocation addressed to a single agent.
// Params are bound to the operation's declared parameter names; the sender's
// address travels out of band in Params (see Call).
type Request struct {
	ID     string         `json:"id,omitempty"`
	Method string         `json:"method"`
	Params map[string]any `json:"params,omitempty"`
}

// NewRequest builds a request with a fresh id.
func NewRequest(method string, params map[string]any) *Request {
	return &Request{
		ID:     uuid.New().String(),
		Method: method,
		Params: params,
	}
}

// Response carries either a result or a structured error, never both.
type Response struct {
	ID     string          `json:"id,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *Error          `json:"error,omitempty"`
}

// NewResponse marshals result into a success response.
func NewResponse(id string, result any) (*Response, error) {
	if result == nil {
		return &Response{ID: id}, nil
	}
	data, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return &Response{ID: id, Result: data}, nil
}

// NewErrorResponse wraps err into a failure response.
func NewErrorResponse(id string, err error) *Response {
	return &Response{ID: id, Error: AsError(err)}
}

// Decode unmarshals the response result into v.
func (r *Response) Decode(v any) error {
	if r.Error != nil {
		return r.Error
	}
	if len(r.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Result, v); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	return nil
}

// Params is the side-channel of call metadata threaded alongside every
// dispatched request. It is never part of an operation's declared signature.
type Params struct {
	// Sender is the resolved address of the calling agent, or empty for
	// anonymous inbound requests.
	Sender string
}

// Callback receives the outcome of an asynchronous send. It is invoked
// exactly once, with either a response or an error.
type Callback func(*Response, error)
