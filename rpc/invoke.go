package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Call is what an operation handler receives: the request parameters plus the
// injected sender address.
type Call struct {
	Method string
	Params map[string]any
	Sender string
}

// String returns the named string parameter.
func (c *Call) String(key string) (string, bool) {
	v, ok := c.Params[key].(string)
	return v, ok
}

// Bool returns the named boolean parameter.
func (c *Call) Bool(key string) (bool, bool) {
	v, ok := c.Params[key].(bool)
	return v, ok
}

// Int returns the named integer parameter. JSON numbers arrive as float64.
func (c *Call) Int(key string) (int, bool) {
	switch v := c.Params[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	}
	return 0, false
}

// Decode binds the named parameter into v through a JSON round-trip, so
// handlers can declare structured parameter types.
func (c *Call) Decode(key string, v any) error {
	raw, ok := c.Params[key]
	if !ok {
		return fmt.Errorf("missing parameter %q", key)
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("marshal parameter %q: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal parameter %q: %w", key, err)
	}
	return nil
}

// Handler is a single runtime-invocable agent operation.
type Handler func(ctx context.Context, c *Call) (any, error)

// Invoke dispatches req against an agent's operation table, binding the
// request parameters by declared name and injecting the sender from p.
// Operation failures are wrapped as invocation errors; the error is carried
// in the response, never returned out of band.
func Invoke(ctx context.Context, ops map[string]Handler, req *Request, p *Params) *Response {
	handler, ok := ops[req.Method]
	if !ok {
		return NewErrorResponse(req.ID, Errorf(KindNotFound,
			"unknown operation %q", req.Method))
	}

	call := &Call{Method: req.Method, Params: req.Params}
	if p != nil {
		call.Sender = p.Sender
	}

	result, err := handler(ctx, call)
	if err != nil {
		return NewErrorResponse(req.ID, AsError(err))
	}

	resp, err := NewResponse(req.ID, result)
	if err != nil {
		return NewErrorResponse(req.ID, AsError(err))
	}
	return resp
}

// ValidateOperations checks an operation table against the dispatch contract
// and returns a description of every violation. Violations are reported, not
// enforced; the host logs them at create time.
func ValidateOperations(ops map[string]Handler) []string {
	var violations []string
	for name, h := range ops {
		if strings.TrimSpace(name) == "" {
			violations = append(violations, "operation with empty name")
		}
		if strings.ContainsAny(name, " \t\n") {
			violations = append(violations, fmt.Sprintf("operation %q: name contains whitespace", name))
		}
		if strings.HasPrefix(name, "_") {
			violations = append(violations, fmt.Sprintf("operation %q: reserved name prefix", name))
		}
		if h == nil {
			violations = append(violations, fmt.Sprintf("operation %q: nil handler", name))
		}
	}
	return violations
}
