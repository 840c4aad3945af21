// Package rpc serves the engine commands as line-oriented JSON-RPC 2.0 over
// a reader/writer pair, normally stdin and stdout.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"
)

// Request is a JSON-RPC 2.0 request. A request without an id is a
// notification and gets no response.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
}

// Response is a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  any             `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
	ID      json.RawMessage `json:"id"`
}

// Error is a JSON-RPC 2.0 error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Standard JSON-RPC 2.0 error codes
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603
)

// Handler runs one method. The result is encoded as the response result.
type Handler func(ctx context.Context, params json.RawMessage) (any, error)

// Handlers maps method names onto their handlers.
type Handlers map[string]Handler

// Method adapts a typed command function into a Handler. Absent or null
// params decode as the zero In.
func Method[In, Out any](fn func(context.Context, In) (Out, error)) Handler {
	return func(ctx context.Context, params json.RawMessage) (any, error) {
		var in In
		if len(params) > 0 && string(params) != "null" {
			if err := json.Unmarshal(params, &in); err != nil {
				return nil, &Error{Code: InvalidParams, Message: "invalid params: " + err.Error()}
			}
		}
		return fn(ctx, in)
	}
}
