// Package rpc implements correlation-id request/response calls over a
// cross-realm message channel. Messages are shaped like JSON-RPC 2.0.
package rpc

import (
	"encoding/json"
	"fmt"
)

// Version is the protocol version carried by every message.
const Version = "2.0"

// Standard error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Request is an outbound call.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params,omitempty"`
}

// Call is an inbound request as seen by a Server.
type Call struct {
	JSONRPC string            `json:"jsonrpc"`
	ID      string            `json:"id"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params,omitempty"`

	// Origin is the sender of the request.
	Origin string `json:"-"`
}

// Param decodes the i-th parameter into v.
func (c *Call) Param(i int, v any) error {
	if i >= len(c.Params) {
		return &Error{Code: CodeInvalidParams, Message: fmt.Sprintf("missing parameter %d", i)}
	}
	if err := json.Unmarshal(c.Params[i], v); err != nil {
		return &Error{Code: CodeInvalidParams, Message: fmt.Sprintf("parameter %d: %v", i, err)}
	}
	return nil
}

// Response answers a request. Exactly one of Result and Error is set.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error is an error reported by the remote side.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// NewResult builds a success response. A nil result encodes as null.
func NewResult(id string, result any) (*Response, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	return &Response{JSONRPC: Version, ID: id, Result: raw}, nil
}

// NewError builds an error response.
func NewError(id string, err *Error) *Response {
	return &Response{JSONRPC: Version, ID: id, Error: err}
}

// envelope is used to tell requests from responses on a shared channel.
type envelope struct {
	ID     *string         `json:"id"`
	Method string          `json:"method"`
	Result json.RawMessage `json:"result"`
	Error  json.RawMessage `json:"error"`
}
