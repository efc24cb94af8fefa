package rpc

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"

	"github.com/jamesainslie/immutable/pkg/immutable/logging"
)

// AnyOrigin accepts messages from every sender.
const AnyOrigin = "*"

// Client issues calls over a port and correlates the responses.
type Client struct {
	port   Port
	origin string
	log    *logging.Logger
}

// NewClient creates a client. Responses are accepted only from origin,
// unless it is empty or AnyOrigin.
func NewClient(port Port, origin string) *Client {
	return &Client{port: port, origin: origin, log: logging.Get("rpc")}
}

// Call sends method with params and waits for its result. Bound the wait
// with a context deadline.
func (c *Client) Call(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	return c.Do(ctx, Request{Method: method, Params: params})
}

// Do sends req and waits for the matching response. A missing ID is
// generated. The listener is released on every return path and a
// response arriving after the call ended is dropped.
func (c *Client) Do(ctx context.Context, req Request) (json.RawMessage, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	req.JSONRPC = Version

	fail := func(kind, err error) error {
		return &TransportError{Method: req.Method, ID: req.ID, Kind: kind, Err: err}
	}

	data, err := json.Marshal(req)
	if err != nil {
		return nil, fail(ErrMessage, err)
	}

	future := NewFuture[*Response]()
	stop := c.port.Listen(func(ev Event) {
		if !c.accepts(ev.Origin) {
			return
		}
		if ev.Err != nil {
			future.Reject(fail(ErrMessage, ev.Err))
			return
		}
		resp, ok, err := decodeResponse(ev.Data, req.ID)
		if !ok {
			return
		}
		if err != nil {
			future.Reject(fail(ErrMalformed, err))
			return
		}
		future.Resolve(resp)
	})
	future.OnSettle(stop)
	defer stop()

	if err := c.port.Post(ctx, data); err != nil {
		future.Reject(err)
		return nil, fail(contextKind(ctx, ErrMessage), err)
	}

	resp, err := future.Await(ctx)
	if err != nil {
		var te *TransportError
		if errors.As(err, &te) {
			return nil, err
		}
		return nil, fail(contextKind(ctx, ErrCanceled), err)
	}

	if resp.Error != nil {
		return nil, fail(ErrRemote, resp.Error)
	}
	return resp.Result, nil
}

// Invoke calls method and decodes its result into T.
func Invoke[T any](ctx context.Context, c *Client, method string, params ...any) (T, error) {
	var out T
	raw, err := c.Call(ctx, method, params...)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, &TransportError{Method: method, Kind: ErrMalformed, Err: err}
	}
	return out, nil
}

func (c *Client) accepts(origin string) bool {
	return c.origin == "" || c.origin == AnyOrigin || origin == c.origin
}

// decodeResponse reports whether data is a response to id and, if so,
// whether it is well formed.
func decodeResponse(data []byte, id string) (*Response, bool, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, false, nil
	}
	if env.ID == nil || *env.ID != id || env.Method != "" {
		return nil, false, nil
	}

	if env.Result == nil && env.Error == nil {
		return nil, true, errors.New("neither result nor error")
	}

	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, true, err
	}
	if env.Error != nil && resp.Error == nil {
		return nil, true, errors.New("null error")
	}
	return &resp, true, nil
}

// contextKind maps an ended context to a failure kind.
func contextKind(ctx context.Context, fallback error) error {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return ErrTimeout
	case errors.Is(ctx.Err(), context.Canceled):
		return ErrCanceled
	default:
		return fallback
	}
}
