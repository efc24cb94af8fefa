package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/jamesainslie/immutable/pkg/immutable/logging"
)

// HandlerFunc answers one call. The returned value is the result.
type HandlerFunc func(ctx context.Context, call *Call) (any, error)

// Server dispatches calls arriving on a port to method handlers.
type Server struct {
	port   Port
	origin string
	log    *logging.Logger

	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewServer creates a server that answers calls from origin, or from
// every sender when origin is empty or AnyOrigin.
func NewServer(port Port, origin string) *Server {
	return &Server{
		port:     port,
		origin:   origin,
		log:      logging.Get("rpc"),
		handlers: make(map[string]HandlerFunc),
	}
}

// Handle registers h for method.
func (s *Server) Handle(method string, h HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = h
}

// Serve answers calls until ctx ends. Each call runs on its own goroutine.
func (s *Server) Serve(ctx context.Context) error {
	stop := s.port.Listen(func(ev Event) {
		go s.handle(ctx, ev)
	})
	defer stop()

	<-ctx.Done()
	return nil
}

func (s *Server) handle(ctx context.Context, ev Event) {
	if s.origin != "" && s.origin != AnyOrigin && ev.Origin != s.origin {
		return
	}
	if ev.Err != nil {
		s.log.Warn("unreadable message", "origin", ev.Origin, "error", ev.Err)
		return
	}

	var env envelope
	if err := json.Unmarshal(ev.Data, &env); err != nil {
		s.log.Debug("ignoring non-json message", "origin", ev.Origin)
		return
	}
	if env.Method == "" {
		return
	}

	var call Call
	if err := json.Unmarshal(ev.Data, &call); err != nil {
		if env.ID != nil {
			s.reply(ctx, NewError(*env.ID, &Error{Code: CodeInvalidRequest, Message: err.Error()}))
		}
		return
	}
	call.Origin = ev.Origin

	s.mu.RLock()
	h, ok := s.handlers[call.Method]
	s.mu.RUnlock()

	if !ok {
		s.reply(ctx, NewError(call.ID, &Error{Code: CodeMethodNotFound, Message: fmt.Sprintf("method not found: %s", call.Method)}))
		return
	}

	result, err := h(ctx, &call)
	if call.ID == "" {
		return
	}
	if err != nil {
		var rpcErr *Error
		if !errors.As(err, &rpcErr) {
			rpcErr = &Error{Code: CodeInternalError, Message: err.Error()}
		}
		s.reply(ctx, NewError(call.ID, rpcErr))
		return
	}

	resp, err := NewResult(call.ID, result)
	if err != nil {
		resp = NewError(call.ID, &Error{Code: CodeInternalError, Message: err.Error()})
	}
	s.reply(ctx, resp)
}

func (s *Server) reply(ctx context.Context, resp *Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.log.Error("failed to encode response", "id", resp.ID, "error", err)
		return
	}
	if err := s.port.Post(ctx, data); err != nil {
		s.log.Warn("failed to send response", "id", resp.ID, "error", err)
	}
}
