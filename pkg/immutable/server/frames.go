package server

import (
	"context"
	"net/http"
	"sort"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/jamesainslie/immutable/pkg/immutable/parent"
	"github.com/jamesainslie/immutable/pkg/immutable/rpc"
)

// ParentOptions configure the reference parent endpoint.
type ParentOptions struct {
	// Self is the loader source ("sha256-...") pinned for every frame.
	Self string

	// Policy is the initial policy of a frame. Empty allows the loader alone.
	Policy string
}

// Frame is the parent-side state of one connected frame.
type Frame struct {
	ID     string       `json:"id" yaml:"id"`
	Origin string       `json:"origin" yaml:"origin"`
	State  parent.State `json:"state" yaml:"state"`
}

type frame struct {
	origin string
	parent *parent.Parent
}

// frames runs one reference parent per websocket connection.
type frames struct {
	opts     ParentOptions
	metrics  *Metrics
	upgrader websocket.Upgrader

	mu   sync.RWMutex
	byID map[string]*frame
}

func newFrames(opts ParentOptions, metrics *Metrics) *frames {
	return &frames{
		opts:    opts,
		metrics: metrics,
		upgrader: websocket.Upgrader{
			// Frames connect from any origin; calls are answered per connection.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		byID: make(map[string]*frame),
	}
}

func (f *frames) serve(c *gin.Context) {
	c.Set(sourceKey, SourceRPC)

	conn, err := f.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	origin := c.Request.Header.Get("Origin")
	port := rpc.NewWebSocketPort(conn, origin)
	defer port.Close()

	srv := rpc.NewServer(port, rpc.AnyOrigin)
	p := parent.New(f.opts.Self, f.opts.Policy)
	p.Register(srv)

	id := uuid.New().String()
	f.mu.Lock()
	f.byID[id] = &frame{origin: origin, parent: p}
	f.mu.Unlock()
	f.metrics.Frames.Inc()

	defer func() {
		f.mu.Lock()
		delete(f.byID, id)
		f.mu.Unlock()
		f.metrics.Frames.Dec()
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-port.Done()
		cancel()
	}()
	_ = srv.Serve(ctx)
}

func (f *frames) list() []Frame {
	f.mu.RLock()
	defer f.mu.RUnlock()

	out := make([]Frame, 0, len(f.byID))
	for id, fr := range f.byID {
		out = append(out, Frame{ID: id, Origin: fr.origin, State: fr.parent.State()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (f *frames) state(c *gin.Context) {
	c.JSON(http.StatusOK, f.list())
}
