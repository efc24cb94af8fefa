package rpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// closeGrace bounds the close handshake.
const closeGrace = time.Second

// WebSocketPort carries messages over a websocket connection. Every
// inbound event is tagged with the origin of the remote end.
type WebSocketPort struct {
	conn   *websocket.Conn
	origin string
	subs   listeners

	wmu  sync.Mutex
	done chan struct{}
	once sync.Once
}

// NewWebSocketPort wraps an established connection and starts reading.
func NewWebSocketPort(conn *websocket.Conn, origin string) *WebSocketPort {
	p := &WebSocketPort{
		conn:   conn,
		origin: origin,
		done:   make(chan struct{}),
	}
	go p.read()
	return p
}

// Dial connects to a websocket endpoint. The remote origin is derived
// from the URL.
func Dial(ctx context.Context, rawURL string, header http.Header) (*WebSocketPort, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, rawURL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %s: %w", rawURL, resp.Status, err)
		}
		return nil, fmt.Errorf("dial %s: %w", rawURL, err)
	}

	return NewWebSocketPort(conn, HTTPOrigin(u)), nil
}

// HTTPOrigin returns the web origin of u, mapping ws schemes to http ones.
func HTTPOrigin(u *url.URL) string {
	scheme := u.Scheme
	switch scheme {
	case "ws":
		scheme = "http"
	case "wss":
		scheme = "https"
	}
	return scheme + "://" + u.Host
}

// Origin returns the remote origin.
func (p *WebSocketPort) Origin() string { return p.origin }

// Post writes one text message. The context deadline bounds the write.
func (p *WebSocketPort) Post(ctx context.Context, data []byte) error {
	select {
	case <-p.done:
		return ErrClosed
	default:
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	p.wmu.Lock()
	defer p.wmu.Unlock()

	deadline, _ := ctx.Deadline()
	if err := p.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return p.conn.WriteMessage(websocket.TextMessage, data)
}

// Listen registers fn for inbound events. A broken connection is reported
// once as an event carrying Err.
func (p *WebSocketPort) Listen(fn func(Event)) func() {
	return p.subs.add(fn)
}

// Done is closed when the connection stops reading.
func (p *WebSocketPort) Done() <-chan struct{} { return p.done }

// Close performs the close handshake and releases the connection.
func (p *WebSocketPort) Close() error {
	p.wmu.Lock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = p.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGrace))
	p.wmu.Unlock()

	select {
	case <-p.done:
	case <-time.After(closeGrace):
	}
	return p.conn.Close()
}

func (p *WebSocketPort) read() {
	defer p.once.Do(func() { close(p.done) })

	for {
		kind, data, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
				errors.Is(err, net.ErrClosed) {
				err = ErrClosed
			}
			p.subs.dispatch(Event{Origin: p.origin, Err: err})
			return
		}
		if kind != websocket.TextMessage && kind != websocket.BinaryMessage {
			continue
		}
		p.subs.dispatch(Event{Origin: p.origin, Data: data})
	}
}

var _ Port = (*WebSocketPort)(nil)
