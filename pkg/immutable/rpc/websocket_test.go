package rpc

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebSocketRoundTrip(t *testing.T) {
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

	srvCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		port := NewWebSocketPort(conn, r.Header.Get("Origin"))
		srv := NewServer(port, AnyOrigin)
		srv.Handle("knock_knock", func(context.Context, *Call) (any, error) { return "immutable", nil })

		ctx, stop := context.WithCancel(srvCtx)
		defer stop()
		go func() {
			<-port.Done()
			stop()
		}()
		_ = srv.Serve(ctx)
	}))
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")
	header := http.Header{"Origin": []string{childOrigin}}

	ctx, done := context.WithTimeout(context.Background(), 2*time.Second)
	defer done()

	port, err := Dial(ctx, wsURL, header)
	require.NoError(t, err)
	assert.Equal(t, ts.URL, port.Origin())

	got, err := Invoke[string](ctx, NewClient(port, port.Origin()), "knock_knock")
	require.NoError(t, err)
	assert.Equal(t, "immutable", got)

	require.NoError(t, port.Close())

	_, err = NewClient(port, port.Origin()).Call(ctx, "knock_knock")
	assert.ErrorIs(t, err, ErrClosed)
}
