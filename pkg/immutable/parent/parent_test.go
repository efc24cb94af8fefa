package parent

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/immutable/pkg/immutable/loader"
	"github.com/jamesainslie/immutable/pkg/immutable/rpc"
)

func serve(t *testing.T, p *Parent) *rpc.Client {
	t.Helper()
	frame, host := rpc.Pipe("https://frame.example", "https://host.example")

	srv := rpc.NewServer(host, "https://frame.example")
	p.Register(srv)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.Serve(ctx)
	}()
	require.Eventually(t, func() bool { return host.Listeners() == 1 }, time.Second, time.Millisecond)

	t.Cleanup(func() {
		cancel()
		<-done
		frame.Close()
		host.Close()
	})
	return rpc.NewClient(frame, "https://host.example")
}

func call(t *testing.T, c *rpc.Client, method string, params ...any) json.RawMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	raw, err := c.Call(ctx, method, params...)
	require.NoError(t, err)
	return raw
}

func TestDefaultPolicyPinsLoader(t *testing.T) {
	p := New("sha256-L", "")
	assert.Equal(t, "script-src 'sha256-L';", p.State().Policy)
}

func TestProtocol(t *testing.T) {
	p := New("sha256-L", "")
	c := serve(t, p)

	assert.JSONEq(t, `"`+ProtocolID+`"`, string(call(t, c, loader.MethodKnock)))
	assert.JSONEq(t, `"script-src 'sha256-L';"`, string(call(t, c, loader.MethodCSPGet)))

	widened := "script-src 'sha256-L' 'sha256-A'; worker-src 'self';"
	call(t, c, loader.MethodCSPSet, widened)
	assert.JSONEq(t, `"`+widened+`"`, string(call(t, c, loader.MethodCSPGet)))

	assert.JSONEq(t, `true`, string(call(t, c, loader.MethodManifestSet, "/manifest.json")))
	call(t, c, loader.MethodHrefSet, "https://frame.example/#/a")

	select {
	case <-p.Shown():
		t.Fatal("frame shown before frame_show")
	default:
	}
	call(t, c, loader.MethodFrameShow)
	call(t, c, loader.MethodFrameShow)

	select {
	case <-p.Shown():
	case <-time.After(time.Second):
		t.Fatal("Shown not closed")
	}

	st := p.State()
	assert.Equal(t, widened, st.Policy)
	assert.Equal(t, "/manifest.json", st.Manifest)
	assert.Equal(t, "https://frame.example/#/a", st.Href)
	assert.True(t, st.Shown)
	assert.Equal(t, 1, st.Sets)
}

func TestPolicyMustKeepLoaderPinned(t *testing.T) {
	p := New("sha256-L", "")
	c := serve(t, p)

	_, err := c.Call(context.Background(), loader.MethodCSPSet, "script-src 'sha256-EVIL'; worker-src 'self';")
	require.Error(t, err)
	assert.ErrorIs(t, err, rpc.ErrRemote)

	var rpcErr *rpc.Error
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, rpc.CodeInvalidParams, rpcErr.Code)

	assert.Equal(t, "script-src 'sha256-L';", p.State().Policy)
	assert.Zero(t, p.State().Sets)
}

func TestMissingParams(t *testing.T) {
	c := serve(t, New("sha256-L", ""))

	_, err := c.Call(context.Background(), loader.MethodCSPSet)
	require.Error(t, err)

	var rpcErr *rpc.Error
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, rpc.CodeInvalidParams, rpcErr.Code)
}
