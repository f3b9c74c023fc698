package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shanten-tools/companion/internal/envelope"
	"github.com/shanten-tools/companion/internal/peer"
	"github.com/shanten-tools/companion/pkg/protocol"
)

func newServer(t *testing.T) (*httptest.Server, *peer.Peer) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	s := peer.NewEmptyState()
	s.Tables = protocol.Tables{"main": {"a": 1.0}}
	p := peer.New(ctx, peer.Options{Seed: &s})
	srv := httptest.NewServer(SetupRoutes(p, zap.NewNop()))
	t.Cleanup(srv.Close)
	return srv, p
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	c.SetReadLimit(1 << 20)
	t.Cleanup(func() { c.CloseNow() })
	return c
}

func read(t *testing.T, c *websocket.Conn) envelope.Envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, data, err := c.Read(ctx)
	require.NoError(t, err)
	env, err := envelope.Decode(string(data))
	require.NoError(t, err)
	return env
}

// readUntil skips frames until one of type typ arrives.
func readUntil(t *testing.T, c *websocket.Conn, typ string) envelope.Envelope {
	t.Helper()
	for i := 0; i < 20; i++ {
		if env := read(t, c); env.Type == typ {
			return env
		}
	}
	t.Fatalf("no %s frame", typ)
	return envelope.Envelope{}
}

func TestHealthz(t *testing.T) {
	srv, _ := newServer(t)
	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestWS_JoinThenEdit(t *testing.T) {
	srv, _ := newServer(t)
	c := dial(t, srv)

	env := readUntil(t, c, envelope.TypeUpdateConfig)
	var ts protocol.Tables
	require.NoError(t, env.Bind(&ts))
	assert.Equal(t, 1.0, ts["main"]["a"])
	readUntil(t, c, envelope.TypeAutorunStatus)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, c.Write(ctx, websocket.MessageText, []byte(`{"type":"edit_config","data":{"main":{"a":4}}}`)))

	env = read(t, c)
	require.Equal(t, envelope.TypeUpdateConfig, env.Type)
	require.NoError(t, env.Bind(&ts))
	assert.Equal(t, 4.0, ts["main"]["a"])
}

func TestWS_BadFrameGetsErrorReply(t *testing.T) {
	srv, _ := newServer(t)
	c := dial(t, srv)
	readUntil(t, c, envelope.TypeAutorunStatus)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, c.Write(ctx, websocket.MessageText, []byte(`not json`)))
	assert.Equal(t, "error", read(t, c).Type)
}

func TestPush_BroadcastsToConnectedClients(t *testing.T) {
	srv, p := newServer(t)
	c := dial(t, srv)
	readUntil(t, c, envelope.TypeAutorunStatus)

	resp, err := http.Post(srv.URL+"/push/toast", "application/json", strings.NewReader(`{"msg":"hello","kind":"success"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	env := read(t, c)
	require.Equal(t, envelope.TypeUIToast, env.Type)
	var toast protocol.Toast
	require.NoError(t, env.Bind(&toast))
	assert.Equal(t, "hello", toast.Msg)

	resp, err = http.Post(srv.URL+"/push/update_config", "application/json", strings.NewReader(`{"main":{"a":2}}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, envelope.TypeUpdateConfig, read(t, c).Type)

	v, ok := p.Snapshot()
	require.True(t, ok)
	assert.Equal(t, 2.0, v.State.Tables["main"]["a"])
}

func TestPush_Rejects(t *testing.T) {
	srv, _ := newServer(t)
	cases := []struct {
		path, body string
		code       int
	}{
		{"/push/edit_config", `{}`, http.StatusNotFound},
		{"/push/update_config", `{oops`, http.StatusBadRequest},
		{"/push/update_config", `"text"`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		resp, err := http.Post(srv.URL+tc.path, "application/json", strings.NewReader(tc.body))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, tc.code, resp.StatusCode, tc.path+" "+tc.body)
	}
}

func TestState(t *testing.T) {
	srv, _ := newServer(t)
	resp, err := http.Get(srv.URL + "/state")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Version int        `json:"version"`
		State   peer.State `json:"state"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, 1.0, body.State.Tables["main"]["a"])
}
