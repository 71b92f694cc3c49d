package signal

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"rillview/internal/core/domain"
	"rillview/internal/core/ports"
	apperrors "rillview/pkg/errors"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type edgeServer struct {
	server   *httptest.Server
	received chan []byte
	conns    chan *websocket.Conn
}

func newEdgeServer(t *testing.T) *edgeServer {
	t.Helper()

	s := &edgeServer{
		received: make(chan []byte, 16),
		conns:    make(chan *websocket.Conn, 1),
	}
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

	s.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.conns <- conn
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			s.received <- data
		}
	}))
	t.Cleanup(s.server.Close)
	return s
}

func (s *edgeServer) url() string {
	return "ws" + strings.TrimPrefix(s.server.URL, "http") + "/ws?token=secret-token-value"
}

func (s *edgeServer) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-s.conns:
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("server did not accept connection")
		return nil
	}
}

func testClientConfig() ClientConfig {
	cfg := DefaultClientConfig()
	cfg.CommandsPerSecond = 100
	return cfg
}

func nextEvent(t *testing.T, c *WebSocketClient) (ports.TransportEvent, bool) {
	t.Helper()
	select {
	case ev, ok := <-c.Inbound():
		return ev, ok
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for inbound event")
		return ports.TransportEvent{}, false
	}
}

func TestWebSocketClient_SendAndReceive(t *testing.T) {
	srv := newEdgeServer(t)
	client := NewWebSocketClient(testClientConfig(), nil)
	defer client.Close()

	require.NoError(t, client.Connect(context.Background(), srv.url()))
	serverConn := srv.accept(t)

	err := client.Send(context.Background(), domain.SubscribeRequest{StreamName: "demo", SDP: "v=0"})
	require.NoError(t, err)

	select {
	case data := <-srv.received:
		assert.Contains(t, string(data), `"type":"subscribe"`)
	case <-time.After(2 * time.Second):
		t.Fatal("server received nothing")
	}

	require.NoError(t, serverConn.WriteMessage(websocket.TextMessage, []byte(`{"type":"response","transId":1,"data":{"sdp":"v=0 answer"}}`)))

	ev, ok := nextEvent(t, client)
	require.True(t, ok)
	require.NoError(t, ev.Err)
	resp, isResp := ev.Message.(domain.SubscribeResponse)
	require.True(t, isResp)
	assert.Equal(t, "v=0 answer", resp.SDP)
}

func TestWebSocketClient_DropsMalformedFrames(t *testing.T) {
	srv := newEdgeServer(t)
	client := NewWebSocketClient(testClientConfig(), nil)
	defer client.Close()

	require.NoError(t, client.Connect(context.Background(), srv.url()))
	serverConn := srv.accept(t)

	require.NoError(t, serverConn.WriteMessage(websocket.TextMessage, []byte(`not json`)))
	require.NoError(t, serverConn.WriteMessage(websocket.TextMessage, []byte(`{"type":"event","name":"fireworks"}`)))
	require.NoError(t, serverConn.WriteMessage(websocket.TextMessage, []byte(`{"type":"event","name":"viewercount","data":{"viewercount":3}}`)))

	ev, ok := nextEvent(t, client)
	require.True(t, ok)
	msg, isEvent := ev.Message.(domain.EventMessage)
	require.True(t, isEvent)
	assert.Equal(t, domain.ViewerCount{Count: 3}, msg.Event)
}

func TestWebSocketClient_ServerCloseEndsStream(t *testing.T) {
	srv := newEdgeServer(t)
	client := NewWebSocketClient(testClientConfig(), nil)
	defer client.Close()

	require.NoError(t, client.Connect(context.Background(), srv.url()))
	serverConn := srv.accept(t)
	serverConn.Close()

	ev, ok := nextEvent(t, client)
	require.True(t, ok)
	require.Error(t, ev.Err)
	assert.True(t, apperrors.IsConnectionError(ev.Err))

	_, ok = nextEvent(t, client)
	assert.False(t, ok, "inbound must be closed after the terminal event")
}

func TestWebSocketClient_SendBeforeConnect(t *testing.T) {
	client := NewWebSocketClient(testClientConfig(), nil)
	defer client.Close()

	err := client.Send(context.Background(), domain.Disconnect{Reason: "bye"})
	require.Error(t, err)
	assert.True(t, apperrors.IsSendError(err))
	assert.ErrorIs(t, err, domain.ErrNotConnected)
}

func TestWebSocketClient_ConnectFailure(t *testing.T) {
	client := NewWebSocketClient(testClientConfig(), nil)
	defer client.Close()

	err := client.Connect(context.Background(), "ws://127.0.0.1:1/ws")
	require.Error(t, err)
	assert.True(t, apperrors.IsConnectionError(err))
}

func TestWebSocketClient_CloseIsIdempotent(t *testing.T) {
	srv := newEdgeServer(t)
	client := NewWebSocketClient(testClientConfig(), nil)

	require.NoError(t, client.Connect(context.Background(), srv.url()))
	srv.accept(t)

	assert.NoError(t, client.Close())
	assert.NoError(t, client.Close())

	// no terminal error after a local close
	for ev := range client.Inbound() {
		assert.NoError(t, ev.Err)
	}

	err := client.Send(context.Background(), domain.Disconnect{})
	assert.True(t, apperrors.IsSendError(err))

	err = client.Connect(context.Background(), srv.url())
	assert.True(t, apperrors.IsConnectionError(err))
}

func TestWebSocketClient_CloseWithoutConnect(t *testing.T) {
	client := NewWebSocketClient(testClientConfig(), nil)
	require.NoError(t, client.Close())

	_, ok := <-client.Inbound()
	assert.False(t, ok)
}

func TestRedactToken(t *testing.T) {
	assert.Equal(t, "wss://edge/ws", redactToken("wss://edge/ws"))
	redacted := redactToken("wss://edge/ws?token=abcdefghijklmnop")
	assert.NotContains(t, redacted, "ghijklmnop")
	assert.True(t, strings.HasPrefix(redacted, "wss://edge/ws?token=abcdef"))
}
