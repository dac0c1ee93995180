package eventbus

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/require"
)

func setupTestHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()

	hub := NewHub(5 * time.Second)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			t.Logf("websocket accept error: %v", err)
			return
		}
		hub.HandleConnection(r.Context(), r.URL.Query().Get("id"), conn)
	}))
	t.Cleanup(server.Close)
	return hub, server
}

func connectWS(t *testing.T, server *httptest.Server, id string) *websocket.Conn {
	t.Helper()
	url := "ws" + server.URL[len("http"):] + "?id=" + id
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) OrchestratorEvent {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)

	var ev OrchestratorEvent
	require.NoError(t, json.Unmarshal(data, &ev))
	return ev
}

func TestHubBroadcastReachesConnectedClient(t *testing.T) {
	hub, server := setupTestHub(t)
	conn := connectWS(t, server, "client-1")

	hub.Broadcast(OrchestratorEvent{ID: "ev-1", Type: EventSessionWorking, Message: "hello"})

	got := readEvent(t, conn)
	require.Equal(t, "ev-1", got.ID)
	require.Equal(t, "hello", got.Message)
}

func TestHubReplaysBufferedEventsOnConnect(t *testing.T) {
	hub, server := setupTestHub(t)

	hub.Broadcast(OrchestratorEvent{ID: "ev-1", Message: "first"})
	hub.Broadcast(OrchestratorEvent{ID: "ev-2", Message: "second"})

	conn := connectWS(t, server, "late-joiner")

	first := readEvent(t, conn)
	second := readEvent(t, conn)
	require.Equal(t, "ev-1", first.ID)
	require.Equal(t, "ev-2", second.ID)
}

func TestHubActiveConnectionsTracksLifecycle(t *testing.T) {
	hub, server := setupTestHub(t)
	require.Eventually(t, func() bool { return hub.ActiveConnections() == 0 }, time.Second, 10*time.Millisecond)

	conn := connectWS(t, server, "client-1")
	require.Eventually(t, func() bool { return hub.ActiveConnections() == 1 }, time.Second, 10*time.Millisecond)

	conn.Close(websocket.StatusNormalClosure, "")
	require.Eventually(t, func() bool { return hub.ActiveConnections() == 0 }, time.Second, 10*time.Millisecond)
}
