package monitoring

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startHub(t *testing.T) (*Hub, string) {
	t.Helper()
	hub := NewHub(nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	server := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	t.Cleanup(func() {
		server.Close()
		cancel()
	})
	return hub, "ws" + strings.TrimPrefix(server.URL, "http")
}

func dial(t *testing.T, hub *Hub, url string, wantClients int) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.Eventually(t, func() bool { return hub.ClientCount() == wantClients }, 2*time.Second, 10*time.Millisecond)
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestHub_PublishReachesClients(t *testing.T) {
	hub, url := startHub(t)
	first := dial(t, hub, url, 1)
	second := dial(t, hub, url, 2)

	require.NoError(t, hub.Publish(PredictionEvent, map[string]any{"months": 7.5}))

	for _, conn := range []*websocket.Conn{first, second} {
		msg := readMessage(t, conn)
		assert.Equal(t, PredictionEvent, msg.Type)
		assert.NotEmpty(t, msg.ID)
		assert.JSONEq(t, `{"months":7.5}`, string(msg.Data))
	}
}

func TestHub_SubscriptionFilters(t *testing.T) {
	hub, url := startHub(t)
	conn := dial(t, hub, url, 1)

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: "subscribe", Topic: TrainingEvent}))
	ack := readMessage(t, conn)
	assert.Equal(t, Subscribed, ack.Type)

	require.NoError(t, hub.Publish(PredictionEvent, map[string]any{"months": 3}))
	require.NoError(t, hub.Publish(TrainingEvent, map[string]any{"rows": 100}))

	msg := readMessage(t, conn)
	assert.Equal(t, TrainingEvent, msg.Type)
}

func TestHub_ClientDisconnect(t *testing.T) {
	hub, url := startHub(t)
	conn := dial(t, hub, url, 1)
	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://clinic.example"})

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	assert.True(t, check(req))

	req.Header.Set("Origin", "https://clinic.example")
	assert.True(t, check(req))

	req.Header.Set("Origin", "https://evil.example")
	assert.False(t, check(req))

	assert.True(t, originChecker(nil)(req))
}
