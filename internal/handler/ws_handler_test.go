package handler

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Plannorium/curenium-sub005/internal/app/chat"
)

func dialRoom(t *testing.T, env *testEnv, roomKey string) *websocket.Conn {
	t.Helper()

	wsURL := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/ws/" + roomKey

	conn, res, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if res != nil {
		res.Body.Close()
	}

	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) (chat.EventType, json.RawMessage) {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	var ev struct {
		Type    chat.EventType  `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	require.NoError(t, conn.ReadJSON(&ev))
	return ev.Type, ev.Payload
}

func authenticate(t *testing.T, conn *websocket.Conn, token string) {
	t.Helper()

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "auth", "token": token}))

	eventType, _ := readEvent(t, conn)
	require.Equal(t, chat.EventAuthOK, eventType)
}

func TestWebSocketMessageRoundTrip(t *testing.T) {
	env := newTestEnv(t)

	alice := dialRoom(t, env, "dm:alice:bob")
	bob := dialRoom(t, env, "dm:alice:bob")

	authenticate(t, alice, bearerToken(t, "alice", "Alice"))
	authenticate(t, bob, bearerToken(t, "bob", "Bob"))

	require.NoError(t, alice.WriteJSON(map[string]string{"type": "message", "text": "hello over the wire"}))

	for name, conn := range map[string]*websocket.Conn{"alice": alice, "bob": bob} {
		eventType, payload := readEvent(t, conn)
		require.Equal(t, chat.EventMessage, eventType, "connection %s", name)

		var msg chat.Message
		require.NoError(t, json.Unmarshal(payload, &msg))
		assert.Equal(t, "hello over the wire", msg.Body)
		assert.Equal(t, "alice", msg.Sender.ID)
		assert.Equal(t, "dm:alice:bob", msg.RoomKey)
	}

	// The message is durable, not just fanned out.
	require.Eventually(t, func() bool {
		messages, err := env.store.ListRecent(context.Background(), "dm:alice:bob", time.Time{}, 0)
		return err == nil && len(messages) == 1
	}, 2*time.Second, 20*time.Millisecond)
}

func TestWebSocketRejectsInvalidToken(t *testing.T) {
	env := newTestEnv(t)

	conn := dialRoom(t, env, "general")

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "auth", "token": "forged"}))

	eventType, _ := readEvent(t, conn)
	require.Equal(t, chat.EventAuthError, eventType)

	// The server closes with the auth-failure code after the error event.
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, chat.WsCloseCodeAuthFailed), "expected close code %d, got %v", chat.WsCloseCodeAuthFailed, err)
}

func TestWebSocketClosesWhenNoAuthArrives(t *testing.T) {
	env := newTestEnv(t)
	env.deps.Hub = chat.NewHub(env.store, chat.NewJWTVerifier(testJWTSecret), chat.Config{AuthWindow: 50 * time.Millisecond})
	t.Cleanup(env.deps.Hub.Shutdown)

	conn := dialRoom(t, env, "general")

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, chat.WsCloseCodeAuthFailed), "expected close code %d, got %v", chat.WsCloseCodeAuthFailed, err)
}

func TestWebSocketRejectsInvalidRoomKey(t *testing.T) {
	env := newTestEnv(t)

	wsURL := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/ws/dm:alice:alice"

	conn, res, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	if conn != nil {
		conn.Close()
	}
	require.NotNil(t, res)
	defer res.Body.Close()

	assert.Equal(t, 400, res.StatusCode)
}
