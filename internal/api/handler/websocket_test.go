package handler

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/agent_review_server/internal/pkg/jwt"
	"github.com/qs3c/agent_review_server/internal/pkg/ws"
)

func setupWebSocketServer(t *testing.T) (*ws.Hub, *httptest.Server) {
	t.Helper()

	hub := ws.NewHub()
	router := gin.New()
	router.GET("/ws", NewWebSocketHandler(hub, testJWTSecret).Handle)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return hub, srv
}

func dialWS(t *testing.T, srv *httptest.Server, token string) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return conn
}

func TestWebSocketHandler_MissingToken(t *testing.T) {
	_, srv := setupWebSocketServer(t)

	resp, err := http.Get(srv.URL + "/ws")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWebSocketHandler_InvalidToken(t *testing.T) {
	_, srv := setupWebSocketServer(t)

	resp, err := http.Get(srv.URL + "/ws?token=not-a-jwt")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWebSocketHandler_ConnectedEventThenPush(t *testing.T) {
	hub, srv := setupWebSocketServer(t)

	token, err := jwt.GenerateToken(42, testJWTSecret, 1)
	require.NoError(t, err)
	conn := dialWS(t, srv, token)

	var msg struct {
		Type string                 `json:"type"`
		Data map[string]interface{} `json:"data"`
	}

	// 握手后先收到 connected 事件，声明后续的事件类型
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "connected", msg.Type)
	assert.Contains(t, msg.Data["events"], "analysis_progress")
	assert.Contains(t, msg.Data["events"], "fix_progress")

	// 注册完成后进度推送能到达
	require.Eventually(t, func() bool { return hub.IsOnline(42) }, time.Second, 10*time.Millisecond)
	require.NoError(t, hub.SendToUser(42, &ws.Message{
		Type: "analysis_progress",
		Data: map[string]interface{}{"progress": 30},
	}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "analysis_progress", msg.Type)
	assert.EqualValues(t, 30, msg.Data["progress"])
}

func TestWebSocketHandler_DisconnectUnregisters(t *testing.T) {
	hub, srv := setupWebSocketServer(t)

	token, err := jwt.GenerateToken(7, testJWTSecret, 1)
	require.NoError(t, err)
	conn := dialWS(t, srv, token)

	require.Eventually(t, func() bool { return hub.IsOnline(7) }, time.Second, 10*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return !hub.IsOnline(7) }, time.Second, 10*time.Millisecond)
}
