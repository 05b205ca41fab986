package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	nethttp "net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	router "github.com/dkeye/roomchat/internal/adapters/http"
	"github.com/dkeye/roomchat/internal/adapters/ws"
	"github.com/dkeye/roomchat/internal/app"
	"github.com/dkeye/roomchat/internal/config"
	"github.com/dkeye/roomchat/internal/core"
	"github.com/dkeye/roomchat/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	loop := core.NewEventLoop(64, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = loop.Run(ctx)
	}()

	srv := app.NewServer(app.ServerConfig{}, loop, nil, zerolog.Nop())
	hub := ws.NewHub(ws.Config{AllowedOrigins: []string{"*"}}, loop, srv.HandleConnection, zerolog.Nop())
	cfg := &config.Config{Mode: "test", Secret: "test-secret", StaticPath: t.TempDir()}
	ts := httptest.NewServer(router.SetupRouter(cfg, loop, srv, hub, zerolog.Nop()))
	t.Cleanup(func() {
		hub.Close()
		ts.Close()
		cancel()
		<-done
	})
	return ts
}

func TestHealthz(t *testing.T) {
	ts := newServer(t)

	resp, err := nethttp.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, nethttp.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestSessionRequiresUserID(t *testing.T) {
	ts := newServer(t)

	resp, err := nethttp.Post(ts.URL+"/api/session", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, nethttp.StatusBadRequest, resp.StatusCode)

	resp2, err := nethttp.Get(ts.URL + "/api/session")
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, nethttp.StatusNotFound, resp2.StatusCode)
}

func TestSessionCookieIdentifiesWebSocket(t *testing.T) {
	ts := newServer(t)

	resp, err := nethttp.Post(ts.URL+"/api/session", "application/json", bytes.NewReader([]byte(`{"userId":"u1"}`)))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, nethttp.StatusOK, resp.StatusCode)
	cookies := resp.Cookies()
	require.NotEmpty(t, cookies)

	req, err := nethttp.NewRequest(nethttp.MethodGet, ts.URL+"/api/session", nil)
	require.NoError(t, err)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	resp, err = nethttp.DefaultClient.Do(req)
	require.NoError(t, err)
	var who map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&who))
	resp.Body.Close()
	assert.Equal(t, "u1", who["userId"])

	header := nethttp.Header{}
	for _, c := range cookies {
		header.Add("Cookie", c.Name+"="+c.Value)
	}
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/api/ws", header)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(ws.RequestFrame{
		Event: domain.EventLobbyRequest,
		ID:    1,
		Data:  domain.Request{Method: domain.MethodJoin},
	}))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ack ws.InboundFrame
	require.NoError(t, conn.ReadJSON(&ack))
	require.True(t, ack.IsAck())
	assert.Nil(t, ack.Error)

	require.Eventually(t, func() bool {
		resp, err := nethttp.Get(ts.URL + "/api/lobby")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		var rep domain.RoomStatus
		if json.NewDecoder(resp.Body).Decode(&rep) != nil {
			return false
		}
		return len(rep.Peers) == 1 && rep.Peers[0] == "u1"
	}, 2*time.Second, 20*time.Millisecond)
}

func TestRoomsReport(t *testing.T) {
	ts := newServer(t)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/api/ws?userId=u2", nil)
	require.NoError(t, err)
	defer conn.Close()
	data, err := json.Marshal(domain.NewRoomData{RoomID: "r1", UserID: "u2"})
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(ws.RequestFrame{
		Event: domain.EventLobbyRequest,
		ID:    1,
		Data:  domain.Request{Method: domain.MethodNewRoom, Data: data},
	}))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ack ws.InboundFrame
	require.NoError(t, conn.ReadJSON(&ack))
	require.Nil(t, ack.Error)

	resp, err := nethttp.Get(ts.URL + "/api/rooms")
	require.NoError(t, err)
	defer resp.Body.Close()
	var body struct {
		Rooms []domain.RoomStatus `json:"rooms"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Rooms, 1)
	assert.Equal(t, domain.RoomID("r1"), body.Rooms[0].ID)
	assert.Equal(t, []domain.UserID{"u2"}, body.Rooms[0].Peers)
}
