package ws_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/roomchat/internal/adapters/ws"
	"github.com/dkeye/roomchat/internal/app"
	"github.com/dkeye/roomchat/internal/core"
	"github.com/dkeye/roomchat/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type stack struct {
	url  string
	loop *core.EventLoop
	srv  *app.Server
	hub  *ws.Hub
}

func newStack(t *testing.T, cfg ws.Config) *stack {
	t.Helper()
	loop := core.NewEventLoop(256, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = loop.Run(ctx)
	}()

	srv := app.NewServer(app.ServerConfig{}, loop, nil, zerolog.Nop())
	if cfg.AllowedOrigins == nil {
		cfg.AllowedOrigins = []string{"*"}
	}
	hub := ws.NewHub(cfg, loop, srv.HandleConnection, zerolog.Nop())
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = hub.Accept(w, r, ws.Handshake{Address: r.RemoteAddr, Query: r.URL.Query()})
	}))
	t.Cleanup(func() {
		hub.Close()
		ts.Close()
		cancel()
		<-done
	})
	return &stack{
		url:  "ws" + strings.TrimPrefix(ts.URL, "http"),
		loop: loop,
		srv:  srv,
		hub:  hub,
	}
}

type notification struct {
	Method domain.Method   `json:"method"`
	Data   json.RawMessage `json:"data"`
}

// client is a minimal protocol client: request/ack with a deadline and a
// queue of notifications.
type client struct {
	t    *testing.T
	conn *websocket.Conn

	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]chan ws.InboundFrame
	events  chan notification
	closed  chan struct{}
}

func dial(t *testing.T, s *stack, userID string) *client {
	t.Helper()
	u := s.url
	if userID != "" {
		u += "?" + url.Values{"userId": {userID}}.Encode()
	}
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	c := &client{
		t:       t,
		conn:    conn,
		pending: make(map[uint64]chan ws.InboundFrame),
		events:  make(chan notification, 64),
		closed:  make(chan struct{}),
	}
	go c.readLoop()
	t.Cleanup(func() { _ = conn.Close() })
	return c
}

func (c *client) readLoop() {
	defer close(c.closed)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var f ws.InboundFrame
		if err := json.Unmarshal(data, &f); err != nil {
			continue
		}
		if f.IsAck() {
			c.mu.Lock()
			ch := c.pending[f.Ack]
			delete(c.pending, f.Ack)
			c.mu.Unlock()
			if ch != nil {
				ch <- f
			}
			continue
		}
		if f.Event == domain.EventNotification {
			var n notification
			if err := json.Unmarshal(f.Data, &n); err == nil {
				c.events <- n
			}
		}
	}
}

func (c *client) request(ctx context.Context, event, room string, method domain.Method, data any) (ws.InboundFrame, error) {
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return ws.InboundFrame{}, err
		}
		raw = b
	}
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	ch := make(chan ws.InboundFrame, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	frame := ws.RequestFrame{Event: event, ID: id, Room: room, Data: domain.Request{Method: method, Data: raw}}
	if err := c.conn.WriteJSON(frame); err != nil {
		return ws.InboundFrame{}, err
	}
	select {
	case f := <-ch:
		return f, nil
	case <-ctx.Done():
		return ws.InboundFrame{}, ctx.Err()
	}
}

func (c *client) call(event, room string, method domain.Method, data any) ws.InboundFrame {
	c.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	f, err := c.request(ctx, event, room, method, data)
	require.NoError(c.t, err)
	return f
}

func (c *client) lobby(method domain.Method, data any) ws.InboundFrame {
	return c.call(domain.EventLobbyRequest, "", method, data)
}

func (c *client) room(room string, method domain.Method, data any) ws.InboundFrame {
	return c.call(domain.EventRoomRequest, room, method, data)
}

// await skips notifications until one with method arrives.
func (c *client) await(method domain.Method) notification {
	c.t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case n := <-c.events:
			if n.Method == method {
				return n
			}
		case <-timeout:
			c.t.Fatalf("no %s notification", method)
		}
	}
}

func (c *client) waitClosed() bool {
	select {
	case <-c.closed:
		return true
	case <-time.After(2 * time.Second):
		return false
	}
}
