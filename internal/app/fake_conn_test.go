package app

import (
	"encoding/json"
	"strconv"
	"sync"
	"testing"

	"github.com/dkeye/roomchat/internal/core"
	"github.com/dkeye/roomchat/internal/domain"
	"github.com/stretchr/testify/require"
)

type sentFrame struct {
	Event   string
	Payload any
}

type ackResult struct {
	Err   error
	Data  any
	Calls int
}

type fakeHub struct {
	mu     sync.Mutex
	groups map[string]map[*fakeConn]struct{}
	seq    int
}

func newFakeHub() *fakeHub {
	return &fakeHub{groups: make(map[string]map[*fakeConn]struct{})}
}

// fakeConn is an in-memory core.Conn. Disconnect fires listeners inline.
type fakeConn struct {
	hub       *fakeHub
	id        string
	query     map[string]string
	connected bool

	mu       sync.Mutex
	inbox    []sentFrame
	handlers map[string]map[string]core.RequestHandler
	onDisc   map[string]func(string)
	onErr    map[string]func(error)
}

func (h *fakeHub) conn(userID string) *fakeConn {
	h.mu.Lock()
	h.seq++
	seq := h.seq
	h.mu.Unlock()
	return &fakeConn{
		hub:       h,
		id:        userID + "-conn-" + strconv.Itoa(seq),
		query:     map[string]string{QueryUserID: userID},
		connected: true,
		handlers:  make(map[string]map[string]core.RequestHandler),
		onDisc:    make(map[string]func(string)),
		onErr:     make(map[string]func(error)),
	}
}

func (c *fakeConn) ID() string              { return c.id }
func (c *fakeConn) Address() string         { return "127.0.0.1" }
func (c *fakeConn) Query(key string) string { return c.query[key] }
func (c *fakeConn) Connected() bool         { return c.connected }

func (c *fakeConn) Emit(event string, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inbox = append(c.inbox, sentFrame{Event: event, Payload: payload})
	return nil
}

func (c *fakeConn) Join(group string) {
	c.hub.mu.Lock()
	defer c.hub.mu.Unlock()
	if c.hub.groups[group] == nil {
		c.hub.groups[group] = make(map[*fakeConn]struct{})
	}
	c.hub.groups[group][c] = struct{}{}
}

func (c *fakeConn) Leave(group string) {
	c.hub.mu.Lock()
	defer c.hub.mu.Unlock()
	delete(c.hub.groups[group], c)
}

func (c *fakeConn) BroadcastTo(group, event string, payload any) {
	c.hub.mu.Lock()
	members := make([]*fakeConn, 0, len(c.hub.groups[group]))
	for m := range c.hub.groups[group] {
		if m != c {
			members = append(members, m)
		}
	}
	c.hub.mu.Unlock()
	for _, m := range members {
		_ = m.Emit(event, payload)
	}
}

func (c *fakeConn) Disconnect() {
	if !c.connected {
		return
	}
	c.connected = false
	c.hub.mu.Lock()
	for _, g := range c.hub.groups {
		delete(g, c)
	}
	c.hub.mu.Unlock()
	listeners := make([]func(string), 0, len(c.onDisc))
	for _, fn := range c.onDisc {
		listeners = append(listeners, fn)
	}
	for _, fn := range listeners {
		fn("transport close")
	}
}

// drop simulates the client going away without a server-side close.
func (c *fakeConn) drop() { c.Disconnect() }

func (c *fakeConn) Handle(event, key string, h core.RequestHandler) {
	if c.handlers[event] == nil {
		c.handlers[event] = make(map[string]core.RequestHandler)
	}
	c.handlers[event][key] = h
}

func (c *fakeConn) Unhandle(event, key string) { delete(c.handlers[event], key) }

func (c *fakeConn) OnDisconnect(key string, fn func(string)) { c.onDisc[key] = fn }
func (c *fakeConn) OnError(key string, fn func(error))       { c.onErr[key] = fn }

func (c *fakeConn) Unlisten(key string) {
	delete(c.onDisc, key)
	delete(c.onErr, key)
}

// request invokes the handler registered for (event, key) and records the ack.
func (c *fakeConn) request(t *testing.T, event, key string, method domain.Method, data any) *ackResult {
	t.Helper()
	h, ok := c.handlers[event][key]
	require.True(t, ok, "no handler for %s/%s on %s", event, key, c.id)
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		require.NoError(t, err)
		raw = b
	}
	res := &ackResult{}
	h(domain.Request{Method: method, Data: raw}, func(err error, d any) {
		res.Calls++
		if res.Calls == 1 {
			res.Err, res.Data = err, d
		}
	})
	return res
}

func (c *fakeConn) lobby(t *testing.T, method domain.Method, data any) *ackResult {
	return c.request(t, domain.EventLobbyRequest, string(domain.DefaultLobbyID), method, data)
}

func (c *fakeConn) room(t *testing.T, room domain.RoomID, method domain.Method, data any) *ackResult {
	return c.request(t, domain.EventRoomRequest, string(room), method, data)
}

// notifications returns the methods of every notification received so far.
func (c *fakeConn) notifications() []domain.Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []domain.Notification
	for _, f := range c.inbox {
		if n, ok := f.Payload.(domain.Notification); ok && f.Event == domain.EventNotification {
			out = append(out, n)
		}
	}
	return out
}

func (c *fakeConn) methods() []domain.Method {
	var out []domain.Method
	for _, n := range c.notifications() {
		out = append(out, n.Method)
	}
	return out
}

func (c *fakeConn) reset() {
	c.mu.Lock()
	c.inbox = nil
	c.mu.Unlock()
}
