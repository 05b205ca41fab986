package ws

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/roomchat/internal/core"
	"github.com/dkeye/roomchat/internal/domain"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrClosed       = errors.New("connection closed")
)

const writeWait = 5 * time.Second

// Handshake carries what the HTTP layer learned before the upgrade.
type Handshake struct {
	Address string
	Query   url.Values
}

// Conn is one WebSocket client. Send side and connection state are safe for
// concurrent use; handler and listener maps belong to the event loop.
type Conn struct {
	id   string
	hub  *Hub
	ws   *websocket.Conn
	hs   Handshake
	send chan []byte

	mu        sync.Mutex
	closed    bool
	reason    string
	connected atomic.Bool

	limiter *rate.Limiter

	handlers map[string]map[string]core.RequestHandler
	onDisc   map[string]func(string)
	onErr    map[string]func(error)

	logger zerolog.Logger
}

var _ core.Conn = (*Conn)(nil)

func newConn(h *Hub, ws *websocket.Conn, hs Handshake) *Conn {
	id := uuid.NewString()
	if hs.Query == nil {
		hs.Query = url.Values{}
	}
	c := &Conn{
		id:       id,
		hub:      h,
		ws:       ws,
		hs:       hs,
		send:     make(chan []byte, h.cfg.SendBuffer),
		limiter:  newLimiter(h.cfg.RatePerSecond, h.cfg.RateBurst),
		handlers: make(map[string]map[string]core.RequestHandler),
		onDisc:   make(map[string]func(string)),
		onErr:    make(map[string]func(error)),
		logger:   h.logger.With().Str("sid", id).Logger(),
	}
	c.connected.Store(true)
	return c
}

func newLimiter(perSecond float64, burst int) *rate.Limiter {
	if perSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}

func (c *Conn) ID() string              { return c.id }
func (c *Conn) Address() string         { return c.hs.Address }
func (c *Conn) Query(key string) string { return c.hs.Query.Get(key) }
func (c *Conn) Connected() bool         { return c.connected.Load() }

// TrySend queues an encoded frame without blocking.
func (c *Conn) TrySend(b []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	select {
	case c.send <- b:
		return nil
	default:
		return ErrBackpressure
	}
}

func (c *Conn) sendJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	return c.TrySend(b)
}

func (c *Conn) Emit(event string, payload any) error {
	return c.sendJSON(EventFrame{Event: event, Data: payload})
}

func (c *Conn) Join(group string)  { c.hub.join(group, c) }
func (c *Conn) Leave(group string) { c.hub.leave(group, c) }

func (c *Conn) BroadcastTo(group, event string, payload any) {
	b, err := json.Marshal(EventFrame{Event: event, Data: payload})
	if err != nil {
		c.logger.Error().Err(err).Str("event", event).Msg("broadcast marshal")
		return
	}
	c.hub.broadcast(group, c, b)
}

// Disconnect stops accepting frames. The write pump flushes what is already
// queued, sends a close frame and closes the socket; the read pump then
// reports the disconnect through the event loop like any other.
func (c *Conn) Disconnect() {
	c.setReason("server disconnect")
	c.closeSend()
}

func (c *Conn) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.connected.Store(false)
	close(c.send)
}

// shutdown closes the socket without flushing.
func (c *Conn) shutdown() {
	c.closeSend()
	_ = c.ws.Close()
}

// setReason keeps the first reason recorded.
func (c *Conn) setReason(r string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reason == "" {
		c.reason = r
	}
}

func (c *Conn) Handle(event, key string, h core.RequestHandler) {
	m := c.handlers[event]
	if m == nil {
		m = make(map[string]core.RequestHandler)
		c.handlers[event] = m
	}
	m[key] = h
}

func (c *Conn) Unhandle(event, key string) {
	delete(c.handlers[event], key)
}

func (c *Conn) OnDisconnect(key string, fn func(string)) { c.onDisc[key] = fn }
func (c *Conn) OnError(key string, fn func(error))       { c.onErr[key] = fn }

func (c *Conn) Unlisten(key string) {
	delete(c.onDisc, key)
	delete(c.onErr, key)
}

// dispatch routes a request to the handler for its event, on the loop.
func (c *Conn) dispatch(f RequestFrame) {
	ack := c.ackFunc(f.ID)
	hs := c.handlers[f.Event]
	var h core.RequestHandler
	switch {
	case len(hs) == 0:
		ack(domain.ErrNoHandler, nil)
		return
	case f.Room != "":
		var ok bool
		if h, ok = hs[f.Room]; !ok {
			ack(domain.ErrNoHandler, nil)
			return
		}
	case len(hs) == 1:
		for _, only := range hs {
			h = only
		}
	default:
		ack(domain.ErrAmbiguousRoom, nil)
		return
	}
	h(f.Data, ack)
}

// ackFunc answers id at most once. Requests without an id get no answer.
func (c *Conn) ackFunc(id uint64) core.AckFunc {
	var done bool
	return func(err error, data any) {
		if done || id == 0 {
			return
		}
		done = true
		frame := AckFrame{Ack: id, Data: data}
		if err != nil {
			frame.Error = domain.AsCoded(err)
			frame.Data = nil
		}
		if serr := c.sendJSON(frame); serr != nil {
			c.logger.Debug().Err(serr).Uint64("ack", id).Msg("ack dropped")
		}
	}
}

func (c *Conn) fireDisconnect(reason string) {
	listeners := make([]func(string), 0, len(c.onDisc))
	for _, fn := range c.onDisc {
		listeners = append(listeners, fn)
	}
	for _, fn := range listeners {
		fn(reason)
	}
}

func (c *Conn) fireError(err error) {
	for _, fn := range c.onErr {
		fn(err)
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(c.hub.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		c.shutdown()
	}()
	for {
		select {
		case data, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Debug().Err(err).Msg("writePump write error")
				c.setReason("transport error")
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Debug().Err(err).Msg("writePump ping error")
				c.setReason("ping timeout")
				return
			}
		}
	}
}

func (c *Conn) readPump() {
	defer func() {
		c.hub.remove(c)
		c.shutdown()
		c.setReason("transport close")
		c.mu.Lock()
		reason := c.reason
		c.mu.Unlock()
		c.logger.Info().Str("reason", reason).Msg("connection closed")
		c.hub.exec.Post(func() { c.fireDisconnect(reason) })
	}()

	pongWait := c.hub.cfg.PingPeriod * 10 / 9
	c.ws.SetReadLimit(c.hub.cfg.ReadLimit)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn().Err(err).Msg("readPump read error")
			}
			return
		}
		var f RequestFrame
		if err := json.Unmarshal(data, &f); err != nil {
			c.logger.Warn().Err(err).Msg("bad frame")
			werr := fmt.Errorf("decode frame: %w", err)
			c.hub.exec.Post(func() { c.fireError(werr) })
			continue
		}
		if !c.limiter.Allow() {
			c.ackFunc(f.ID)(domain.ErrRateLimited, nil)
			continue
		}
		if !c.hub.exec.Post(func() { c.dispatch(f) }) {
			return
		}
	}
}
