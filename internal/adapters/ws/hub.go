// Package ws carries the session protocol over gorilla/websocket.
package ws

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/roomchat/internal/core"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"
)

type Config struct {
	ReadLimit      int64
	PingPeriod     time.Duration
	SendBuffer     int
	RatePerSecond  float64
	RateBurst      int
	AllowedOrigins []string
	Policy         Policy
}

func (c Config) withDefaults() Config {
	if c.ReadLimit <= 0 {
		c.ReadLimit = 64 << 10
	}
	if c.PingPeriod <= 0 {
		c.PingPeriod = 25 * time.Second
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 64
	}
	if c.Policy == nil {
		c.Policy = DropPolicy{}
	}
	return c
}

// Hub owns every live connection and the named groups used for broadcast.
type Hub struct {
	cfg      Config
	exec     core.Executor
	accept   func(core.Conn)
	upgrader websocket.Upgrader

	mu     sync.RWMutex
	conns  map[*Conn]struct{}
	groups map[string]map[*Conn]struct{}

	wg     conc.WaitGroup
	logger zerolog.Logger
}

// NewHub builds a hub that hands every accepted connection to accept on the
// event loop.
func NewHub(cfg Config, exec core.Executor, accept func(core.Conn), logger zerolog.Logger) *Hub {
	cfg = cfg.withDefaults()
	h := &Hub{
		cfg:    cfg,
		exec:   exec,
		accept: accept,
		conns:  make(map[*Conn]struct{}),
		groups: make(map[string]map[*Conn]struct{}),
		logger: logger.With().Str("module", "adapters.ws").Logger(),
	}
	h.upgrader = websocket.Upgrader{CheckOrigin: originChecker(cfg.AllowedOrigins)}
	return h
}

func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// Accept upgrades the request and starts the connection pumps.
func (h *Hub) Accept(w http.ResponseWriter, r *http.Request, hs Handshake) error {
	socket, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	c := newConn(h, socket, hs)
	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()
	h.logger.Info().Str("sid", c.id).Str("address", hs.Address).Msg("new WS connection")

	if !h.exec.Post(func() { h.accept(c) }) {
		c.shutdown()
		h.remove(c)
		return core.ErrLoopStopped
	}
	h.wg.Go(c.writePump)
	h.wg.Go(c.readPump)
	return nil
}

func (h *Hub) join(group string, c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, live := h.conns[c]; !live {
		return
	}
	g := h.groups[group]
	if g == nil {
		g = make(map[*Conn]struct{})
		h.groups[group] = g
	}
	g[c] = struct{}{}
}

func (h *Hub) leave(group string, c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if g, ok := h.groups[group]; ok {
		delete(g, c)
		if len(g) == 0 {
			delete(h.groups, group)
		}
	}
}

// broadcast queues b on every group member except from.
func (h *Hub) broadcast(group string, from *Conn, b []byte) {
	h.mu.RLock()
	members := make([]*Conn, 0, len(h.groups[group]))
	for c := range h.groups[group] {
		if c != from {
			members = append(members, c)
		}
	}
	h.mu.RUnlock()

	dropped := 0
	for _, c := range members {
		if err := c.TrySend(b); err != nil {
			dropped++
			if errors.Is(err, ErrBackpressure) {
				h.backpressure(c)
			}
		}
	}
	h.logger.Debug().Str("room_id", group).Int("sent_to", len(members)-dropped).Int("dropped", dropped).Msg("broadcast result")
}

func (h *Hub) backpressure(c *Conn) {
	action := h.cfg.Policy.OnBackpressure(c.id)
	h.logger.Warn().Str("sid", c.id).Stringer("action", action).Msg("send queue full")
	if action == KickClient {
		c.setReason("slow consumer")
		c.shutdown()
	}
}

// remove forgets c and drops it from every group.
func (h *Hub) remove(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, c)
	for name, g := range h.groups {
		delete(g, c)
		if len(g) == 0 {
			delete(h.groups, name)
		}
	}
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// GroupLen reports how many connections are in group.
func (h *Hub) GroupLen(group string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[group])
}

// Close disconnects every client and waits for the pumps to exit.
func (h *Hub) Close() {
	h.mu.RLock()
	all := make([]*Conn, 0, len(h.conns))
	for c := range h.conns {
		all = append(all, c)
	}
	h.mu.RUnlock()
	for _, c := range all {
		c.setReason("server shutdown")
		c.shutdown()
	}
	h.wg.Wait()
	h.logger.Info().Int("closed", len(all)).Msg("hub closed")
}
