package app

import (
	"context"
	"time"

	"github.com/dkeye/roomchat/internal/core"
	"github.com/dkeye/roomchat/internal/domain"
	"github.com/rs/zerolog"
)

// CloseKind tells the owning room how a peer went away.
type CloseKind int

const (
	// ClosedRoom: the peer left this room but its connection stays up.
	ClosedRoom CloseKind = iota
	// ClosedMain: the peer is gone, its connection was torn down.
	ClosedMain
)

func (k CloseKind) String() string {
	if k == ClosedMain {
		return "mainclose"
	}
	return "close"
}

type LivenessConfig struct {
	Interval  time.Duration
	MaxChecks int
}

func (c LivenessConfig) withDefaults() LivenessConfig {
	if c.Interval <= 0 {
		c.Interval = 20 * time.Second
	}
	if c.MaxChecks <= 0 {
		c.MaxChecks = 6
	}
	return c
}

// Peer is one user's presence in one room. The same user holds a separate
// Peer per room it is attached to, all sharing one connection.
type Peer struct {
	id      domain.UserID
	conn    core.Conn
	address string

	joined bool
	closed bool

	enterTime time.Time
	lastSeen  time.Time

	// set by the owning room on attach
	group   string
	event   string
	handler core.RequestHandler
	onClose func(*Peer, CloseKind)

	exec     core.Executor
	liveness LivenessConfig
	checks   int
	watchGen uint64
	stop     context.CancelFunc

	now    func() time.Time
	logger zerolog.Logger
}

func NewPeer(id domain.UserID, conn core.Conn, exec core.Executor, liveness LivenessConfig, logger zerolog.Logger) *Peer {
	p := &Peer{
		id:       id,
		exec:     exec,
		liveness: liveness.withDefaults(),
		now:      time.Now,
		logger:   logger.With().Str("module", "app.peer").Str("peer_id", string(id)).Logger(),
	}
	p.enterTime = p.now()
	p.lastSeen = p.enterTime
	p.conn = conn
	if conn != nil {
		p.address = conn.Address()
	}
	return p
}

func (p *Peer) ID() domain.UserID { return p.id }
func (p *Peer) Conn() core.Conn   { return p.conn }
func (p *Peer) Joined() bool      { return p.joined }
func (p *Peer) Closed() bool      { return p.closed }
func (p *Peer) LastSeen() time.Time {
	return p.lastSeen
}

// Info is the presence snapshot other peers see.
func (p *Peer) Info() domain.PeerInfo {
	return domain.PeerInfo{
		ID:           p.id,
		Address:      p.address,
		DurationTime: p.now().Sub(p.enterTime).Seconds(),
	}
}

// attach wires the peer to its owning room and installs the room's handler.
func (p *Peer) attach(group, event string, h core.RequestHandler, onClose func(*Peer, CloseKind)) {
	p.group = group
	p.event = event
	p.handler = h
	p.onClose = onClose
	p.bind(p.conn)
	p.conn.Join(group)
	p.conn.Handle(event, group, h)
}

func (p *Peer) bind(conn core.Conn) {
	p.conn = conn
	p.address = conn.Address()
	conn.OnDisconnect(p.group, p.handleDisconnect)
	conn.OnError(p.group, p.handleError)
}

// Reconnect moves the peer onto a fresh connection, keeping its id and
// room membership. For the lobby the stale connection is torn down.
func (p *Peer) Reconnect(conn core.Conn, isLobby bool) {
	if p.closed {
		return
	}
	old := p.conn
	if old != nil && old != conn {
		old.Leave(p.group)
		old.Unlisten(p.group)
		old.Unhandle(p.event, p.group)
		if isLobby {
			old.Disconnect()
		}
	}
	p.bind(conn)
	conn.Join(p.group)
	if p.handler != nil {
		conn.Handle(p.event, p.group, p.handler)
	}
	p.stopWatch()
	p.checks = 0
	p.lastSeen = p.now()
	p.logger.Info().Str("room_id", p.group).Str("sid", conn.ID()).Msg("peer reconnected")
}

// Close tears the peer down together with its connection.
func (p *Peer) Close() {
	if p.closed {
		return
	}
	p.closed = true
	p.lastSeen = p.now()
	if p.conn != nil {
		p.conn.Disconnect()
	}
	p.stopWatch()
	p.logger.Info().Str("room_id", p.group).Msg("peer closed")
	if p.onClose != nil {
		p.onClose(p, ClosedMain)
	}
}

// LeaveRoom detaches the peer from its room only.
func (p *Peer) LeaveRoom() {
	if p.closed {
		return
	}
	p.closed = true
	p.lastSeen = p.now()
	if p.conn != nil {
		p.conn.Leave(p.group)
		p.conn.Unhandle(p.event, p.group)
		p.conn.Unlisten(p.group)
	}
	p.stopWatch()
	p.logger.Info().Str("room_id", p.group).Msg("peer left room")
	if p.onClose != nil {
		p.onClose(p, ClosedRoom)
	}
}

func (p *Peer) handleDisconnect(reason string) {
	if p.closed {
		return
	}
	p.lastSeen = p.now()
	p.logger.Info().Str("room_id", p.group).Str("reason", reason).Msg("peer disconnected")
	p.checks = 0
	p.startWatch()
}

func (p *Peer) handleError(err error) {
	p.logger.Warn().Err(err).Str("room_id", p.group).Msg("connection error")
}

// startWatch polls the connection until it comes back or the peer
// exhausts its checks.
func (p *Peer) startWatch() {
	p.stopWatch()
	p.watchGen++
	gen := p.watchGen
	ctx, cancel := context.WithCancel(context.Background())
	p.stop = cancel
	interval := p.liveness.Interval
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if !p.exec.Post(func() { p.tick(gen) }) {
					return
				}
			}
		}
	}()
}

func (p *Peer) stopWatch() {
	if p.stop != nil {
		p.stop()
		p.stop = nil
	}
	p.watchGen++
}

func (p *Peer) tick(gen uint64) {
	if gen != p.watchGen || p.closed {
		return
	}
	p.checkClose()
}

func (p *Peer) checkClose() {
	if p.conn != nil && p.conn.Connected() {
		p.stopWatch()
		p.checks = 0
		return
	}
	p.checks++
	p.logger.Debug().Int("checks", p.checks).Msg("peer still disconnected")
	if p.checks > p.liveness.MaxChecks {
		p.Close()
	}
}
