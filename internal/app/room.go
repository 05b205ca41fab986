package app

import (
	"fmt"
	"sort"
	"time"

	"github.com/dkeye/roomchat/internal/core"
	"github.com/dkeye/roomchat/internal/domain"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/panics"
)

// RoomHandler is what a concrete room adds on top of Room.
type RoomHandler interface {
	HandleRequest(p *Peer, req domain.Request, ack core.AckFunc) error
}

type RoomConfig struct {
	IdleTimeout time.Duration
	Liveness    LivenessConfig
}

func (c RoomConfig) withDefaults() RoomConfig {
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 2 * time.Hour
	}
	c.Liveness = c.Liveness.withDefaults()
	return c
}

// Room holds the membership and dispatch logic shared by the lobby and
// chat rooms. Not safe for concurrent use; callers run on the event loop.
type Room struct {
	id      domain.RoomID
	event   string
	handler RoomHandler

	peers        map[domain.UserID]*Peer
	closed       bool
	createdAt    time.Time
	lastActiveAt time.Time

	onClose func(*Room)

	cfg    RoomConfig
	exec   core.Executor
	now    func() time.Time
	logger zerolog.Logger
}

func initRoom(id domain.RoomID, event string, h RoomHandler, cfg RoomConfig, exec core.Executor, logger zerolog.Logger) *Room {
	r := &Room{
		id:      id,
		event:   event,
		handler: h,
		peers:   make(map[domain.UserID]*Peer),
		cfg:     cfg.withDefaults(),
		exec:    exec,
		now:     time.Now,
		logger:  logger.With().Str("room_id", string(id)).Logger(),
	}
	r.createdAt = r.now()
	r.lastActiveAt = r.createdAt
	return r
}

func (r *Room) ID() domain.RoomID { return r.id }
func (r *Room) Closed() bool      { return r.closed }
func (r *Room) Len() int          { return len(r.peers) }

// OnClose registers the callback fired once when the room closes.
func (r *Room) OnClose(fn func(*Room)) { r.onClose = fn }

func (r *Room) Peer(id domain.UserID) (*Peer, bool) {
	p, ok := r.peers[id]
	return p, ok
}

// Attach makes p a member: its connection joins the room group and starts
// routing room requests here.
func (r *Room) Attach(p *Peer) {
	if r.closed {
		r.logger.Warn().Str("peer_id", string(p.id)).Msg("attach to closed room ignored")
		return
	}
	group := string(r.id)
	p.attach(group, r.event, func(req domain.Request, ack core.AckFunc) {
		r.dispatch(p, req, ack)
	}, r.peerClosed)
	r.peers[p.id] = p
	r.logger.Info().Str("peer_id", string(p.id)).Str("address", p.address).Msg("peer attached")
}

func (r *Room) peerClosed(p *Peer, kind CloseKind) {
	if r.closed {
		return
	}
	if cur, ok := r.peers[p.id]; !ok || cur != p {
		return
	}
	method := domain.MethodPeerClosed
	if kind == ClosedMain {
		method = domain.MethodMainPeerClosed
	}
	r.notify(p.conn, method, domain.PeerClosed{PeerID: p.id}, true)
	delete(r.peers, p.id)
	r.logger.Info().Str("peer_id", string(p.id)).Stringer("kind", kind).Int("left", len(r.peers)).Msg("peer removed")
	if len(r.peers) == 0 {
		r.Close()
	}
}

func (r *Room) dispatch(p *Peer, req domain.Request, ack core.AckFunc) {
	if r.closed {
		ack(domain.ErrRoomClosed, nil)
		return
	}
	if cur, ok := r.peers[p.id]; !ok || cur != p || p.closed {
		ack(domain.ErrNotInRoom, nil)
		return
	}
	r.lastActiveAt = r.now()
	r.logger.Debug().Str("peer_id", string(p.id)).Str("method", string(req.Method)).Msg("request")

	var err error
	var pc panics.Catcher
	pc.Try(func() { err = r.handler.HandleRequest(p, req, ack) })
	if rec := pc.Recovered(); rec != nil {
		r.logger.Error().Err(rec.AsError()).Str("peer_id", string(p.id)).Str("method", string(req.Method)).Msg("request panicked")
		ack(domain.NewError(domain.CodeInternal, "internal error"), nil)
		return
	}
	if err != nil {
		r.logger.Warn().Err(fmt.Errorf("handle %s: %w", req.Method, err)).Str("peer_id", string(p.id)).Msg("request failed")
		ack(err, nil)
	}
}

// join is the idempotent join shared by every room kind.
func (r *Room) join(p *Peer, ack core.AckFunc, announce domain.Method) {
	if p.joined {
		ack(nil, domain.JoinAck{Peers: []domain.PeerInfo{}, Joined: true})
		return
	}
	others := make([]domain.PeerInfo, 0, len(r.peers))
	for id, o := range r.peers {
		if id == p.id || o.closed {
			continue
		}
		others = append(others, o.Info())
	}
	sort.Slice(others, func(i, j int) bool { return others[i].ID < others[j].ID })
	ack(nil, domain.JoinAck{Peers: others, Joined: false})
	r.notify(p.conn, announce, p.Info(), true)
	p.joined = true
}

// notify sends a notification on conn, or to the rest of the group when
// broadcast is set.
func (r *Room) notify(conn core.Conn, method domain.Method, data any, broadcast bool) {
	if conn == nil {
		return
	}
	n := domain.Notification{Method: method, Data: data}
	if broadcast {
		conn.BroadcastTo(string(r.id), domain.EventNotification, n)
		return
	}
	if err := conn.Emit(domain.EventNotification, n); err != nil {
		r.logger.Debug().Err(err).Str("sid", conn.ID()).Str("method", string(method)).Msg("notification dropped")
	}
}

// route delivers data to everyone when to is "all", otherwise to the
// addressed member. Unknown addressees are dropped silently.
func (r *Room) route(from *Peer, to string, method domain.Method, data any) {
	if r.closed || from.closed {
		return
	}
	if to == domain.ToAll {
		r.notify(from.conn, method, data, true)
		return
	}
	if target, ok := r.peers[domain.UserID(to)]; ok && !target.closed {
		r.notify(target.conn, method, data, false)
	}
}

// SendToPeer broadcasts on behalf of the member id. No-op for unknown ids.
func (r *Room) SendToPeer(id domain.UserID, method domain.Method, data any) {
	p, ok := r.peers[id]
	if !ok {
		return
	}
	r.notify(p.conn, method, data, true)
}

// Close closes every remaining peer and fires the close callback once.
func (r *Room) Close() {
	if r.closed {
		return
	}
	r.closed = true
	peers := make([]*Peer, 0, len(r.peers))
	for _, p := range r.peers {
		peers = append(peers, p)
	}
	for _, p := range peers {
		if !p.closed {
			p.Close()
		}
	}
	clear(r.peers)
	r.logger.Info().Int("closed_peers", len(peers)).Msg("room closed")
	if r.onClose != nil {
		r.onClose(r)
	}
}

// CheckDeserted closes the room when it is empty or has been idle past the
// threshold, and reports whether it is closed.
func (r *Room) CheckDeserted(now time.Time) bool {
	if r.closed {
		return true
	}
	if len(r.peers) == 0 {
		r.logger.Info().Msg("room empty, closing")
		r.Close()
		return true
	}
	if idle := now.Sub(r.lastActiveAt); idle > r.cfg.IdleTimeout {
		r.logger.Warn().Dur("idle", idle).Msg("room idle too long, closing")
		r.Close()
		return true
	}
	return false
}

func (r *Room) StatusReport(now time.Time) domain.RoomStatus {
	ids := make([]domain.UserID, 0, len(r.peers))
	for id := range r.peers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return domain.RoomStatus{
		ID:          r.id,
		Peers:       ids,
		AgeSeconds:  int64(now.Sub(r.createdAt) / time.Second),
		IdleSeconds: int64(now.Sub(r.lastActiveAt) / time.Second),
		Closed:      r.closed,
	}
}
