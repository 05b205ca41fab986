package app

import (
	"sort"
	"time"

	"github.com/dkeye/roomchat/internal/core"
	"github.com/dkeye/roomchat/internal/domain"
	"github.com/rs/zerolog"
)

// Lobby is the room every connection lands in first. It owns the registry
// of chat rooms spawned through newRoom.
type Lobby struct {
	*Room
	rooms map[domain.RoomID]*ChatRoom
	sink  core.EventSink

	roomLogger zerolog.Logger
}

type lobbyHandlerFunc func(l *Lobby, p *Peer, req domain.Request, ack core.AckFunc) error

var lobbyHandlers = map[domain.Method]lobbyHandlerFunc{
	domain.MethodJoin:      (*Lobby).handleJoin,
	domain.MethodClosePeer: (*Lobby).handleClosePeer,
	domain.MethodNewRoom:   (*Lobby).handleNewRoom,
}

func NewLobby(id domain.RoomID, sink core.EventSink, cfg RoomConfig, exec core.Executor, logger zerolog.Logger) *Lobby {
	if id == "" {
		id = domain.DefaultLobbyID
	}
	l := &Lobby{
		rooms:      make(map[domain.RoomID]*ChatRoom),
		sink:       sink,
		roomLogger: logger,
	}
	l.Room = initRoom(id, domain.EventLobbyRequest, l, cfg, exec,
		logger.With().Str("module", "app.lobby").Logger())
	l.logger.Info().Msg("lobby created")
	return l
}

func (l *Lobby) HandleRequest(p *Peer, req domain.Request, ack core.AckFunc) error {
	h, ok := lobbyHandlers[req.Method]
	if !ok {
		return domain.ErrUnsupportedMethod
	}
	return h(l, p, req, ack)
}

func (l *Lobby) handleJoin(p *Peer, _ domain.Request, ack core.AckFunc) error {
	l.join(p, ack, domain.MethodNewMainPeer)
	return nil
}

func (l *Lobby) handleClosePeer(p *Peer, _ domain.Request, ack core.AckFunc) error {
	ack(nil, nil)
	p.Close()
	return nil
}

func (l *Lobby) handleNewRoom(p *Peer, req domain.Request, ack core.AckFunc) error {
	var d domain.NewRoomData
	if err := req.Decode(&d); err != nil {
		return err
	}
	if d.RoomID == "" || d.UserID == "" {
		return domain.NewError(domain.CodeBadRequest, "roomId and userId are required")
	}
	if d.RoomID == l.id {
		return domain.NewError(domain.CodeBadRequest, "roomId is reserved for the lobby")
	}

	room, ok := l.rooms[d.RoomID]
	if !ok || room.Closed() {
		room = NewChatRoom(d.RoomID, d.UserID, l.sink, l.cfg, l.exec, l.roomLogger)
		l.rooms[d.RoomID] = room
	}

	if rp, ok := room.Peer(d.UserID); ok {
		rp.Reconnect(p.conn, false)
	} else {
		rp = NewPeer(d.UserID, p.conn, l.exec, l.cfg.Liveness, l.roomLogger)
		room.Attach(rp)
	}

	if d.To == domain.ToAll {
		l.notify(p.conn, domain.MethodRoomCreated, d, true)
	} else if target, ok := l.peers[domain.UserID(d.To)]; ok && !target.closed {
		l.notify(target.conn, domain.MethodRoomCreated, d, false)
	}
	l.notify(p.conn, domain.MethodUpdateRoomOnNew, d, true)
	ack(nil, nil)
	return nil
}

// ChatRoom looks up a registered chat room, closed or not.
func (l *Lobby) ChatRoom(id domain.RoomID) (*ChatRoom, bool) {
	r, ok := l.rooms[id]
	return r, ok
}

// Rooms lists registered chat rooms ordered by id.
func (l *Lobby) Rooms() []*ChatRoom {
	out := make([]*ChatRoom, 0, len(l.rooms))
	for _, r := range l.rooms {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

func (l *Lobby) RoomReports(now time.Time) []domain.RoomStatus {
	rooms := l.Rooms()
	out := make([]domain.RoomStatus, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, r.StatusReport(now))
	}
	return out
}

// Sweep closes deserted chat rooms and drops closed ones from the registry.
func (l *Lobby) Sweep(now time.Time) (total, closed int) {
	for id, r := range l.rooms {
		total++
		if r.CheckDeserted(now) {
			closed++
			delete(l.rooms, id)
		}
		l.logger.Debug().Interface("status", r.StatusReport(now)).Msg("chat room status")
	}
	l.logger.Info().Int("total", total).Int("closed", closed).Msg("chat room sweep")
	return total, closed
}

// adopt takes over the open chat rooms of a lobby being replaced.
func (l *Lobby) adopt(prev *Lobby) {
	for id, r := range prev.rooms {
		if !r.Closed() {
			l.rooms[id] = r
		}
	}
	clear(prev.rooms)
}
