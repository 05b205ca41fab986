package app

import (
	"encoding/json"
	"fmt"

	"github.com/dkeye/roomchat/internal/core"
	"github.com/dkeye/roomchat/internal/domain"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
)

// ChatRoom is a nested room spawned from the lobby. Everything accepted here
// is also emitted to the sink.
type ChatRoom struct {
	*Room
	owner domain.UserID
	sink  core.EventSink
}

type chatHandlerFunc func(c *ChatRoom, p *Peer, req domain.Request, ack core.AckFunc) error

var chatHandlers = map[domain.Method]chatHandlerFunc{
	domain.MethodJoin:          (*ChatRoom).handleJoin,
	domain.MethodClosePeer:     (*ChatRoom).handleClosePeer,
	domain.MethodChatMessage:   (*ChatRoom).handleChatMessage,
	domain.MethodDeleteMessage: (*ChatRoom).handleDeleteMessage,
	domain.MethodUpdateRoom:    (*ChatRoom).handleUpdateRoom,
	domain.MethodDeleteRoom:    (*ChatRoom).handleDeleteRoom,
	domain.MethodUpdateStatus:  (*ChatRoom).handleUpdateStatus,
	domain.MethodPeerUpdate:    (*ChatRoom).handlePeerUpdate,
	domain.MethodUpdatePeer:    (*ChatRoom).handlePeerUpdate,
}

func NewChatRoom(id domain.RoomID, owner domain.UserID, sink core.EventSink, cfg RoomConfig, exec core.Executor, logger zerolog.Logger) *ChatRoom {
	c := &ChatRoom{owner: owner, sink: sink}
	c.Room = initRoom(id, domain.EventRoomRequest, c, cfg, exec,
		logger.With().Str("module", "app.chat_room").Logger())
	c.logger.Info().Str("owner", string(owner)).Msg("chat room created")
	return c
}

func (c *ChatRoom) Owner() domain.UserID { return c.owner }

func (c *ChatRoom) HandleRequest(p *Peer, req domain.Request, ack core.AckFunc) error {
	h, ok := chatHandlers[req.Method]
	if !ok {
		return domain.ErrUnsupportedMethod
	}
	return h(c, p, req, ack)
}

func (c *ChatRoom) emit(method domain.Method, data any) {
	if c.sink != nil {
		c.sink.Emit(string(method), data)
	}
}

func (c *ChatRoom) handleJoin(p *Peer, _ domain.Request, ack core.AckFunc) error {
	c.join(p, ack, domain.MethodNewPeer)
	return nil
}

func (c *ChatRoom) handleClosePeer(p *Peer, _ domain.Request, ack core.AckFunc) error {
	ack(nil, nil)
	p.LeaveRoom()
	return nil
}

func (c *ChatRoom) handleChatMessage(p *Peer, req domain.Request, ack core.AckFunc) error {
	var d domain.ChatMessageData
	if err := req.Decode(&d); err != nil {
		return err
	}
	if d.RoomID != c.id {
		return domain.ErrRoomMismatch
	}
	forward := rawData(req.Data)
	if d.ID == "" {
		d.ID = ulid.Make().String()
		withID, err := setField(req.Data, "id", d.ID)
		if err != nil {
			return err
		}
		forward = withID
	}
	c.emit(domain.MethodChatMessage, domain.MessageRecord{
		ID:         d.ID,
		SenderID:   p.id,
		RoomID:     c.id,
		Text:       d.ChatMessage,
		CreateTime: d.CreateTime,
		Received:   []domain.UserID{},
		Viewed:     []domain.UserID{},
		Who:        "me",
		WhoType:    d.WhoType,
		Status:     domain.StatusSent,
	})
	c.route(p, d.To, domain.MethodChatMessage, forward)
	ack(nil, nil)
	return nil
}

func (c *ChatRoom) handleDeleteMessage(p *Peer, req domain.Request, ack core.AckFunc) error {
	var d domain.DeleteMessageData
	if err := req.Decode(&d); err != nil {
		return err
	}
	c.emit(domain.MethodDeleteMessage, d)
	c.route(p, d.To, domain.MethodDeleteMessage, rawData(req.Data))
	ack(nil, nil)
	return nil
}

func (c *ChatRoom) handleUpdateRoom(p *Peer, req domain.Request, ack core.AckFunc) error {
	var d domain.UpdateRoomData
	if err := req.Decode(&d); err != nil {
		return err
	}
	if len(d.RoomData) > 0 && string(d.RoomData) != "null" {
		c.emit(domain.MethodUpdateRoom, d)
	}
	c.route(p, d.To, domain.MethodUpdateRoom, rawData(req.Data))
	ack(nil, nil)
	return nil
}

func (c *ChatRoom) handleDeleteRoom(p *Peer, req domain.Request, ack core.AckFunc) error {
	var d domain.DeleteRoomData
	if err := req.Decode(&d); err != nil {
		return err
	}
	c.emit(domain.MethodDeleteRoom, d)
	c.route(p, d.To, domain.MethodDeleteRoom, rawData(req.Data))
	ack(nil, nil)
	return nil
}

func (c *ChatRoom) handleUpdateStatus(p *Peer, req domain.Request, ack core.AckFunc) error {
	var d domain.UpdateStatusData
	if err := req.Decode(&d); err != nil {
		return err
	}
	c.emit(domain.MethodUpdateStatus, d)
	c.route(p, d.To, domain.MethodUpdateStatus, rawData(req.Data))
	ack(nil, nil)
	return nil
}

func (c *ChatRoom) handlePeerUpdate(p *Peer, req domain.Request, ack core.AckFunc) error {
	var d domain.PeerUpdateData
	if err := req.Decode(&d); err != nil {
		return err
	}
	c.emit(domain.MethodPeerUpdate, d)
	c.route(p, d.To, domain.MethodPeerUpdate, rawData(req.Data))
	ack(nil, nil)
	return nil
}

// setField returns raw with key set to v, leaving every other field as sent.
func setField(raw json.RawMessage, key string, v any) (json.RawMessage, error) {
	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, domain.NewError(domain.CodeBadRequest, "data must be an object")
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", key, err)
	}
	fields[key] = b
	out, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("encode data: %w", err)
	}
	return out, nil
}

// rawData keeps absent payloads out of notifications.
func rawData(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return raw
}
