package ws

import (
	"encoding/json"

	"github.com/dkeye/roomchat/internal/domain"
)

// RequestFrame is what a client sends. ID 0 means no ack is wanted.
type RequestFrame struct {
	Event string         `json:"event"`
	ID    uint64         `json:"id,omitempty"`
	Room  string         `json:"room,omitempty"`
	Data  domain.Request `json:"data"`
}

// EventFrame is a server-initiated message.
type EventFrame struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// AckFrame answers the request with the same id.
type AckFrame struct {
	Ack   uint64             `json:"ack"`
	Error *domain.CodedError `json:"error,omitempty"`
	Data  any                `json:"data,omitempty"`
}

// InboundFrame is the union a client decodes every message into.
type InboundFrame struct {
	Event string             `json:"event,omitempty"`
	Ack   uint64             `json:"ack,omitempty"`
	Error *domain.CodedError `json:"error,omitempty"`
	Data  json.RawMessage    `json:"data,omitempty"`
}

// IsAck reports whether the frame answers a request.
func (f InboundFrame) IsAck() bool { return f.Event == "" && f.Ack != 0 }
