package domain

import "encoding/json"

// MessageStatus of a chat message record.
type MessageStatus string

const (
	StatusSent     MessageStatus = "sent"
	StatusPending  MessageStatus = "pending"
	StatusFailed   MessageStatus = "failed"
	StatusReceived MessageStatus = "recieved"
	StatusViewed   MessageStatus = "viewed"
)

// ChatMessageData is the client payload of chatMessage.
type ChatMessageData struct {
	ID          string          `json:"id"`
	ChatMessage string          `json:"chatMessage"`
	CreateTime  json.RawMessage `json:"createTime,omitempty"`
	To          string          `json:"to"`
	WhoType     string          `json:"whoType,omitempty"`
	RoomID      RoomID          `json:"roomId"`
}

// MessageRecord is what a chat room emits upward for every accepted message.
type MessageRecord struct {
	ID         string          `json:"id"`
	SenderID   UserID          `json:"peerInfo"`
	RoomID     RoomID          `json:"roomId"`
	Text       string          `json:"msg"`
	CreateTime json.RawMessage `json:"createTime,omitempty"`
	Received   []UserID        `json:"recieved"`
	Viewed     []UserID        `json:"viewed"`
	Who        string          `json:"who"`
	WhoType    string          `json:"whoType,omitempty"`
	Status     MessageStatus   `json:"status"`
	Deleted    bool            `json:"deleted"`
}

type DeleteMessageData struct {
	To      string `json:"to"`
	Deleted bool   `json:"deleted"`
	ID      string `json:"id"`
}

type UpdateRoomData struct {
	To       string          `json:"to"`
	RoomData json.RawMessage `json:"roomData,omitempty"`
	Add      bool            `json:"add"`
}

type DeleteRoomData struct {
	To     string `json:"to"`
	RoomID RoomID `json:"roomId,omitempty"`
}

type UpdateStatusData struct {
	To          string          `json:"to"`
	ID          string          `json:"id"`
	Status      json.RawMessage `json:"status,omitempty"`
	StatusField string          `json:"statusField,omitempty"`
	StatusQuo   json.RawMessage `json:"statusQuo,omitempty"`
}

type PeerUpdateData struct {
	To       string          `json:"to"`
	PeerInfo json.RawMessage `json:"peerInfo,omitempty"`
}

// NewRoomData is the payload of a lobby newRoom request.
type NewRoomData struct {
	RoomID RoomID `json:"roomId"`
	UserID UserID `json:"userId"`
	To     string `json:"to"`
}
