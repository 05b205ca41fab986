package domain

type RoomID string

// To value that addresses every member of a room.
const ToAll = "all"

// RoomStatus is a diagnostic view of a room.
type RoomStatus struct {
	ID          RoomID   `json:"id"`
	Peers       []UserID `json:"peers"`
	AgeSeconds  int64    `json:"ageSeconds"`
	IdleSeconds int64    `json:"idleSeconds"`
	Closed      bool     `json:"closed"`
}
