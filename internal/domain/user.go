// Package domain contains identifiers, wire envelopes and errors, no logic.
package domain

import "errors"

const MaxUserIDLen = 128

var (
	ErrUserIDEmpty   = errors.New("user id empty")
	ErrUserIDTooLong = errors.New("user id too long")
)

type UserID string

// ParseUserID validates a caller-supplied identifier from the handshake.
func ParseUserID(raw string) (UserID, error) {
	if len(raw) == 0 {
		return "", ErrUserIDEmpty
	}
	if len(raw) > MaxUserIDLen {
		return "", ErrUserIDTooLong
	}
	return UserID(raw), nil
}

// PeerInfo is the presence snapshot of a peer. Nothing else about a user
// travels through the server.
type PeerInfo struct {
	ID           UserID  `json:"id"`
	Address      string  `json:"address"`
	DurationTime float64 `json:"durationTime"`
}
