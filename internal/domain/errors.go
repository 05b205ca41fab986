package domain

import "errors"

// Codes carried in error acks.
const (
	CodeRoomClosed        = "ROOM_CLOSED"
	CodeNotInRoom         = "NOT_IN_ROOM"
	CodeRoomMismatch      = "ROOM_MISMATCH"
	CodeUnsupportedMethod = "UNSUPPORTED_METHOD"
	CodeBadRequest        = "BAD_REQUEST"
	CodeRateLimited       = "RATE_LIMITED"
	CodeAmbiguousRoom     = "AMBIGUOUS_ROOM"
	CodeNoHandler         = "NO_HANDLER"
	CodeInternal          = "INTERNAL"
)

// CodedError is the only error shape that reaches a client.
type CodedError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewError(code, msg string) *CodedError {
	return &CodedError{Code: code, Message: msg}
}

func (e *CodedError) Error() string { return e.Code + ": " + e.Message }

// Is matches on code so wrapped sentinels compare equal.
func (e *CodedError) Is(target error) bool {
	var t *CodedError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

var (
	ErrRoomClosed        = NewError(CodeRoomClosed, "room is closed")
	ErrNotInRoom         = NewError(CodeNotInRoom, "peer is not a member of the room")
	ErrRoomMismatch      = NewError(CodeRoomMismatch, "message addressed to another room")
	ErrUnsupportedMethod = NewError(CodeUnsupportedMethod, "unsupported method")
	ErrRateLimited       = NewError(CodeRateLimited, "too many requests")
	ErrAmbiguousRoom     = NewError(CodeAmbiguousRoom, "connection is attached to several rooms, set the room field")
	ErrNoHandler         = NewError(CodeNoHandler, "no handler for event")
)

// AsCoded converts any error to a CodedError for the wire.
func AsCoded(err error) *CodedError {
	if err == nil {
		return nil
	}
	var ce *CodedError
	if errors.As(err, &ce) {
		return ce
	}
	return NewError(CodeInternal, err.Error())
}
