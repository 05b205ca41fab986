// Package core holds the contracts between the session core and its
// collaborators: the transport, the upward event sink and the event loop.
package core

import (
	"github.com/dkeye/roomchat/internal/domain"
)

// AckFunc answers a request. It is safe to call more than once; only the
// first call reaches the client.
type AckFunc func(err error, data any)

// RequestHandler receives one decoded request with its ack.
type RequestHandler func(req domain.Request, ack AckFunc)

// Conn is one client connection as seen by the core.
// Owned by the transport adapter; every method must be called from the event loop.
type Conn interface {
	// ID is the transport-level connection id, not the user id.
	ID() string
	// Address is the remote address captured at handshake.
	Address() string
	// Query returns a handshake parameter.
	Query(key string) string
	Connected() bool

	Emit(event string, payload any) error
	Join(group string)
	Leave(group string)
	// BroadcastTo sends to every member of group except this connection.
	BroadcastTo(group, event string, payload any)
	// Disconnect force-closes the connection. Disconnect listeners still fire.
	Disconnect()

	// Handle installs the handler for (event, key), replacing any previous one.
	Handle(event, key string, h RequestHandler)
	Unhandle(event, key string)
	// OnDisconnect and OnError install keyed listeners, replacing by key.
	OnDisconnect(key string, fn func(reason string))
	OnError(key string, fn func(err error))
	// Unlisten drops the disconnect and error listeners for key.
	Unlisten(key string)
}

// EventSink receives domain events emitted upward by rooms, e.g. for
// persistence by the owning process. Emit must not block.
//
//go:generate mockgen -destination=mocks/mock_sink.go -package=mocks github.com/dkeye/roomchat/internal/core EventSink
type EventSink interface {
	Emit(event string, data any)
}

// SinkFunc adapts a function to EventSink.
type SinkFunc func(event string, data any)

func (f SinkFunc) Emit(event string, data any) { f(event, data) }

// MultiSink fans an event out to every sink in order.
type MultiSink []EventSink

func (m MultiSink) Emit(event string, data any) {
	for _, s := range m {
		if s != nil {
			s.Emit(event, data)
		}
	}
}
