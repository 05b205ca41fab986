package app

import (
	"testing"
	"time"

	"github.com/dkeye/roomchat/internal/core"
	"github.com/dkeye/roomchat/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newTestServer(sink core.EventSink) (*Server, *fakeHub) {
	cfg := ServerConfig{Room: RoomConfig{Liveness: LivenessConfig{Interval: time.Hour}}}
	return NewServer(cfg, core.Inline{}, sink, zerolog.Nop()), newFakeHub()
}

func connect(s *Server, hub *fakeHub, user string) *fakeConn {
	c := hub.conn(user)
	s.HandleConnection(c)
	return c
}

// enterRoom runs newRoom for user on its own connection and joins the room.
func enterRoom(t *testing.T, c *fakeConn, room domain.RoomID, user string) {
	t.Helper()
	res := c.lobby(t, domain.MethodNewRoom, domain.NewRoomData{RoomID: room, UserID: domain.UserID(user)})
	require.NoError(t, res.Err)
	res = c.room(t, room, domain.MethodJoin, nil)
	require.NoError(t, res.Err)
}

func peerIDs(infos []domain.PeerInfo) []domain.UserID {
	out := make([]domain.UserID, 0, len(infos))
	for _, i := range infos {
		out = append(out, i.ID)
	}
	return out
}
