package app

import (
	"context"
	"time"

	"github.com/dkeye/roomchat/internal/core"
	"github.com/dkeye/roomchat/internal/domain"
	"github.com/rs/zerolog"
)

// QueryUserID is the handshake parameter carrying the caller's identifier.
const QueryUserID = "userId"

type ServerConfig struct {
	LobbyID       domain.RoomID
	SweepInterval time.Duration
	Room          RoomConfig
}

// Server accepts connections into the lobby and drives periodic room
// maintenance. Every method except Start must run on the event loop.
type Server struct {
	cfg    ServerConfig
	exec   core.Executor
	sink   core.EventSink
	lobby  *Lobby
	now    func() time.Time
	logger zerolog.Logger
}

func NewServer(cfg ServerConfig, exec core.Executor, sink core.EventSink, logger zerolog.Logger) *Server {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 100 * time.Second
	}
	if cfg.LobbyID == "" {
		cfg.LobbyID = domain.DefaultLobbyID
	}
	cfg.Room = cfg.Room.withDefaults()
	return &Server{
		cfg:    cfg,
		exec:   exec,
		sink:   sink,
		now:    time.Now,
		logger: logger,
	}
}

// Lobby returns the lobby, building it on first use. A lobby that closed
// after its last peer left is replaced and its open chat rooms carried over.
func (s *Server) Lobby() *Lobby {
	if s.lobby != nil && !s.lobby.Closed() {
		return s.lobby
	}
	prev := s.lobby
	s.lobby = NewLobby(s.cfg.LobbyID, s.sink, s.cfg.Room, s.exec, s.logger)
	if prev != nil {
		s.lobby.adopt(prev)
	}
	return s.lobby
}

// HandleConnection admits conn into the lobby under the identifier from its
// handshake, taking over any existing lobby peer with the same id.
func (s *Server) HandleConnection(conn core.Conn) {
	log := s.logger.With().Str("module", "app.server").Str("sid", conn.ID()).Logger()
	id, err := domain.ParseUserID(conn.Query(QueryUserID))
	if err != nil {
		log.Warn().Err(err).Msg("connection rejected")
		conn.Disconnect()
		return
	}
	lobby := s.Lobby()
	if p, ok := lobby.Peer(id); ok {
		p.Reconnect(conn, true)
		log.Info().Str("peer_id", string(id)).Msg("peer reconnected to lobby")
		return
	}
	p := NewPeer(id, conn, s.exec, s.cfg.Room.Liveness, s.logger)
	lobby.Attach(p)
	log.Info().Str("peer_id", string(id)).Msg("new peer in lobby")
}

// Emit pushes an event to the upward sink.
func (s *Server) Emit(event string, data any) {
	if s.sink != nil {
		s.sink.Emit(event, data)
	}
}

// Start runs the chat room sweep and the lobby status log until ctx ends.
func (s *Server) Start(ctx context.Context) error {
	log := s.logger.With().Str("module", "app.server").Logger()
	t := time.NewTicker(s.cfg.SweepInterval)
	defer t.Stop()
	log.Info().Dur("interval", s.cfg.SweepInterval).Msg("room sweeper started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("room sweeper stopped")
			return nil
		case <-t.C:
			s.exec.Post(s.tick)
		}
	}
}

func (s *Server) tick() {
	now := s.now()
	if s.lobby != nil {
		s.lobby.Sweep(now)
	}
	active := s.lobby != nil && !s.lobby.Closed()
	if active {
		s.logger.Debug().Str("module", "app.server").Interface("status", s.lobby.StatusReport(now)).Msg("lobby report")
	}
	s.logger.Info().Str("module", "app.server").Bool("active", active).Msg("lobby status")
}
