package http

import (
	"context"
	nethttp "net/http"
	"time"

	"github.com/dkeye/roomchat/internal/adapters/ws"
	"github.com/dkeye/roomchat/internal/app"
	"github.com/dkeye/roomchat/internal/config"
	"github.com/dkeye/roomchat/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

const (
	sessionName   = "RoomchatSessions"
	sessionUserID = "userId"
	diagTimeout   = 2 * time.Second
)

// Runner executes fn on the goroutine owning room state.
type Runner interface {
	Do(ctx context.Context, fn func()) error
}

type sessionRequest struct {
	UserID string `json:"userId" binding:"required,max=128"`
}

func SetupRouter(cfg *config.Config, loop Runner, srv *app.Server, hub *ws.Hub, logger zerolog.Logger) *gin.Engine {
	log := logger.With().Str("module", "adapters.http").Logger()
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	store.Options(sessions.Options{Path: "/", MaxAge: 3600 * 24 * 7, HttpOnly: true})
	r.Use(sessions.Sessions(sessionName, store))

	r.Static("/static", cfg.StaticPath)
	r.GET("/", func(c *gin.Context) {
		c.File(cfg.StaticPath + "/index.html")
	})
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(nethttp.StatusOK, gin.H{"status": "ok", "connections": hub.Len()})
	})

	log.Info().Str("static", cfg.StaticPath).Msg("router setup")

	api := r.Group("/api")

	// POST /api/session binds a user id to the cookie session so browsers
	// can connect without putting it in the URL.
	api.POST("/session", func(c *gin.Context) {
		var req sessionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(nethttp.StatusBadRequest, gin.H{"error": "missing or invalid userId"})
			return
		}
		s := sessions.Default(c)
		s.Set(sessionUserID, req.UserID)
		if err := s.Save(); err != nil {
			log.Error().Err(err).Msg("session save")
			c.JSON(nethttp.StatusInternalServerError, gin.H{"error": "session not saved"})
			return
		}
		c.JSON(nethttp.StatusOK, gin.H{"userId": req.UserID})
	})

	api.GET("/session", func(c *gin.Context) {
		id, _ := sessions.Default(c).Get(sessionUserID).(string)
		if id == "" {
			c.JSON(nethttp.StatusNotFound, gin.H{"error": "no session"})
			return
		}
		c.JSON(nethttp.StatusOK, gin.H{"userId": id})
	})

	// GET /api/ws?userId={id}; the cookie session is the fallback.
	api.GET("/ws", func(c *gin.Context) {
		query := c.Request.URL.Query()
		if query.Get(app.QueryUserID) == "" {
			if id, _ := sessions.Default(c).Get(sessionUserID).(string); id != "" {
				query.Set(app.QueryUserID, id)
			}
		}
		hs := ws.Handshake{Address: c.ClientIP(), Query: query}
		if err := hub.Accept(c.Writer, c.Request, hs); err != nil {
			log.Error().Err(err).Msg("ws upgrade")
		}
	})

	api.GET("/lobby", func(c *gin.Context) {
		var rep domain.RoomStatus
		if !runDiag(c, loop, func() { rep = srv.Lobby().StatusReport(time.Now()) }) {
			return
		}
		c.JSON(nethttp.StatusOK, rep)
	})

	api.GET("/rooms", func(c *gin.Context) {
		var reps []domain.RoomStatus
		if !runDiag(c, loop, func() { reps = srv.Lobby().RoomReports(time.Now()) }) {
			return
		}
		c.JSON(nethttp.StatusOK, gin.H{"rooms": reps})
	})

	return r
}

func runDiag(c *gin.Context, loop Runner, fn func()) bool {
	ctx, cancel := context.WithTimeout(c.Request.Context(), diagTimeout)
	defer cancel()
	if err := loop.Do(ctx, fn); err != nil {
		c.JSON(nethttp.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return false
	}
	return true
}
