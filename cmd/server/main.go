package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	router "github.com/dkeye/roomchat/internal/adapters/http"
	"github.com/dkeye/roomchat/internal/adapters/natsrelay"
	"github.com/dkeye/roomchat/internal/adapters/ws"
	"github.com/dkeye/roomchat/internal/app"
	"github.com/dkeye/roomchat/internal/config"
	"github.com/dkeye/roomchat/internal/core"
	"github.com/dkeye/roomchat/internal/domain"
)

func main() {
	root := &cobra.Command{
		Use:          "roomchat",
		Short:        "Room-based chat session server",
		SilenceUsage: true,
		RunE:         run,
	}
	root.Flags().Int("port", 8080, "HTTP listen port")
	root.Flags().String("mode", "release", "gin mode (debug or release)")
	root.Flags().String("config-env", "", "config profile, reads config/config.<env>.yaml")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		log.Error().Err(err).Msg("failed to load config")
		return err
	}
	setupLogging(cfg)
	logger := log.Logger

	loop := core.NewEventLoop(4096, logger)

	sinks := core.MultiSink{app.NewLogSink(logger)}
	if cfg.NATS.URL != "" {
		pub, err := natsrelay.Connect(cfg.NATS.URL, cfg.NATS.SubjectPrefix, logger)
		if err != nil {
			return err
		}
		defer pub.Close()
		sinks = append(sinks, pub)
	}

	srv := app.NewServer(app.ServerConfig{
		LobbyID:       domain.RoomID(cfg.Rooms.LobbyID),
		SweepInterval: cfg.Rooms.SweepInterval,
		Room: app.RoomConfig{
			IdleTimeout: cfg.Rooms.IdleTimeout,
			Liveness: app.LivenessConfig{
				Interval:  cfg.Rooms.LivenessInterval,
				MaxChecks: cfg.Rooms.LivenessMaxChecks,
			},
		},
	}, loop, sinks, logger)

	hub := ws.NewHub(ws.Config{
		ReadLimit:      cfg.ReadLimit,
		PingPeriod:     cfg.PingPeriod,
		SendBuffer:     cfg.SendBuffer,
		RatePerSecond:  cfg.RateLimit.PerSecond,
		RateBurst:      cfg.RateLimit.Burst,
		AllowedOrigins: cfg.AllowedOrigins,
		Policy:         ws.ParsePolicy(cfg.SlowConsumer),
	}, loop, srv.HandleConnection, logger)

	r := router.SetupRouter(cfg, loop, srv, hub, logger)
	addr := fmt.Sprintf(":%d", cfg.Port)
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return loop.Run(gctx) })
	g.Go(func() error { return srv.Start(gctx) })
	g.Go(func() error {
		log.Info().Str("addr", addr).Msg("roomchat server started")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server forced to shutdown")
		}
		hub.Close()
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("server stopped with error")
		return err
	}
	log.Info().Msg("Server exited gracefully")
	return nil
}

// setupLogging keeps the console writer in debug mode and switches to JSON
// otherwise.
func setupLogging(cfg *config.Config) {
	if cfg.Mode != "debug" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}
