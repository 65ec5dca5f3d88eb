package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/coursedeck/liveclass/internal/config"
	"github.com/coursedeck/liveclass/internal/logging"
	"github.com/coursedeck/liveclass/internal/metrics"
	"github.com/coursedeck/liveclass/internal/server"
	"github.com/coursedeck/liveclass/internal/signaling"
)

func main() {
	// A missing .env is fine; the environment may be set by the deployment.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		bootLog := logging.New(logging.Config{})
		bootLog.Fatal().Err(err).Msg("invalid configuration")
	}

	log := logging.New(logging.Config{Level: cfg.LogLevel, JSON: cfg.LogJSON})
	metrics.Register()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := signaling.NewHub(logging.WithComponent(log, "hub"), cfg.ChatHistoryRetention)
	go hub.Run(ctx)

	srv := &http.Server{
		Addr:    cfg.Addr(),
		Handler: server.Handler(hub, cfg, logging.WithComponent(log, "server")),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("shutdown error")
		}
	}()

	log.Info().Str("addr", cfg.Addr()).Msg("starting signaling server")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("server failed")
	}
	log.Info().Msg("server stopped")
}
