package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lgulliver/ncchup/internal/storage"
	"github.com/lgulliver/ncchup/internal/stub"
	"github.com/lgulliver/ncchup/pkg/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// Load configuration
	cfg := config.LoadFromEnv()
	cfg.Logging.SetupLogging()

	script, err := stub.ParseScript(cfg.Stub.Script)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid STUB_SCRIPT")
	}

	if zerolog.GlobalLevel() <= zerolog.DebugLevel {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sessions := stub.NewSessionManager(script, cfg.Stub.MaxSessions, cfg.Stub.SessionTimeout)
	if cfg.Stub.CaptureDir != "" {
		store, err := storage.NewLocalStorage(cfg.Stub.CaptureDir)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize capture storage")
		}
		sessions.SetCapture(store)
	}
	go sessions.RunCleanup(ctx, time.Minute)

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      stub.NewRouter(sessions),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in a goroutine
	go func() {
		log.Info().
			Str("addr", server.Addr).
			Int("requests", len(script.Requests)).
			Str("final", string(script.Final)).
			Msg("starting stub processing service")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	} else {
		log.Info().Msg("server shutdown complete")
	}
}
