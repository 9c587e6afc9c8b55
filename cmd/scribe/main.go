package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashahealth/dictation-gateway/internal/api"
	"github.com/ashahealth/dictation-gateway/internal/config"
	"github.com/ashahealth/dictation-gateway/internal/notes"
	"github.com/ashahealth/dictation-gateway/internal/observability"
	"github.com/ashahealth/dictation-gateway/internal/session"
	"github.com/ashahealth/dictation-gateway/internal/storage"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("port", cfg.Port).
		Str("model", cfg.DeepgramModel).
		Str("log_level", cfg.LogLevel).
		Bool("transcription_configured", cfg.TranscriptionConfigured()).
		Bool("note_generation_configured", cfg.NoteGenerationConfigured()).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Dictation gateway starting")

	// Open the local recording store
	store, err := storage.NewStore(cfg.StorePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to open recording store")
	}
	defer func() { _ = store.Close() }()

	noteGateway := notes.NewGateway(cfg)
	controller := session.NewController(cfg, store, noteGateway)

	// Readiness probes: the store must answer, credentials must be present.
	checks := map[string]observability.CheckFunc{
		"store": func(ctx context.Context) (bool, error) {
			if _, err := store.List(); err != nil {
				return false, err
			}
			return true, nil
		},
		"transcription": func(ctx context.Context) (bool, error) {
			if !cfg.TranscriptionConfigured() {
				return false, fmt.Errorf("transcription credential missing")
			}
			return true, nil
		},
	}

	mux := api.NewMux(cfg, controller, store, checks)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("port", cfg.Port).Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down...")

	// Abandon any in-flight recording before the process exits.
	if err := controller.Reset(); err != nil {
		logger.Warn().Err(err).Msg("Failed to reset session on shutdown")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	logger.Info().Msg("Server exited gracefully")
}
